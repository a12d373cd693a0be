package cloesce

import (
	"context"
)

// HandlerFunc implements one API method. It is also the next step of an
// interceptor chain.
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

// Interceptor wraps handler execution.
//
//	func timing(ctx context.Context, call *cloesce.Call, next cloesce.HandlerFunc) (any, error) {
//	    start := time.Now()
//	    res, err := next(ctx, call)
//	    log.Printf("%s took %v", call.Endpoint(), time.Since(start))
//	    return res, err
//	}
//
// Interceptors can:
//   - Inspect or modify the call before calling next
//   - Inspect or replace the result after calling next
//   - Short-circuit by returning an error without calling next
//   - Add values to the context
type Interceptor func(ctx context.Context, call *Call, next HandlerFunc) (any, error)

// chainInterceptors combines interceptors around handler.
// The first interceptor in the slice is the outer-most one (runs first).
func chainInterceptors(interceptors []Interceptor, handler HandlerFunc) HandlerFunc {
	chain := handler
	for i := len(interceptors) - 1; i >= 0; i-- {
		current := interceptors[i]
		next := chain
		chain = func(ctx context.Context, call *Call) (any, error) {
			return current(ctx, call, next)
		}
	}
	return chain
}
