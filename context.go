package cloesce

import (
	"context"
	"net/http"
)

type contextKey struct {
	name string
}

var (
	requestKey = &contextKey{"request"}
	writerKey  = &contextKey{"writer"}
	callKey    = &contextKey{"call"}
)

// RequestFromContext returns the HTTP request from the context.
func RequestFromContext(ctx context.Context) *http.Request {
	if r, ok := ctx.Value(requestKey).(*http.Request); ok {
		return r
	}
	return nil
}

// SetHeader sets an HTTP response header.
// It requires that the handler was called by a Runtime.
func SetHeader(ctx context.Context, key, value string) {
	if w, ok := ctx.Value(writerKey).(http.ResponseWriter); ok {
		w.Header().Set(key, value)
	}
}

// CallFromContext returns the call being served.
func CallFromContext(ctx context.Context) (*Call, bool) {
	c, ok := ctx.Value(callKey).(*Call)
	return c, ok
}

// NewContext returns a context carrying call, as a Runtime builds it.
// It is useful to test interceptors.
func NewContext(ctx context.Context, call *Call) context.Context {
	return context.WithValue(ctx, callKey, call)
}

func newContext(ctx context.Context, w http.ResponseWriter, r *http.Request) context.Context {
	ctx = context.WithValue(ctx, writerKey, w)
	ctx = context.WithValue(ctx, requestKey, r)
	return ctx
}
