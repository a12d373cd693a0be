package cloesce

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sort"

	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/orm"
	"github.com/cloesce/cloesce/router"
	"github.com/cloesce/cloesce/validate"
)

// route is what a matched path resolves to.
type route struct {
	namespace string
	api       *idl.ApiMethod
	model     *idl.Model
	service   *idl.Service
	handler   HandlerFunc
	chain     HandlerFunc
	query     *queryBinding
}

// Runtime serves the API of one IDL document. It is immutable and safe for
// concurrent use.
type Runtime struct {
	ast                *idl.CloesceAst
	router             *router.Router[*route]
	validator          *validate.Validator
	orm                *orm.ORM
	objects            map[string]ObjectStore
	env                any
	injectables        map[string]any
	logger             *slog.Logger
	errorTransformer   ErrorTransformer
	maskInternalErrors bool
	validateResponses  bool
	maxRequestBodySize int64
}

func newRuntime(a *App) (*Runtime, error) {
	rt := &Runtime{
		ast:                a.ast,
		router:             router.New[*route](),
		validator:          validate.New(a.ast, copyRegistry(a.ctors)),
		objects:            make(map[string]ObjectStore, len(a.objects)),
		env:                a.env,
		injectables:        make(map[string]any, len(a.injectables)),
		logger:             a.logger,
		errorTransformer:   a.errorTransformer,
		maskInternalErrors: a.maskInternalErrors,
		validateResponses:  a.validateResponses,
		maxRequestBodySize: a.maxRequestBodySize,
	}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}
	if a.store != nil {
		rt.orm = orm.New(a.ast, a.store)
	}
	for k, v := range a.objects {
		rt.objects[k] = v
	}
	for k, v := range a.injectables {
		rt.injectables[k] = v
	}

	prefix := router.Split(a.prefix)
	add := func(r *route, segments ...string) error {
		handler := r.handler
		if handler == nil {
			handler = a.handlers[r.namespace+"."+r.api.Name]
		}
		if handler == nil {
			handler = notImplemented
		}
		interceptors := append(append([]Interceptor{}, a.interceptors...), a.nsInterceptors[r.namespace]...)
		r.chain = chainInterceptors(interceptors, handler)
		r.query = newQueryBinding(r.api)
		path := append(append(append([]string{}, prefix...), r.namespace), segments...)
		return rt.router.Insert(path, r)
	}

	for _, name := range a.ast.ModelNames() {
		m := a.ast.Models[name]
		keys := make([]string, len(m.KeySegments()))
		for i := range keys {
			keys[i] = router.Param
		}
		for _, mname := range sortedMethods(m.Methods) {
			api := m.Methods[mname]
			segs := []string{mname}
			if !api.IsStatic {
				segs = append(append([]string{}, keys...), mname)
			}
			if err := add(&route{namespace: name, api: api, model: m}, segs...); err != nil {
				return nil, err
			}
		}
		for _, kind := range m.Cruds {
			if !m.IsD1() {
				return nil, fmt.Errorf("cloesce: %s has no table for %s", name, kind)
			}
			r := &route{namespace: name, api: crudMethod(m, kind), model: m, handler: rt.crudHandler(kind)}
			segs := []string{string(kind)}
			if kind == idl.CrudGet {
				segs = []string{router.Param, string(kind)}
			}
			if err := add(r, segs...); err != nil {
				return nil, err
			}
		}
	}
	for _, name := range a.ast.ServiceNames() {
		s := a.ast.Services[name]
		for _, mname := range sortedMethods(s.Methods) {
			if err := add(&route{namespace: name, api: s.Methods[mname], service: s}, mname); err != nil {
				return nil, err
			}
		}
	}
	return rt, nil
}

func copyRegistry(r validate.Registry) validate.Registry {
	out := make(validate.Registry, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func sortedMethods(methods map[string]*idl.ApiMethod) []string {
	names := make([]string, 0, len(methods))
	for n := range methods {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func notImplemented(ctx context.Context, call *Call) (any, error) {
	return nil, Errorf(CodeNotImplemented, "%s has no handler", call.Endpoint())
}

// AST returns the document the runtime serves.
func (rt *Runtime) AST() *idl.CloesceAst { return rt.ast }

// Validator returns the runtime validator, bound to the registered
// constructors.
func (rt *Runtime) Validator() *validate.Validator { return rt.validator }

// ORM returns the ORM over the bound store, or nil without one.
func (rt *Runtime) ORM() *orm.ORM { return rt.orm }

// ServeHTTP dispatches one request. Every outcome, including a panic, is
// written as a result envelope.
func (rt *Runtime) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			rt.logger.Error("PANIC recovered",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			rt.handleError(w, NewError(CodeInternal, fmt.Sprintf("internal server error (panic): %v", rec)))
		}
	}()

	match, err := rt.router.Match(req.URL.Path)
	if err != nil {
		rt.handleError(w, err)
		return
	}
	r := match.Handler
	if req.Method != string(r.api.HttpVerb) {
		rt.handleError(w, Errorf(CodeMethodNotAllowed, "method %s not allowed, expected %s", req.Method, r.api.HttpVerb))
		return
	}
	if rt.maxRequestBodySize > 0 && req.Body != nil {
		req.Body = http.MaxBytesReader(w, req.Body, rt.maxRequestBodySize)
	}

	ctx := newContext(req.Context(), w, req)
	call, err := rt.prepare(ctx, req, r, match.Params)
	if err != nil {
		rt.handleError(w, err)
		return
	}
	ctx = NewContext(ctx, call)

	res, err := r.chain(ctx, call)
	if err != nil {
		rt.handleError(w, err)
		return
	}
	if err := rt.writeResponse(w, r.api, res); err != nil {
		rt.handleError(w, err)
	}
}

// prepare validates the parameters and resolves injections and the
// instance of a call.
func (rt *Runtime) prepare(ctx context.Context, req *http.Request, r *route, keys []string) (*Call, error) {
	raw, ds, err := rawParams(req, r.api, r.query)
	if err != nil {
		return nil, err
	}
	if ds == "" {
		ds = idl.NoDataSource
	}
	call := &Call{
		Namespace:  r.namespace,
		Method:     r.api.Name,
		Static:     r.api.IsStatic,
		Keys:       keys,
		DataSource: ds,
		Request:    req,
		Injected:   make(map[string]any, len(r.api.Injected)),
		runtime:    rt,
	}
	if r.model != nil && r.model.IsD1() {
		if _, err := rt.validator.Validate(ds, idl.DataSource{Model: r.model.Name}); err != nil {
			return nil, prefixPath(err, DataSourceParam)
		}
	}
	if call.Params, err = rt.validateParams(raw, r.api); err != nil {
		return nil, err
	}
	for _, p := range r.api.Injected {
		v, err := rt.inject(req, p.Type)
		if err != nil {
			return nil, err
		}
		call.Injected[p.Name] = v
	}
	if r.api.IsStatic {
		return call, nil
	}
	switch {
	case r.model != nil:
		call.Instance, err = rt.hydrate(ctx, r.model, keys, ds)
	case r.service != nil:
		call.Instance, err = rt.serviceInstance(req, r.service)
	}
	if err != nil {
		return nil, err
	}
	return call, nil
}

func (rt *Runtime) inject(req *http.Request, t idl.CidlType) (any, error) {
	in, ok := t.(idl.Inject)
	if !ok {
		return nil, Errorf(CodeInternal, "%s is not injectable", t)
	}
	if v, ok := rt.injectables[in.Name]; ok {
		return v, nil
	}
	switch {
	case in.Name == "Request":
		return req, nil
	case rt.ast.WranglerEnv != nil && in.Name == rt.ast.WranglerEnv.Name && rt.env != nil:
		return rt.env, nil
	}
	return nil, Errorf(CodeInternal, "nothing to inject for %s", in.Name)
}

func (rt *Runtime) serviceInstance(req *http.Request, s *idl.Service) (any, error) {
	ctor, ok := rt.ctor(s.Name)
	if !ok {
		return nil, nil
	}
	fields := make(map[string]any, len(s.Attributes))
	for _, a := range s.Attributes {
		v, err := rt.inject(req, a.Type)
		if err != nil {
			return nil, err
		}
		fields[a.Name] = v
	}
	return ctor(fields)
}

func (rt *Runtime) ctor(name string) (validate.Constructor, bool) {
	return rt.validator.Constructor(name)
}

func (rt *Runtime) handleError(w http.ResponseWriter, err error) {
	var svcErr *Error
	if rt.errorTransformer != nil {
		svcErr = rt.errorTransformer(err)
	}
	if svcErr == nil {
		svcErr = DefaultErrorTransformer(err)
	}
	if svcErr.Code == CodeInternal {
		rt.logger.Error("internal error", slog.Any("error", err))
		if rt.maskInternalErrors {
			svcErr = NewError(CodeInternal, "internal server error")
		}
	}
	writeError(w, svcErr, rt.logger)
}

func (rt *Runtime) writeResponse(w http.ResponseWriter, api *idl.ApiMethod, res any) error {
	if api.ReturnMedia == idl.MediaOctet {
		switch body := res.(type) {
		case io.Reader:
			w.Header().Set("Content-Type", "application/octet-stream")
			w.WriteHeader(http.StatusOK)
			_, err := io.Copy(w, body)
			if c, ok := body.(io.Closer); ok {
				c.Close()
			}
			if err != nil {
				rt.logger.Error("failed to stream response", slog.Any("error", err))
			}
			return nil
		case []byte:
			w.Header().Set("Content-Type", "application/octet-stream")
			w.WriteHeader(http.StatusOK)
			_, err := w.Write(body)
			if err != nil {
				rt.logger.Error("failed to write response", slog.Any("error", err))
			}
			return nil
		}
	}

	env := envelope{OK: true, Status: http.StatusOK, Data: res}
	if r, ok := res.(resulter); ok {
		env = r.result()
	}
	if env.OK && rt.validateResponses {
		if err := rt.checkResponse(env.Data, api.ReturnType); err != nil {
			return err
		}
	}
	if err := writeResult(w, env); err != nil {
		rt.logger.Error("failed to encode response", slog.Any("error", err))
	}
	return nil
}

func (rt *Runtime) checkResponse(data any, t idl.CidlType) error {
	if h, ok := t.(idl.HttpResult); ok {
		t = h.Inner
	}
	if t == idl.Void || t == idl.Stream {
		return nil
	}
	wire, err := toWire(data)
	if err != nil {
		return Errorf(CodeInternal, "encode response: %v", err)
	}
	if err := rt.validator.Check(wire, t); err != nil {
		return Errorf(CodeInternal, "response does not match %s: %v", t, err)
	}
	return nil
}
