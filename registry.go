package cloesce

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/orm"
	"github.com/cloesce/cloesce/validate"
)

// DefaultPrefix is the path prefix of every route unless WithPrefix
// changes it.
const DefaultPrefix = "api"

// App collects what a Runtime needs: the IDL, the constructors, the
// handlers and the bindings. It is a builder and is not safe for concurrent
// use; Build freezes it into an immutable Runtime.
type App struct {
	ast                *idl.CloesceAst
	ctors              validate.Registry
	handlers           map[string]HandlerFunc
	interceptors       []Interceptor
	nsInterceptors     map[string][]Interceptor
	middlewares        []func(http.Handler) http.Handler
	logger             *slog.Logger
	prefix             string
	store              orm.Store
	objects            map[string]ObjectStore
	env                any
	injectables        map[string]any
	errorTransformer   ErrorTransformer
	maskInternalErrors bool
	validateResponses  bool
	maxRequestBodySize int64
}

// NewApp returns an App serving the models and services of ast.
func NewApp(ast *idl.CloesceAst) *App {
	return &App{
		ast:                ast,
		ctors:              validate.Registry{},
		handlers:           make(map[string]HandlerFunc),
		nsInterceptors:     make(map[string][]Interceptor),
		prefix:             DefaultPrefix,
		objects:            make(map[string]ObjectStore),
		injectables:        make(map[string]any),
		maxRequestBodySize: 1 << 20, // 1MB default
	}
}

// WithStore binds the relational store used for models and CRUD routes.
func (a *App) WithStore(store orm.Store) *App {
	a.store = store
	return a
}

// WithEnv sets the value injected wherever the env type is requested.
func (a *App) WithEnv(env any) *App {
	a.env = env
	return a
}

// WithObjectStore binds a key-value namespace or blob bucket by its env
// binding name.
func (a *App) WithObjectStore(binding string, store ObjectStore) *App {
	a.objects[binding] = store
	return a
}

// WithInjectable sets the value injected for Inject(name).
func (a *App) WithInjectable(name string, value any) *App {
	a.injectables[name] = value
	return a
}

// WithLogger sets a custom logger for the app.
// If not set, slog.Default() will be used.
func (a *App) WithLogger(logger *slog.Logger) *App {
	a.logger = logger
	return a
}

// WithPrefix sets the path prefix of every route, "api" by default.
func (a *App) WithPrefix(prefix string) *App {
	a.prefix = prefix
	return a
}

// WithInterceptor adds a global interceptor. Global interceptors run before
// namespace interceptors, each in the order they were added.
func (a *App) WithInterceptor(i Interceptor) *App {
	a.interceptors = append(a.interceptors, i)
	return a
}

// WithNamespaceInterceptor adds an interceptor for the methods of one model
// or service.
func (a *App) WithNamespaceInterceptor(namespace string, i Interceptor) *App {
	a.nsInterceptors[namespace] = append(a.nsInterceptors[namespace], i)
	return a
}

// WithMiddleware adds an HTTP middleware to wrap the app.
// Middleware is applied in the order added (first added is outermost).
func (a *App) WithMiddleware(mw func(http.Handler) http.Handler) *App {
	a.middlewares = append(a.middlewares, mw)
	return a
}

// WithErrorTransformer adds a custom error transformer.
func (a *App) WithErrorTransformer(fn ErrorTransformer) *App {
	a.errorTransformer = fn
	return a
}

// WithMaskInternalErrors hides the message of internal errors from callers.
// The original error is still logged.
func (a *App) WithMaskInternalErrors() *App {
	a.maskInternalErrors = true
	return a
}

// WithResponseValidation checks every result against the declared return
// type before it is written.
func (a *App) WithResponseValidation() *App {
	a.validateResponses = true
	return a
}

// WithMaxRequestBodySize limits request bodies. 0 means no limit.
func (a *App) WithMaxRequestBodySize(size int64) *App {
	a.maxRequestBodySize = size
	return a
}

// Register sets the constructor of a model, plain old object or service.
// Validated values of that type are instantiated through it. Without one
// they stay in map form. A service constructor receives its injected
// attributes.
func (a *App) Register(name string, ctor validate.Constructor) *App {
	a.ctors[name] = ctor
	return a
}

// Handle sets the implementation of namespace.method, where namespace is a
// model or service name.
func (a *App) Handle(namespace, method string, fn HandlerFunc) *App {
	a.handlers[namespace+"."+method] = fn
	return a
}

// Build validates the configuration and returns the Runtime.
func (a *App) Build() (*Runtime, error) {
	for key := range a.handlers {
		if a.lookup(key) == nil {
			return nil, fmt.Errorf("cloesce: no method %s in %s", key, a.ast.ProjectName)
		}
	}
	for name := range a.ctors {
		_, model := a.ast.Models[name]
		_, poo := a.ast.Poos[name]
		_, service := a.ast.Services[name]
		if !model && !poo && !service {
			return nil, fmt.Errorf("cloesce: constructor for unknown type %s", name)
		}
	}
	return newRuntime(a)
}

// Handler returns an http.Handler for use with http.ListenAndServe or other
// HTTP servers. The returned handler includes all configured middleware.
// It panics if Build fails.
//
// Example:
//
//	app := cloesce.NewApp(ast).WithStore(db).WithMiddleware(cors)
//	http.ListenAndServe(":8080", app.Handler())
func (a *App) Handler() http.Handler {
	rt, err := a.Build()
	if err != nil {
		panic(err)
	}
	var h http.Handler = rt
	// Apply middleware in reverse order so first added is outermost
	for i := len(a.middlewares) - 1; i >= 0; i-- {
		h = a.middlewares[i](h)
	}
	return h
}

func (a *App) lookup(key string) *idl.ApiMethod {
	for _, name := range a.ast.ModelNames() {
		for mname, m := range a.ast.Models[name].Methods {
			if name+"."+mname == key {
				return m
			}
		}
	}
	for _, name := range a.ast.ServiceNames() {
		for mname, m := range a.ast.Services[name].Methods {
			if name+"."+mname == key {
				return m
			}
		}
	}
	return nil
}
