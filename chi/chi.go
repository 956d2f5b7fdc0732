// Package chi provides modulo integration for the Chi router.
//
// The middleware attaches a built module to every request context, and the
// handler wrappers resolve a component or invoke a provider before calling a
// controller method.
//
// Example usage:
//
//	m, _ := AppModule.Build()
//
//	r := modulochi.NewRouter(m)
//	r.Get("/users/{id}", modulochi.Handle(UserController.GetByID))
//	r.Post("/orders", modulochi.HandleProvided(OrderHandler.Create))
package chi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/junioryono/modulo"
)

// ErrNoModule is returned when a request context carries no module.
var ErrNoModule = modulo.ErrNoModule

// WithModule returns a copy of ctx carrying m.
func WithModule(ctx context.Context, m *modulo.Module) context.Context {
	return modulo.NewContext(ctx, m)
}

// FromContext returns the module attached by Middleware.
func FromContext(ctx context.Context) (*modulo.Module, error) {
	return modulo.FromContext(ctx)
}

// Inject resolves the component bound to I from the request's module.
func Inject[I any](r *http.Request) (I, error) {
	var zero I

	m, err := FromContext(r.Context())
	if err != nil {
		return zero, err
	}
	return modulo.ResolveRef[I](m)
}

// Provide invokes the provider bound to I on the request's module.
func Provide[I any](r *http.Request) (I, error) {
	var zero I

	m, err := FromContext(r.Context())
	if err != nil {
		return zero, err
	}
	return modulo.Provide[I](m)
}

// Config holds the configuration for the module middleware.
type Config struct {
	// ErrorHandler is called when a middleware function fails.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ErrorHandler func(http.ResponseWriter, *http.Request, error)

	// Middlewares are functions that run after the module is attached.
	Middlewares []func(*modulo.Module, *http.Request) error

	// Logger receives request-time failures. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Option configures the module middleware.
type Option func(*Config)

// WithErrorHandler sets the error handler for middleware failures.
func WithErrorHandler(h func(http.ResponseWriter, *http.Request, error)) Option {
	return func(c *Config) {
		c.ErrorHandler = h
	}
}

// WithMiddleware adds a function that runs after the module is attached.
// Multiple middlewares are executed in the order they are added.
func WithMiddleware(mw func(*modulo.Module, *http.Request) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

// WithLogger sets the logger used for request-time failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		Logger: zap.NewNop(),
	}
}

func (c *Config) errorHandler() func(http.ResponseWriter, *http.Request, error) {
	if c.ErrorHandler != nil {
		return c.ErrorHandler
	}

	logger := c.Logger
	return func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("module middleware failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// Middleware creates a Chi middleware that attaches m to each request context.
// The module can be retrieved with FromContext, Inject and Provide.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Use(modulochi.Middleware(m))
func Middleware(m *modulo.Module, opts ...Option) func(http.Handler) http.Handler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	onError := cfg.errorHandler()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				onError(w, r, modulo.ErrModuleNil)
				return
			}

			r = r.WithContext(WithModule(r.Context(), m))

			for _, mw := range cfg.Middlewares {
				if err := mw(m, r); err != nil {
					onError(w, r, err)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewRouter returns a chi router with request IDs, panic recovery and the
// module middleware installed.
func NewRouter(m *modulo.Module, opts ...Option) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(Middleware(m, opts...))
	return r
}

// HandlerConfig holds configuration for the Handle and HandleProvided wrappers.
type HandlerConfig struct {
	// PanicRecovery enables panic recovery in the handler.
	PanicRecovery bool

	// PanicHandler is called when a panic occurs (if PanicRecovery is true).
	PanicHandler func(http.ResponseWriter, *http.Request, any)

	// ModuleErrorHandler is called when the request carries no module.
	ModuleErrorHandler func(http.ResponseWriter, *http.Request, error)

	// ResolutionErrorHandler is called when the controller cannot be obtained.
	ResolutionErrorHandler func(http.ResponseWriter, *http.Request, error)

	Logger *zap.Logger
}

// HandlerOption configures the Handle and HandleProvided wrappers.
type HandlerOption func(*HandlerConfig)

// WithPanicRecovery enables or disables panic recovery in the handler.
func WithPanicRecovery(enabled bool) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicRecovery = enabled
	}
}

// WithPanicHandler sets the handler for panics.
func WithPanicHandler(h func(http.ResponseWriter, *http.Request, any)) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithModuleErrorHandler sets the error handler for requests without a module.
func WithModuleErrorHandler(h func(http.ResponseWriter, *http.Request, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ModuleErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for resolution failures.
func WithResolutionErrorHandler(h func(http.ResponseWriter, *http.Request, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ResolutionErrorHandler = h
	}
}

// WithHandlerLogger sets the logger used by the default handlers.
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(c *HandlerConfig) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

func newHandlerConfig(opts []HandlerOption) *HandlerConfig {
	cfg := &HandlerConfig{Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.Logger
	if cfg.PanicHandler == nil {
		cfg.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
			logger.Error("panic in handler", zap.Any("panic", v), zap.String("path", r.URL.Path))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
	if cfg.ModuleErrorHandler == nil {
		cfg.ModuleErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("failed to get module from context", zap.Error(err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
	if cfg.ResolutionErrorHandler == nil {
		cfg.ResolutionErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("failed to resolve controller", zap.Error(err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
	return cfg
}

// Handle wraps a controller method. The component bound to I is resolved from
// the module attached to the request context.
//
// The method signature should be: func(I, http.ResponseWriter, *http.Request)
//
// Example:
//
//	type UserController interface {
//	    GetByID(http.ResponseWriter, *http.Request)
//	}
//
//	r.Get("/users/{id}", modulochi.Handle(UserController.GetByID))
func Handle[I any](method func(I, http.ResponseWriter, *http.Request), opts ...HandlerOption) http.HandlerFunc {
	return wrap(modulo.ResolveRef[I], method, newHandlerConfig(opts))
}

// HandleProvided is like Handle, but invokes the provider bound to I so every
// request gets its own instance.
func HandleProvided[I any](method func(I, http.ResponseWriter, *http.Request), opts ...HandlerOption) http.HandlerFunc {
	return wrap(modulo.Provide[I], method, newHandlerConfig(opts))
}

func wrap[I any](
	get func(*modulo.Module) (I, error),
	method func(I, http.ResponseWriter, *http.Request),
	cfg *HandlerConfig,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.PanicRecovery {
			defer func() {
				if v := recover(); v != nil {
					cfg.PanicHandler(w, r, v)
				}
			}()
		}

		m, err := FromContext(r.Context())
		if err != nil {
			cfg.ModuleErrorHandler(w, r, err)
			return
		}

		controller, err := get(m)
		if err != nil {
			cfg.ResolutionErrorHandler(w, r, err)
			return
		}

		method(controller, w, r)
	}
}
