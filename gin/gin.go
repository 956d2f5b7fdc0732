// Package gin provides modulo integration for the Gin web framework.
//
// The middleware attaches a built module to every request, and the handler
// wrappers resolve a component or invoke a provider before calling a
// controller method.
//
// Example usage:
//
//	m, _ := AppModule.Build()
//
//	g := gin.New()
//	g.Use(modulogin.Middleware(m))
//
//	g.POST("/login", modulogin.Handle(AuthController.Login))
//	g.GET("/users/:id", modulogin.Handle(UserController.GetByID))
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/junioryono/modulo"
)

// ContextKey is the gin.Context key under which Middleware stores the module.
const ContextKey = "modulo.module"

// Config holds the configuration for the module middleware.
type Config struct {
	// ErrorHandler is called when a middleware function fails.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ErrorHandler func(*gin.Context, error)

	// Middlewares are functions that run after the module is attached.
	// They can be used to initialize request context, set user claims, etc.
	Middlewares []func(*modulo.Module, *gin.Context) error

	Logger *zap.Logger
}

// Option configures the module middleware.
type Option func(*Config)

// WithErrorHandler sets the error handler for middleware failures.
func WithErrorHandler(h func(*gin.Context, error)) Option {
	return func(c *Config) {
		c.ErrorHandler = h
	}
}

// WithMiddleware adds a function that runs after the module is attached.
// Multiple middlewares are executed in the order they are added.
//
// Example:
//
//	modulogin.Middleware(m,
//	    modulogin.WithMiddleware(func(m *modulo.Module, c *gin.Context) error {
//	        audit, err := modulo.Provide[AuditLog](m)
//	        if err != nil {
//	            return err
//	        }
//	        c.Set("audit", audit)
//	        return nil
//	    }),
//	)
func WithMiddleware(mw func(*modulo.Module, *gin.Context) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

// WithLogger sets the logger used by the default error handler.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

func abort(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": "Internal Server Error",
	})
}

func newConfig(opts []Option) *Config {
	cfg := &Config{Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.ErrorHandler == nil {
		logger := cfg.Logger
		cfg.ErrorHandler = func(c *gin.Context, err error) {
			logger.Error("module middleware failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Error(err),
			)
			abort(c)
		}
	}
	return cfg
}

// Middleware creates a gin.HandlerFunc that attaches m to each request. The
// module is stored both in the request context, for modulo.FromContext, and
// in the gin.Context under ContextKey.
//
// Example:
//
//	g := gin.New()
//	g.Use(modulogin.Middleware(m))
func Middleware(m *modulo.Module, opts ...Option) gin.HandlerFunc {
	cfg := newConfig(opts)

	return func(c *gin.Context) {
		if m == nil {
			cfg.ErrorHandler(c, modulo.ErrModuleNil)
			return
		}

		c.Request = c.Request.WithContext(modulo.NewContext(c.Request.Context(), m))
		c.Set(ContextKey, m)

		for _, mw := range cfg.Middlewares {
			if err := mw(m, c); err != nil {
				cfg.ErrorHandler(c, err)
				return
			}
		}

		c.Next()
	}
}

// FromContext returns the module attached by Middleware.
func FromContext(c *gin.Context) (*modulo.Module, error) {
	if v, ok := c.Get(ContextKey); ok {
		if m, ok := v.(*modulo.Module); ok && m != nil {
			return m, nil
		}
	}
	return modulo.FromContext(c.Request.Context())
}

// HandlerConfig holds configuration for the Handle and HandleProvided wrappers.
type HandlerConfig struct {
	// PanicRecovery enables panic recovery in the handler.
	// If true, panics are caught and handled by PanicHandler.
	PanicRecovery bool

	// PanicHandler is called when a panic occurs (if PanicRecovery is true).
	// If nil, a default handler returning 500 Internal Server Error is used.
	PanicHandler func(*gin.Context, any)

	// ModuleErrorHandler is called when the request carries no module.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ModuleErrorHandler func(*gin.Context, error)

	// ResolutionErrorHandler is called when the controller cannot be obtained.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ResolutionErrorHandler func(*gin.Context, error)

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

// WithPanicHandler sets the handler for panics (requires WithPanicRecovery(true)).
func WithPanicHandler(h func(*gin.Context, any)) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithModuleErrorHandler sets the error handler for requests without a module.
func WithModuleErrorHandler(h func(*gin.Context, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ModuleErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for resolution failures.
func WithResolutionErrorHandler(h func(*gin.Context, error)) HandlerOption {
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
		cfg.PanicHandler = func(c *gin.Context, r any) {
			logger.Error("panic in handler", zap.Any("panic", r), zap.String("path", c.FullPath()))
			abort(c)
		}
	}
	if cfg.ModuleErrorHandler == nil {
		cfg.ModuleErrorHandler = func(c *gin.Context, err error) {
			logger.Error("failed to get module from context", zap.Error(err))
			abort(c)
		}
	}
	if cfg.ResolutionErrorHandler == nil {
		cfg.ResolutionErrorHandler = func(c *gin.Context, err error) {
			logger.Error("failed to resolve controller", zap.Error(err))
			abort(c)
		}
	}
	return cfg
}

// Handle wraps a controller method. The component bound to I is resolved from
// the module attached to the request.
//
// The method signature should be: func(I, *gin.Context)
//
// Example:
//
//	type UserController interface {
//	    GetByID(*gin.Context)
//	}
//
//	g.GET("/users/:id", modulogin.Handle(UserController.GetByID))
func Handle[I any](method func(I, *gin.Context), opts ...HandlerOption) gin.HandlerFunc {
	return wrap(modulo.ResolveRef[I], method, newHandlerConfig(opts))
}

// HandleProvided is like Handle, but invokes the provider bound to I so every
// request gets its own instance.
func HandleProvided[I any](method func(I, *gin.Context), opts ...HandlerOption) gin.HandlerFunc {
	return wrap(modulo.Provide[I], method, newHandlerConfig(opts))
}

func wrap[I any](get func(*modulo.Module) (I, error), method func(I, *gin.Context), cfg *HandlerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.PanicRecovery {
			defer func() {
				if r := recover(); r != nil {
					cfg.PanicHandler(c, r)
				}
			}()
		}

		m, err := FromContext(c)
		if err != nil {
			cfg.ModuleErrorHandler(c, err)
			return
		}

		controller, err := get(m)
		if err != nil {
			cfg.ResolutionErrorHandler(c, err)
			return
		}

		method(controller, c)
	}
}
