// Package echo provides modulo integration for the Echo web framework.
//
// The middleware attaches a built module to every request context, and the
// handler wrappers resolve a component or invoke a provider before calling a
// controller method.
//
// Example usage:
//
//	m, _ := AppModule.Build()
//
//	e := echo.New()
//	e.Use(moduloecho.Middleware(m))
//
//	e.POST("/login", moduloecho.Handle(AuthController.Login))
//	e.GET("/users/:id", moduloecho.Handle(UserController.GetByID))
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/junioryono/modulo"
)

// Config holds the configuration for the module middleware.
type Config struct {
	// ErrorHandler is called when a middleware function fails.
	// If nil, a 500 Internal Server Error is returned.
	ErrorHandler func(echo.Context, error) error

	// Middlewares are functions that run after the module is attached.
	// They can be used to initialize request context, set user data, etc.
	Middlewares []func(*modulo.Module, echo.Context) error

	Logger *zap.Logger
}

// Option configures the module middleware.
type Option func(*Config)

// WithErrorHandler sets the error handler for middleware failures.
func WithErrorHandler(h func(echo.Context, error) error) Option {
	return func(c *Config) {
		c.ErrorHandler = h
	}
}

// WithMiddleware adds a function that runs after the module is attached.
// Multiple middlewares are executed in the order they are added.
func WithMiddleware(mw func(*modulo.Module, echo.Context) error) Option {
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

func newConfig(opts []Option) *Config {
	cfg := &Config{Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.ErrorHandler == nil {
		logger := cfg.Logger
		cfg.ErrorHandler = func(c echo.Context, err error) error {
			logger.Error("module middleware failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
		}
	}
	return cfg
}

// Middleware creates an Echo middleware that attaches m to each request
// context. Handlers retrieve it with modulo.FromContext or FromContext.
//
// Example:
//
//	e := echo.New()
//	e.Use(moduloecho.Middleware(m))
func Middleware(m *modulo.Module, opts ...Option) echo.MiddlewareFunc {
	cfg := newConfig(opts)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return cfg.ErrorHandler(c, modulo.ErrModuleNil)
			}

			c.SetRequest(c.Request().WithContext(modulo.NewContext(c.Request().Context(), m)))

			for _, mw := range cfg.Middlewares {
				if err := mw(m, c); err != nil {
					return cfg.ErrorHandler(c, err)
				}
			}

			return next(c)
		}
	}
}

// FromContext returns the module attached to the request by Middleware.
func FromContext(c echo.Context) (*modulo.Module, error) {
	return modulo.FromContext(c.Request().Context())
}

// HandlerConfig holds configuration for the Handle and HandleProvided wrappers.
type HandlerConfig struct {
	// PanicRecovery enables panic recovery in the handler.
	PanicRecovery bool

	// PanicHandler is called when a panic occurs (if PanicRecovery is true).
	PanicHandler func(echo.Context, any) error

	// ModuleErrorHandler is called when the request carries no module.
	ModuleErrorHandler func(echo.Context, error) error

	// ResolutionErrorHandler is called when the controller cannot be obtained.
	ResolutionErrorHandler func(echo.Context, error) error

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
func WithPanicHandler(h func(echo.Context, any) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithModuleErrorHandler sets the error handler for requests without a module.
func WithModuleErrorHandler(h func(echo.Context, error) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.ModuleErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for resolution failures.
func WithResolutionErrorHandler(h func(echo.Context, error) error) HandlerOption {
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
		cfg.PanicHandler = func(c echo.Context, v any) error {
			logger.Error("panic in handler", zap.Any("panic", v), zap.String("path", c.Path()))
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
		}
	}
	if cfg.ModuleErrorHandler == nil {
		cfg.ModuleErrorHandler = func(c echo.Context, err error) error {
			logger.Error("failed to get module from context", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
		}
	}
	if cfg.ResolutionErrorHandler == nil {
		cfg.ResolutionErrorHandler = func(c echo.Context, err error) error {
			logger.Error("failed to resolve controller", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
		}
	}
	return cfg
}

// Handle wraps a controller method. The component bound to I is resolved from
// the module attached to the request context.
//
// The method signature should be: func(I, echo.Context) error
//
// Example:
//
//	type UserController interface {
//	    GetByID(echo.Context) error
//	}
//
//	e.GET("/users/:id", moduloecho.Handle(UserController.GetByID))
func Handle[I any](method func(I, echo.Context) error, opts ...HandlerOption) echo.HandlerFunc {
	return wrap(modulo.ResolveRef[I], method, newHandlerConfig(opts))
}

// HandleProvided is like Handle, but invokes the provider bound to I so every
// request gets its own instance.
func HandleProvided[I any](method func(I, echo.Context) error, opts ...HandlerOption) echo.HandlerFunc {
	return wrap(modulo.Provide[I], method, newHandlerConfig(opts))
}

func wrap[I any](get func(*modulo.Module) (I, error), method func(I, echo.Context) error, cfg *HandlerConfig) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		if cfg.PanicRecovery {
			defer func() {
				if v := recover(); v != nil {
					err = cfg.PanicHandler(c, v)
				}
			}()
		}

		m, err := FromContext(c)
		if err != nil {
			return cfg.ModuleErrorHandler(c, err)
		}

		controller, err := get(m)
		if err != nil {
			return cfg.ResolutionErrorHandler(c, err)
		}

		return method(controller, c)
	}
}
