// Package fiber provides modulo integration for the Fiber web framework.
//
// The middleware attaches a built module to every request, and the handler
// wrappers resolve a component or invoke a provider before calling a
// controller method.
//
// Example usage:
//
//	m, _ := AppModule.Build()
//
//	app := fiber.New()
//	app.Use(modulofiber.Middleware(m))
//
//	app.Post("/login", modulofiber.Handle(AuthController.Login))
//	app.Get("/users/:id", modulofiber.Handle(UserController.GetByID))
package fiber

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/junioryono/modulo"
)

// moduleKey is the key used to store the module in fiber.Ctx.Locals
const moduleKey = "modulo_module"

// Config holds the configuration for the module middleware.
type Config struct {
	// ErrorHandler is called when a middleware function fails.
	// If nil, a 500 Internal Server Error is returned.
	ErrorHandler func(*fiber.Ctx, error) error

	// Middlewares are functions that run after the module is attached.
	// They can be used to initialize request context, set user data, etc.
	Middlewares []func(*modulo.Module, *fiber.Ctx) error

	Logger *zap.Logger
}

// Option configures the module middleware.
type Option func(*Config)

// WithErrorHandler sets the error handler for middleware failures.
func WithErrorHandler(h func(*fiber.Ctx, error) error) Option {
	return func(c *Config) {
		c.ErrorHandler = h
	}
}

// WithMiddleware adds a function that runs after the module is attached.
// Multiple middlewares are executed in the order they are added.
func WithMiddleware(mw func(*modulo.Module, *fiber.Ctx) error) Option {
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

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
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
		cfg.ErrorHandler = func(c *fiber.Ctx, err error) error {
			logger.Error("module middleware failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			return internalError(c)
		}
	}
	return cfg
}

// Middleware creates a fiber.Handler that attaches m to each request. The
// module is stored in fiber.Ctx.Locals and in the user context, so both
// FromContext and modulo.FromContext(c.UserContext()) find it.
//
// Example:
//
//	app := fiber.New()
//	app.Use(modulofiber.Middleware(m))
func Middleware(m *modulo.Module, opts ...Option) fiber.Handler {
	cfg := newConfig(opts)

	return func(c *fiber.Ctx) error {
		if m == nil {
			return cfg.ErrorHandler(c, modulo.ErrModuleNil)
		}

		c.SetUserContext(modulo.NewContext(c.UserContext(), m))
		c.Locals(moduleKey, m)

		for _, mw := range cfg.Middlewares {
			if err := mw(m, c); err != nil {
				return cfg.ErrorHandler(c, err)
			}
		}

		return c.Next()
	}
}

// FromContext retrieves the module stored by Middleware.
//
// Example:
//
//	m, err := modulofiber.FromContext(c)
//	users := modulo.MustResolveRef[UserService](m)
func FromContext(c *fiber.Ctx) (*modulo.Module, error) {
	if m, ok := c.Locals(moduleKey).(*modulo.Module); ok && m != nil {
		return m, nil
	}
	return nil, modulo.ErrNoModule
}

// HandlerConfig holds configuration for the Handle and HandleProvided wrappers.
type HandlerConfig struct {
	// PanicRecovery enables panic recovery in the handler.
	PanicRecovery bool

	// PanicHandler is called when a panic occurs (if PanicRecovery is true).
	PanicHandler func(*fiber.Ctx, any) error

	// ModuleErrorHandler is called when the request carries no module.
	ModuleErrorHandler func(*fiber.Ctx, error) error

	// ResolutionErrorHandler is called when the controller cannot be obtained.
	ResolutionErrorHandler func(*fiber.Ctx, error) error

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
func WithPanicHandler(h func(*fiber.Ctx, any) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithModuleErrorHandler sets the error handler for requests without a module.
func WithModuleErrorHandler(h func(*fiber.Ctx, error) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.ModuleErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for resolution failures.
func WithResolutionErrorHandler(h func(*fiber.Ctx, error) error) HandlerOption {
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
		cfg.PanicHandler = func(c *fiber.Ctx, v any) error {
			logger.Error("panic in handler", zap.Any("panic", v), zap.String("path", c.Path()))
			return internalError(c)
		}
	}
	if cfg.ModuleErrorHandler == nil {
		cfg.ModuleErrorHandler = func(c *fiber.Ctx, err error) error {
			logger.Error("failed to get module from context", zap.Error(err))
			return internalError(c)
		}
	}
	if cfg.ResolutionErrorHandler == nil {
		cfg.ResolutionErrorHandler = func(c *fiber.Ctx, err error) error {
			logger.Error("failed to resolve controller", zap.Error(err))
			return internalError(c)
		}
	}
	return cfg
}

// Handle wraps a controller method. The component bound to I is resolved from
// the module stored in fiber.Ctx.Locals.
//
// The method signature should be: func(I, *fiber.Ctx) error
//
// Example:
//
//	type UserController interface {
//	    GetByID(*fiber.Ctx) error
//	}
//
//	app.Get("/users/:id", modulofiber.Handle(UserController.GetByID))
func Handle[I any](method func(I, *fiber.Ctx) error, opts ...HandlerOption) fiber.Handler {
	return wrap(modulo.ResolveRef[I], method, newHandlerConfig(opts))
}

// HandleProvided is like Handle, but invokes the provider bound to I so every
// request gets its own instance.
func HandleProvided[I any](method func(I, *fiber.Ctx) error, opts ...HandlerOption) fiber.Handler {
	return wrap(modulo.Provide[I], method, newHandlerConfig(opts))
}

func wrap[I any](get func(*modulo.Module) (I, error), method func(I, *fiber.Ctx) error, cfg *HandlerConfig) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
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
