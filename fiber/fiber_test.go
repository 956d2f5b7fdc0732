package fiber

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/junioryono/modulo"
)

type Service interface {
	ID() string
}

type testService struct {
	id string
}

func (s *testService) ID() string { return s.id }

type Controller interface {
	GetValue(*fiber.Ctx) error
	Panic(*fiber.Ctx) error
	Serial() int64
}

type testController struct {
	service Service
	serial  int64
}

func (c *testController) GetValue(ctx *fiber.Ctx) error {
	return ctx.SendString(c.service.ID())
}

func (c *testController) Panic(*fiber.Ctx) error {
	panic("test panic")
}

func (c *testController) Serial() int64 { return c.serial }

// RequestController is the provider-kind variant of Controller.
type RequestController interface {
	Controller
}

type ServiceParams struct {
	ID string `default:"handled"`
}

func buildModule(t *testing.T) *modulo.Module {
	t.Helper()

	var serial atomic.Int64

	def, err := modulo.Define("web",
		modulo.Component[Service](func(_ *modulo.BuildContext, p ServiceParams) (*testService, error) {
			return &testService{id: p.ID}, nil
		}),
		modulo.Component[Controller](func(ctx *modulo.BuildContext, _ modulo.NoParams) (*testController, error) {
			svc, err := modulo.Get[Service](ctx)
			if err != nil {
				return nil, err
			}
			return &testController{service: svc}, nil
		}, modulo.Requires(modulo.Inject[Service]())),
		modulo.Provider[RequestController](func(m *modulo.Module) (*testController, error) {
			svc, err := modulo.ResolveRef[Service](m)
			if err != nil {
				return nil, err
			}
			return &testController{service: svc, serial: serial.Add(1)}, nil
		}, modulo.Requires(modulo.Inject[Service]())),
	)
	require.NoError(t, err)

	m, err := def.Build()
	require.NoError(t, err)
	return m
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestMiddleware(t *testing.T) {
	t.Run("stores module in locals and user context", func(t *testing.T) {
		m := buildModule(t)

		app := fiber.New()
		app.Use(Middleware(m))
		app.Get("/test", func(c *fiber.Ctx) error {
			fromLocals, err := FromContext(c)
			assert.NoError(t, err)
			assert.Same(t, m, fromLocals)

			fromUser, err := modulo.FromContext(c.UserContext())
			assert.NoError(t, err)
			assert.Same(t, m, fromUser)

			return c.SendStatus(http.StatusOK)
		})

		status, _ := get(t, app, "/test")
		assert.Equal(t, http.StatusOK, status)
	})

	t.Run("runs middlewares in order", func(t *testing.T) {
		var order []int

		app := fiber.New()
		app.Use(Middleware(buildModule(t),
			WithMiddleware(func(*modulo.Module, *fiber.Ctx) error {
				order = append(order, 1)
				return nil
			}),
			WithMiddleware(func(*modulo.Module, *fiber.Ctx) error {
				order = append(order, 2)
				return nil
			}),
		))
		app.Get("/test", func(c *fiber.Ctx) error {
			return c.SendStatus(http.StatusOK)
		})

		get(t, app, "/test")
		assert.Equal(t, []int{1, 2}, order)
	})

	t.Run("calls error handler when middleware fails", func(t *testing.T) {
		expectedErr := errors.New("middleware failed")

		app := fiber.New()
		app.Use(Middleware(buildModule(t),
			WithMiddleware(func(*modulo.Module, *fiber.Ctx) error {
				return expectedErr
			}),
			WithErrorHandler(func(c *fiber.Ctx, err error) error {
				assert.Equal(t, expectedErr, err)
				return c.SendStatus(http.StatusBadRequest)
			}),
		))
		app.Get("/test", func(c *fiber.Ctx) error {
			return c.SendStatus(http.StatusOK)
		})

		status, _ := get(t, app, "/test")
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("nil module is reported", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)

		app := fiber.New()
		app.Use(Middleware(nil, WithLogger(zap.New(core))))
		app.Get("/test", func(c *fiber.Ctx) error {
			return c.SendStatus(http.StatusOK)
		})

		status, body := get(t, app, "/test")
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.JSONEq(t, `{"error":"Internal Server Error"}`, body)
		assert.Equal(t, 1, logs.FilterMessage("module middleware failed").Len())
	})
}

func TestFromContext(t *testing.T) {
	app := fiber.New()
	app.Get("/test", func(c *fiber.Ctx) error {
		m, err := FromContext(c)
		assert.Nil(t, m)
		assert.ErrorIs(t, err, modulo.ErrNoModule)
		return c.SendStatus(http.StatusOK)
	})

	status, _ := get(t, app, "/test")
	assert.Equal(t, http.StatusOK, status)
}

func TestHandle(t *testing.T) {
	t.Run("resolves controller and calls method", func(t *testing.T) {
		app := fiber.New()
		app.Use(Middleware(buildModule(t)))
		app.Get("/value", Handle(Controller.GetValue))

		status, body := get(t, app, "/value")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "handled", body)
	})

	t.Run("calls module error handler when no module", func(t *testing.T) {
		app := fiber.New()
		app.Get("/value", Handle(Controller.GetValue,
			WithModuleErrorHandler(func(c *fiber.Ctx, err error) error {
				assert.ErrorIs(t, err, modulo.ErrNoModule)
				return c.SendStatus(http.StatusServiceUnavailable)
			}),
		))

		status, _ := get(t, app, "/value")
		assert.Equal(t, http.StatusServiceUnavailable, status)
	})

	t.Run("calls resolution error handler when component not found", func(t *testing.T) {
		app := fiber.New()
		app.Use(Middleware(buildModule(t)))
		app.Get("/value", Handle(func(interface{ Missing() }, *fiber.Ctx) error { return nil },
			WithResolutionErrorHandler(func(c *fiber.Ctx, err error) error {
				assert.True(t, modulo.IsNotFound(err))
				return c.SendStatus(http.StatusNotFound)
			}),
		))

		status, _ := get(t, app, "/value")
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("recovers from panic when enabled", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)

		app := fiber.New()
		app.Use(Middleware(buildModule(t)))
		app.Get("/panic", Handle(Controller.Panic,
			WithPanicRecovery(true),
			WithHandlerLogger(zap.New(core)),
		))

		status, _ := get(t, app, "/panic")
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, 1, logs.FilterMessage("panic in handler").Len())
	})
}

func TestHandleProvided(t *testing.T) {
	var serials []int64

	app := fiber.New()
	app.Use(Middleware(buildModule(t)))
	app.Get("/serial", HandleProvided(func(c RequestController, ctx *fiber.Ctx) error {
		serials = append(serials, c.Serial())
		return ctx.SendStatus(http.StatusOK)
	}))

	get(t, app, "/serial")
	get(t, app, "/serial")

	assert.Equal(t, []int64{1, 2}, serials)
}
