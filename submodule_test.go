package modulo_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junioryono/modulo"
	"github.com/junioryono/modulo/internal/testutil"
)

// Config is used only inside the storage module.
type Config interface {
	DSN() string
}

type staticConfig struct{ dsn string }

func (c *staticConfig) DSN() string { return c.dsn }

type ConfigParams struct {
	DSN string `default:"memory://"`
}

// configuredDatabase depends on the hidden Config.
type configuredDatabase struct {
	cfg Config
}

func (d *configuredDatabase) Name() string            { return d.cfg.DSN() }
func (d *configuredDatabase) Query(sql string) string { return d.cfg.DSN() + ": " + sql }

// Service lives in the parent module and uses the re-exported Database.
type Service interface {
	Database() testutil.Database
}

type service struct{ db testutil.Database }

func (s *service) Database() testutil.Database { return s.db }

func storageModule(t *testing.T, configs *testutil.Counter) *modulo.Definition {
	t.Helper()
	return testutil.MustDefine(t, "storage",
		modulo.Component[Config](func(_ *modulo.BuildContext, p ConfigParams) (*staticConfig, error) {
			configs.Inc()
			return &staticConfig{dsn: p.DSN}, nil
		}),
		modulo.Component[testutil.Database](func(ctx *modulo.BuildContext, _ modulo.NoParams) (*configuredDatabase, error) {
			cfg, err := modulo.Get[Config](ctx)
			if err != nil {
				return nil, err
			}
			return &configuredDatabase{cfg: cfg}, nil
		}, modulo.Requires(modulo.Inject[Config]())),
		modulo.Provider[testutil.Repository](func(m *modulo.Module) (testutil.Repository, error) {
			var serial testutil.Counter
			return testutil.NewRepository(&serial)(m)
		}, modulo.Requires(modulo.Inject[testutil.Database]())),
	)
}

func appModule(t *testing.T) *modulo.Definition {
	t.Helper()
	return testutil.MustDefine(t, "app",
		modulo.Submodule("storage",
			modulo.Inject[testutil.Database](),
			modulo.InjectProvider[testutil.Repository](),
		),
		modulo.Component[Service](func(ctx *modulo.BuildContext, _ modulo.NoParams) (*service, error) {
			db, err := modulo.Get[testutil.Database](ctx)
			if err != nil {
				return nil, err
			}
			return &service{db: db}, nil
		}, modulo.Requires(modulo.Inject[testutil.Database]())),
	)
}

func TestSubmodule_Hiding(t *testing.T) {
	var configs testutil.Counter
	storage := testutil.MustBuild(t, storageModule(t, &configs))
	app := testutil.MustBuild(t, appModule(t), modulo.WithSubmodule("storage", storage))

	assert.Equal(t, int64(1), configs.Count(), "hidden dependencies are built once, by the submodule")

	svc := testutil.AssertResolvable[Service](t, app)
	assert.Same(t, testutil.AssertResolvable[testutil.Database](t, storage), svc.Database())
	assert.Same(t, svc.Database(), testutil.AssertResolvable[testutil.Database](t, app))

	testutil.AssertNotFound[Config](t, app)
	assert.True(t, app.HasComponent(modulo.KeyOf[testutil.Database]()))
	assert.True(t, app.HasProvider(modulo.KeyOf[testutil.Repository]()))
	assert.False(t, app.HasComponent(modulo.KeyOf[Config]()))
	assert.Same(t, storage, app.Submodule("storage"))

	repo, err := modulo.Provide[testutil.Repository](app)
	require.NoError(t, err)
	assert.Same(t, svc.Database(), repo.Database())
}

func TestSubmodule_Swap(t *testing.T) {
	var configs testutil.Counter
	def := storageModule(t, &configs)

	primary := testutil.MustBuild(t, def,
		modulo.WithComponentParameters[*staticConfig](ConfigParams{DSN: "postgres://primary"}))
	replica := testutil.MustBuild(t, def,
		modulo.WithComponentParameters[*staticConfig](ConfigParams{DSN: "postgres://replica"}))

	onPrimary := testutil.MustBuild(t, appModule(t), modulo.WithSubmodule("storage", primary))
	onReplica := testutil.MustBuild(t, appModule(t), modulo.WithSubmodule("storage", replica))

	assert.Equal(t, "postgres://primary", testutil.AssertResolvable[Service](t, onPrimary).Database().Name())
	assert.Equal(t, "postgres://replica", testutil.AssertResolvable[Service](t, onReplica).Database().Name())
	assert.Equal(t, int64(2), configs.Count())

	t.Run("any module supporting the exports can be supplied", func(t *testing.T) {
		var dbs, serial testutil.Counter
		fake := testutil.MustBuild(t, testutil.MustDefine(t, "fake",
			modulo.Component[testutil.Database](testutil.NewTestDatabase(&dbs)),
			modulo.Provider[testutil.Repository](testutil.NewRepository(&serial)),
		))

		app := testutil.MustBuild(t, appModule(t), modulo.WithSubmodule("storage", fake))
		assert.Equal(t, "testdb", testutil.AssertResolvable[Service](t, app).Database().Name())
	})
}

func TestSubmodule_BuildErrors(t *testing.T) {
	t.Run("missing submodule", func(t *testing.T) {
		_, err := appModule(t).Build()

		var mse modulo.MissingSubmoduleError
		require.True(t, errors.As(err, &mse))
		assert.Equal(t, "app", mse.Module)
		assert.Equal(t, "storage", mse.Submodule)
	})

	t.Run("submodule without the exports", func(t *testing.T) {
		var dbs testutil.Counter
		partial := testutil.MustBuild(t, testutil.MustDefine(t, "partial",
			modulo.Component[testutil.Database](testutil.NewTestDatabase(&dbs)),
		))

		_, err := appModule(t).Build(modulo.WithSubmodule("storage", partial))

		var ve modulo.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Contains(t, err.Error(), "does not support")
	})

	t.Run("undeclared submodule", func(t *testing.T) {
		var configs testutil.Counter
		storage := testutil.MustBuild(t, storageModule(t, &configs))

		_, err := appModule(t).Build(
			modulo.WithSubmodule("storage", storage),
			modulo.WithSubmodule("cache", storage),
		)
		assert.Error(t, err)
	})

	t.Run("nil submodule", func(t *testing.T) {
		_, err := appModule(t).Build(modulo.WithSubmodule("storage", nil))
		assert.ErrorIs(t, err, modulo.ErrModuleNil)
	})
}

func TestSubmodule_ResolveMut(t *testing.T) {
	cellModule := testutil.MustDefine(t, "cells",
		modulo.Component[testutil.Mutable](testutil.NewCell),
	)
	parent := testutil.MustDefine(t, "parent",
		modulo.Submodule("cells", modulo.Inject[testutil.Mutable]()),
	)

	t.Run("forwards to a submodule with one owner", func(t *testing.T) {
		cells := testutil.MustBuild(t, cellModule)
		p := testutil.MustBuild(t, parent, modulo.WithSubmodule("cells", cells))

		err := modulo.ResolveMut[testutil.Mutable](p, func(c testutil.Mutable) error {
			c.SetValue(5)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 5, testutil.AssertResolvable[testutil.Mutable](t, cells).Value())
	})

	t.Run("fails when the submodule is shared", func(t *testing.T) {
		cells := testutil.MustBuild(t, cellModule)
		p := testutil.MustBuild(t, parent, modulo.WithSubmodule("cells", cells))
		testutil.MustBuild(t, parent, modulo.WithSubmodule("cells", cells))

		err := modulo.ResolveMut[testutil.Mutable](p, func(testutil.Mutable) error { return nil })
		testutil.AssertShared(t, err)
	})

	t.Run("handles from the parent count", func(t *testing.T) {
		cells := testutil.MustBuild(t, cellModule)
		p := testutil.MustBuild(t, parent, modulo.WithSubmodule("cells", cells))

		h, err := modulo.Resolve[testutil.Mutable](p)
		require.NoError(t, err)
		defer h.Release()

		err = modulo.ResolveMut[testutil.Mutable](cells, func(testutil.Mutable) error { return nil })
		testutil.AssertShared(t, err)
	})
}
