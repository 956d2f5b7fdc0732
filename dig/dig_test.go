package dig_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/dig"

	"github.com/junioryono/modulo"
	modulodig "github.com/junioryono/modulo/dig"
)

type Greeter interface {
	Greet() string
}

type greeter struct{ name string }

func (g *greeter) Greet() string { return "hello " + g.name }

type Plugin interface {
	Name() string
}

type plugin string

func (p plugin) Name() string { return string(p) }

type Session interface {
	Serial() int
}

type session struct{ serial int }

func (s *session) Serial() int { return s.serial }

var errNoSession = errors.New("no session")

func buildModule(t *testing.T, failSessions bool) *modulo.Module {
	t.Helper()

	serial := 0
	def, err := modulo.Define("exported",
		modulo.Component[Greeter](func(*modulo.BuildContext, modulo.NoParams) (*greeter, error) {
			return &greeter{name: "dig"}, nil
		}),
		modulo.Component[Plugin](func(*modulo.BuildContext, modulo.NoParams) (plugin, error) {
			return "first", nil
		}, modulo.Multi()),
		modulo.Component[Plugin](func(*modulo.BuildContext, modulo.NoParams) (*plugin, error) {
			p := plugin("second")
			return &p, nil
		}, modulo.Multi()),
		modulo.Provider[Session](func(*modulo.Module) (*session, error) {
			if failSessions {
				return nil, errNoSession
			}
			serial++
			return &session{serial: serial}, nil
		}),
	)
	require.NoError(t, err)

	m, err := def.Build()
	require.NoError(t, err)
	return m
}

func TestExport(t *testing.T) {
	t.Run("components are exported as values", func(t *testing.T) {
		m := buildModule(t, false)
		c := dig.New()
		require.NoError(t, modulodig.Export(m, c))

		g, err := modulodig.Get[Greeter](c)
		require.NoError(t, err)
		assert.Equal(t, "hello dig", g.Greet())

		fromModule, err := modulo.ResolveRef[Greeter](m)
		require.NoError(t, err)
		assert.Same(t, fromModule, g)
	})

	t.Run("multi-bindings are exported as a value group", func(t *testing.T) {
		m := buildModule(t, false)
		c := dig.New()
		require.NoError(t, modulodig.Export(m, c))

		type params struct {
			dig.In
			Plugins []Plugin `group:"dig_test.Plugin"`
		}

		var names []string
		err := c.Invoke(func(p params) {
			for _, plugin := range p.Plugins {
				names = append(names, plugin.Name())
			}
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"first", "second"}, names)
		assert.Equal(t, "dig_test.Plugin", modulodig.GroupName(modulo.KeyOf[Plugin]()))
	})

	t.Run("providers are exported as factories", func(t *testing.T) {
		m := buildModule(t, false)
		c := dig.New()
		require.NoError(t, modulodig.Export(m, c))

		newSession, err := modulodig.Get[func() (Session, error)](c)
		require.NoError(t, err)

		first, err := newSession()
		require.NoError(t, err)
		second, err := newSession()
		require.NoError(t, err)

		assert.Equal(t, 1, first.Serial())
		assert.Equal(t, 2, second.Serial())
	})

	t.Run("provider errors reach the caller", func(t *testing.T) {
		m := buildModule(t, true)
		c := dig.New()
		require.NoError(t, modulodig.Export(m, c))

		newSession, err := modulodig.Get[func() (Session, error)](c)
		require.NoError(t, err)

		_, err = newSession()
		assert.ErrorIs(t, err, errNoSession)

		var providerErr modulo.ProviderError
		assert.ErrorAs(t, err, &providerErr)
	})

	t.Run("nil module", func(t *testing.T) {
		assert.ErrorIs(t, modulodig.Export(nil, dig.New()), modulo.ErrModuleNil)
	})
}

func TestFromContainer(t *testing.T) {
	c := dig.New()
	require.NoError(t, c.Provide(func() Greeter { return &greeter{name: "container"} }))

	def, err := modulo.Define("bridged",
		modulo.Component[Greeter](modulodig.FromContainer[Greeter](c)),
	)
	require.NoError(t, err)

	m, err := def.Build()
	require.NoError(t, err)

	g, err := modulo.ResolveRef[Greeter](m)
	require.NoError(t, err)
	assert.Equal(t, "hello container", g.Greet())

	t.Run("missing type fails the build", func(t *testing.T) {
		def, err := modulo.Define("bridged",
			modulo.Component[Session](modulodig.FromContainer[Session](c)),
		)
		require.NoError(t, err)

		_, err = def.Build()
		assert.Error(t, err)
	})
}
