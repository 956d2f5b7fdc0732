package modulo_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junioryono/modulo"
	"github.com/junioryono/modulo/internal/testutil"
)

type IA interface{ A() }
type IB interface{ B() }
type IC interface{ C() }

type componentA struct{ b IB }
type componentB struct{ a IA }
type componentC struct{}

func (*componentA) A() {}
func (*componentB) B() {}
func (*componentC) C() {}

func newA(ctx *modulo.BuildContext, _ modulo.NoParams) (*componentA, error) {
	b, err := modulo.Get[IB](ctx)
	if err != nil {
		return nil, err
	}
	return &componentA{b: b}, nil
}

func newB(ctx *modulo.BuildContext, _ modulo.NoParams) (*componentB, error) {
	a, err := modulo.Get[IA](ctx)
	if err != nil {
		return nil, err
	}
	return &componentB{a: a}, nil
}

func newC(*modulo.BuildContext, modulo.NoParams) (*componentC, error) {
	return &componentC{}, nil
}

var (
	typeA = reflect.TypeFor[*componentA]()
	typeB = reflect.TypeFor[*componentB]()
	typeC = reflect.TypeFor[*componentC]()
)

func TestBuildContext_CircularDependency(t *testing.T) {
	def := testutil.MustDefine(t, "cycle",
		modulo.Component[IA](newA),
		modulo.Component[IB](newB),
	)

	t.Run("build fails with the resolution chain", func(t *testing.T) {
		m, err := def.Build()
		assert.Nil(t, m)
		testutil.AssertCircular(t, err, reflect.TypeFor[IA](), typeA, typeB)
		assert.True(t, modulo.IsCircularDependency(err))

		var be modulo.BuildError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, "cycle", be.Module)
	})

	t.Run("MustBuild panics with the diagnostic", func(t *testing.T) {
		assert.PanicsWithError(t,
			"Circular dependency detected while resolving modulo_test.IA. Resolution chain: [*modulo_test.componentA, *modulo_test.componentB]",
			func() { def.Builder().MustBuild() })
	})

	t.Run("declaration order decides the chain", func(t *testing.T) {
		def := testutil.MustDefine(t, "cycle",
			modulo.Component[IB](newB),
			modulo.Component[IA](newA),
		)

		_, err := def.Build()
		testutil.AssertCircular(t, err, reflect.TypeFor[IB](), typeB, typeA)
	})

	t.Run("swallowed errors still fail the build", func(t *testing.T) {
		def := testutil.MustDefine(t, "cycle",
			modulo.Component[IA](newA),
			modulo.Component[IB](func(ctx *modulo.BuildContext, _ modulo.NoParams) (*componentB, error) {
				a, _ := modulo.Get[IA](ctx)
				return &componentB{a: a}, nil
			}),
		)

		_, err := def.Build()
		testutil.AssertCircular(t, err, reflect.TypeFor[IA](), typeA, typeB)
	})

	t.Run("overriding a member breaks the cycle", func(t *testing.T) {
		m := testutil.MustBuild(t, def, modulo.WithComponentOverride[IB](&componentB{}))

		a := testutil.AssertResolvable[IA](t, m)
		assert.NotNil(t, a.(*componentA).b)
	})
}

func TestBuildContext_Chain(t *testing.T) {
	var chains [][]modulo.ChainStep

	def := testutil.MustDefine(t, "chain",
		modulo.Component[IA](func(ctx *modulo.BuildContext, _ modulo.NoParams) (*componentA, error) {
			chains = append(chains, ctx.Chain())
			if _, err := modulo.Get[IC](ctx); err != nil {
				return nil, err
			}
			return &componentA{}, nil
		}),
		modulo.Component[IC](func(ctx *modulo.BuildContext, _ modulo.NoParams) (*componentC, error) {
			chains = append(chains, ctx.Chain())
			return &componentC{}, nil
		}),
	)

	testutil.MustBuild(t, def)

	require.Len(t, chains, 2)
	assert.Equal(t, []modulo.ChainStep{{Component: typeA, Interface: reflect.TypeFor[IA]()}}, chains[0])
	assert.Equal(t, []modulo.ChainStep{
		{Component: typeA, Interface: reflect.TypeFor[IA]()},
		{Component: typeC, Interface: reflect.TypeFor[IC]()},
	}, chains[1])
}

func TestBuildContext_Overrides(t *testing.T) {
	t.Run("instance override skips the original build", func(t *testing.T) {
		var outputs testutil.Counter
		fake := &testutil.ConsoleOutput{}

		m := testutil.MustBuild(t, dateModule(t, &outputs),
			modulo.WithComponentOverride[testutil.Output](fake),
			modulo.WithComponentParameters[*testutil.DateWriter](testutil.DateWriterParams{Today: "June 19"}),
		)

		assert.Equal(t, int64(0), outputs.Count())
		assert.Same(t, fake, testutil.AssertResolvable[testutil.Output](t, m))

		testutil.AssertResolvable[testutil.Writer](t, m).WriteDate()
		assert.Equal(t, []string{"Today is June 19"}, fake.Lines())
	})

	t.Run("fn override runs with the build context", func(t *testing.T) {
		var outputs testutil.Counter

		m := testutil.MustBuild(t, dateModule(t, &outputs),
			modulo.WithComponentOverrideFn[testutil.Writer](func(ctx *modulo.BuildContext) (*testutil.DateWriter, error) {
				return testutil.NewDateWriter(ctx, testutil.DateWriterParams{Today: "overridden"})
			}),
		)

		testutil.AssertResolvable[testutil.Writer](t, m).WriteDate()
		out := testutil.AssertResolvable[testutil.Output](t, m).(*testutil.ConsoleOutput)
		assert.Equal(t, []string{"Today is overridden"}, out.Lines())
		assert.Equal(t, int64(1), outputs.Count())
	})

	t.Run("fn override resolving itself is a cycle", func(t *testing.T) {
		def := testutil.MustDefine(t, "self",
			modulo.Component[IC](newC),
		)

		_, err := def.Build(
			modulo.WithComponentOverrideFn[IC](func(ctx *modulo.BuildContext) (*componentC, error) {
				if _, err := modulo.Get[IC](ctx); err != nil {
					return nil, err
				}
				return &componentC{}, nil
			}),
		)
		testutil.AssertCircular(t, err, reflect.TypeFor[IC](), typeC)
	})

	t.Run("unknown override targets", func(t *testing.T) {
		def := testutil.MustDefine(t, "small", modulo.Component[IC](newC))

		_, err := def.Build(modulo.WithComponentOverride[IA](&componentA{}))
		assert.ErrorIs(t, err, modulo.ErrUnknownOverride)

		_, err = def.Build(modulo.WithComponentOverrideFn[IA](func(*modulo.BuildContext) (*componentA, error) {
			return &componentA{}, nil
		}))
		assert.ErrorIs(t, err, modulo.ErrUnknownOverride)

		_, err = def.Build(modulo.WithProviderOverride[testutil.Repository](func(*modulo.Module) (testutil.Repository, error) {
			return nil, nil
		}))
		var ve modulo.ValidationError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("nil overrides", func(t *testing.T) {
		def := testutil.MustDefine(t, "small", modulo.Component[IC](newC))

		_, err := def.Build(modulo.WithComponentOverride[IC](nil))
		assert.ErrorIs(t, err, modulo.ErrInstanceNil)

		_, err = def.Build(modulo.WithComponentOverrideFn[IC, *componentC](nil))
		assert.ErrorIs(t, err, modulo.ErrBuildFuncNil)
	})
}

func TestBuildContext_Failures(t *testing.T) {
	t.Run("build errors are wrapped", func(t *testing.T) {
		def := testutil.MustDefine(t, "failing",
			modulo.Component[IC](func(*modulo.BuildContext, modulo.NoParams) (*componentC, error) {
				return nil, testutil.ErrIntentional
			}),
		)

		_, err := def.Build()
		assert.ErrorIs(t, err, testutil.ErrIntentional)

		var be modulo.BuildError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, "components", be.Phase)
	})

	t.Run("panics are recovered", func(t *testing.T) {
		def := testutil.MustDefine(t, "panicking",
			modulo.Component[IC](func(*modulo.BuildContext, modulo.NoParams) (*componentC, error) {
				panic("boom")
			}),
		)

		_, err := def.Build()
		var pe modulo.ComponentPanicError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "boom", pe.Panic)
		assert.Equal(t, typeC, pe.Component)
		assert.NotEmpty(t, pe.Stack)
	})

	t.Run("undeclared dependencies are reported with the dependent", func(t *testing.T) {
		def := testutil.MustDefine(t, "undeclared",
			modulo.Component[IA](newA),
		)

		_, err := def.Build()
		require.Error(t, err)
		assert.True(t, modulo.IsNotFound(err))

		var mde modulo.MissingDependencyError
		require.True(t, errors.As(err, &mde))
		assert.Equal(t, reflect.TypeFor[IB](), mde.Interface)
		assert.Equal(t, typeA, mde.Dependent)
	})

	t.Run("builders are consumed", func(t *testing.T) {
		b := testutil.MustDefine(t, "once", modulo.Component[IC](newC)).Builder()

		_, err := b.Build()
		require.NoError(t, err)

		_, err = b.Build()
		assert.ErrorIs(t, err, modulo.ErrBuilderConsumed)
	})
}
