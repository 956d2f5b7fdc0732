package testutil

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junioryono/modulo"
)

// MustDefine defines a module or fails the test.
func MustDefine(t *testing.T, name string, opts ...modulo.Option) *modulo.Definition {
	t.Helper()
	def, err := modulo.Define(name, opts...)
	require.NoError(t, err, "failed to define module %q", name)
	return def
}

// MustBuild builds a module or fails the test.
func MustBuild(t *testing.T, def *modulo.Definition, opts ...modulo.BuilderOption) *modulo.Module {
	t.Helper()
	m, err := def.Build(opts...)
	require.NoError(t, err, "failed to build module %q", def.Name())
	require.NotNil(t, m)
	return m
}

// AssertResolvable checks that I resolves to a non-nil component.
func AssertResolvable[I any](t *testing.T, m *modulo.Module) I {
	t.Helper()
	v, err := modulo.ResolveRef[I](m)
	require.NoError(t, err, "failed to resolve %s", reflect.TypeFor[I]())
	require.NotNil(t, v, "resolved component is nil")
	return v
}

// AssertNotFound checks that resolving I fails with a not-found error.
func AssertNotFound[I any](t *testing.T, m *modulo.Module) {
	t.Helper()
	_, err := modulo.ResolveRef[I](m)
	assert.Error(t, err)
	assert.True(t, modulo.IsNotFound(err), "expected not found error, got: %v", err)
}

// AssertCircular checks that err is a circular dependency error while
// resolving iface whose chain lists exactly the given component types.
func AssertCircular(t *testing.T, err error, iface reflect.Type, chain ...reflect.Type) {
	t.Helper()
	require.Error(t, err)

	var cycle modulo.CircularDependencyError
	require.True(t, errors.As(err, &cycle), "expected circular dependency error, got: %v", err)
	assert.Equal(t, iface, cycle.Interface)

	names := make([]string, len(chain))
	for i, c := range chain {
		names[i] = c.String()
	}
	expected := "Circular dependency detected while resolving " + iface.String() +
		". Resolution chain: [" + strings.Join(names, ", ") + "]"
	assert.Equal(t, expected, cycle.Error())
}

// AssertShared checks that err reports outstanding shared references.
func AssertShared(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, modulo.IsShared(err), "expected shared instance error, got: %v", err)

	var shared modulo.SharedInstanceError
	assert.True(t, errors.As(err, &shared))
}
