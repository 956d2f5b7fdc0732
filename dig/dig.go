// Package dig bridges modulo modules and go.uber.org/dig containers.
//
// Export publishes a built module into a dig container so code wired with dig
// can consume its services:
//
//	m, _ := AppModule.Build()
//
//	c := dig.New()
//	if err := modulodig.Export(m, c); err != nil {
//	    return err
//	}
//
//	err := c.Invoke(func(w Writer, newSession func() (Session, error)) {
//	    ...
//	})
//
// FromContainer goes the other way and lets a component be built by dig.
package dig

import (
	"fmt"
	"reflect"

	"go.uber.org/dig"

	"github.com/junioryono/modulo"
)

var errorType = reflect.TypeFor[error]()

// GroupName returns the dig value group that members of the multi-binding for
// k are exported to.
func GroupName(k modulo.Key) string {
	return k.String()
}

// Export registers every interface the module supports with c:
//   - single components as values of their interface type
//   - multi-bound components into the value group named by GroupName
//   - providers as factories of type func() (I, error)
//
// Export builds nothing itself; lazy components are built when the container
// first needs them.
func Export(m *modulo.Module, c *dig.Container) error {
	if m == nil {
		return modulo.ErrModuleNil
	}

	for _, k := range m.Interfaces() {
		if m.HasProvider(k) {
			if err := exportProvider(m, c, k); err != nil {
				return exportError(m, k, err)
			}
		}

		if m.IsCollection(k) {
			if err := exportCollection(m, c, k); err != nil {
				return exportError(m, k, err)
			}
		} else if m.HasComponent(k) {
			if err := exportComponent(m, c, k); err != nil {
				return exportError(m, k, err)
			}
		}
	}
	return nil
}

func exportError(m *modulo.Module, k modulo.Key, err error) error {
	return fmt.Errorf("export %s from module %q: %w", k, m.Name(), err)
}

// exportComponent provides func() (I, error) resolving the component.
func exportComponent(m *modulo.Module, c *dig.Container, k modulo.Key) error {
	iface := k.Type()
	ctor := reflect.MakeFunc(
		reflect.FuncOf(nil, []reflect.Type{iface, errorType}, false),
		func([]reflect.Value) []reflect.Value {
			v, err := m.ResolveKey(k)
			return result(iface, v, err)
		},
	)
	return c.Provide(ctor.Interface())
}

// exportCollection provides one constructor per member into the group.
func exportCollection(m *modulo.Module, c *dig.Container, k modulo.Key) error {
	members, err := m.ResolveAllKey(k)
	if err != nil {
		return err
	}

	iface := k.Type()
	for _, member := range members {
		ctor := reflect.MakeFunc(
			reflect.FuncOf(nil, []reflect.Type{iface}, false),
			func([]reflect.Value) []reflect.Value {
				return []reflect.Value{value(iface, member)}
			},
		)
		if err := c.Provide(ctor.Interface(), dig.Group(GroupName(k))); err != nil {
			return err
		}
	}
	return nil
}

// exportProvider provides a factory func() (I, error) invoking the provider.
func exportProvider(m *modulo.Module, c *dig.Container, k modulo.Key) error {
	iface := k.Type()
	factoryType := reflect.FuncOf(nil, []reflect.Type{iface, errorType}, false)

	factory := reflect.MakeFunc(factoryType, func([]reflect.Value) []reflect.Value {
		v, err := m.ProvideKey(k)
		return result(iface, v, err)
	})

	ctor := reflect.MakeFunc(
		reflect.FuncOf(nil, []reflect.Type{factoryType}, false),
		func([]reflect.Value) []reflect.Value {
			return []reflect.Value{factory}
		},
	)
	return c.Provide(ctor.Interface())
}

func result(iface reflect.Type, v any, err error) []reflect.Value {
	errValue := reflect.Zero(errorType)
	if err != nil {
		errValue = reflect.ValueOf(&err).Elem()
		return []reflect.Value{reflect.Zero(iface), errValue}
	}
	return []reflect.Value{value(iface, v), errValue}
}

func value(iface reflect.Type, v any) reflect.Value {
	out := reflect.New(iface).Elem()
	if v != nil {
		out.Set(reflect.ValueOf(v))
	}
	return out
}

// Get invokes c and returns the value of type T it holds.
func Get[T any](c *dig.Container) (T, error) {
	var want T
	err := c.Invoke(func(got T) {
		want = got
	})
	return want, err
}

// FromContainer returns a component build function that takes I from c. It is
// used to hand services that are already wired with dig to a module:
//
//	modulo.Component[Database](modulodig.FromContainer[Database](c))
func FromContainer[I any](c *dig.Container) func(*modulo.BuildContext, modulo.NoParams) (I, error) {
	return func(*modulo.BuildContext, modulo.NoParams) (I, error) {
		return Get[I](c)
	}
}
