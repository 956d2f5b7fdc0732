package modulo

import (
	"fmt"
	"reflect"
)

// Key identifies the interface a component or provider satisfies.
// It is the resolution key for every lookup in a Module.
type Key struct {
	t reflect.Type
}

// KeyOf returns the Key for the interface type I.
//
//	modulo.KeyOf[Logger]()
func KeyOf[I any]() Key {
	return Key{t: reflect.TypeFor[I]()}
}

// Type returns the underlying interface type.
func (k Key) Type() reflect.Type {
	return k.t
}

// IsZero reports whether k identifies no type.
func (k Key) IsZero() bool {
	return k.t == nil
}

func (k Key) String() string {
	if k.t == nil {
		return "<nil>"
	}
	return k.t.String()
}

// DependencyKind tags a Dependency as a component or a provider dependency.
type DependencyKind int

const (
	// ComponentKind marks a dependency on a shared, singleton-per-module service.
	ComponentKind DependencyKind = iota

	// ProviderKind marks a dependency on a service created fresh on every request.
	ProviderKind
)

func (k DependencyKind) String() string {
	switch k {
	case ComponentKind:
		return "Component"
	case ProviderKind:
		return "Provider"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Dependency declares a capability a service needs. Dependencies are metadata
// only: they are validated when a Definition is created and drive the static
// cycle check, but they never cause anything to be built.
type Dependency struct {
	Key  Key
	Kind DependencyKind

	// Collect requests every implementation registered with Multi instead of a
	// single binding.
	Collect bool
}

// Inject declares a dependency on the component implementing I.
func Inject[I any]() Dependency {
	return Dependency{Key: KeyOf[I](), Kind: ComponentKind}
}

// InjectAll declares a dependency on every component registered for I with Multi.
func InjectAll[I any]() Dependency {
	return Dependency{Key: KeyOf[I](), Kind: ComponentKind, Collect: true}
}

// InjectProvider declares a dependency on the provider implementing I.
// Only providers may declare provider dependencies.
func InjectProvider[I any]() Dependency {
	return Dependency{Key: KeyOf[I](), Kind: ProviderKind}
}

func (d Dependency) String() string {
	if d.Collect {
		return fmt.Sprintf("%s[]{%s}", d.Kind, d.Key)
	}
	return fmt.Sprintf("%s{%s}", d.Kind, d.Key)
}

// bindingKey addresses one slot. Impl is nil for single bindings and names the
// concrete type for members of a multi-binding.
type bindingKey struct {
	Interface reflect.Type
	Impl      reflect.Type
}

func singleBinding(k Key) bindingKey {
	return bindingKey{Interface: k.t}
}
