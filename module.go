package modulo

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Module is a built module: one instance per declared component, one function
// per declared provider and the submodules it was built from. A Module never
// changes after Build returns and is safe for concurrent use.
type Module struct {
	id  string
	def *Definition

	slots      map[bindingKey]*slot
	providers  map[reflect.Type]providerFunc
	submodules map[string]*Module

	// lazy is nil unless the definition declares lazy components.
	lazy      *lazyBuilder
	lazySlots sync.Map // map[reflect.Type]*slot

	// owners counts the parent modules built on top of this one.
	owners atomic.Int32

	logger *zap.Logger
}

// lazyBuilder keeps the build context alive after Build so lazy components
// can be constructed on first access.
type lazyBuilder struct {
	mu  sync.Mutex
	ctx *BuildContext
}

func (lb *lazyBuilder) resolve(key Key) (*slot, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.ctx.reset()
	s, err := lb.ctx.resolve(key)
	if lb.ctx.fatal != nil {
		return nil, lb.ctx.fatal
	}
	return s, err
}

// ID returns the unique identifier of this module instance.
func (m *Module) ID() string {
	return m.id
}

// Name returns the name of the module's definition.
func (m *Module) Name() string {
	return m.def.name
}

// Definition returns the definition the module was built from.
func (m *Module) Definition() *Definition {
	return m.def
}

// Submodule returns the submodule supplied under name, or nil.
func (m *Module) Submodule(name string) *Module {
	return m.submodules[name]
}

// HasComponent reports whether the module supports the component interface k,
// either declared locally or re-exported from a submodule.
func (m *Module) HasComponent(k Key) bool {
	return m.def.supports(Dependency{Key: k, Kind: ComponentKind}) ||
		m.def.supports(Dependency{Key: k, Kind: ComponentKind, Collect: true})
}

// HasProvider reports whether the module supports the provider interface k.
func (m *Module) HasProvider(k Key) bool {
	return m.def.supports(Dependency{Key: k, Kind: ProviderKind})
}

// Interfaces returns every interface the module supports, each once: local
// components, then local providers, then re-exported services.
func (m *Module) Interfaces() []Key {
	candidates := append(m.def.Components(), m.def.Providers()...)
	for _, sub := range m.def.submodules {
		for _, export := range sub.exports {
			candidates = append(candidates, export.Key)
		}
	}

	seen := make(map[reflect.Type]bool, len(candidates))
	keys := candidates[:0]
	for _, k := range candidates {
		if !seen[k.t] {
			seen[k.t] = true
			keys = append(keys, k)
		}
	}
	return keys
}

func (m *Module) supports(dep Dependency) bool {
	return m.def.supports(dep)
}

func (m *Module) available() []reflect.Type {
	keys := m.Interfaces()
	types := make([]reflect.Type, len(keys))
	for i, k := range keys {
		types[i] = k.t
	}
	return types
}

// componentSlot returns the slot of the single component bound to key,
// building it first if it is lazy.
func (m *Module) componentSlot(key Key) (*slot, error) {
	if key.IsZero() {
		return nil, ResolutionError{Kind: ComponentKind, Cause: ErrNotInterface}
	}

	if s, ok := m.slots[singleBinding(key)]; ok {
		return s, nil
	}

	if sub, ok := m.def.exported[exportKey{iface: key.t, kind: ComponentKind}]; ok {
		m.logger.Debug("forwarding component to submodule",
			zap.String("module", m.def.name),
			zap.String("submodule", sub.name),
			zap.Stringer("interface", key.t),
		)
		return m.submodules[sub.name].componentSlot(key)
	}

	if reg, ok := m.def.singles[key.t]; ok && reg.lazy {
		return m.lazySlot(key)
	}

	if _, ok := m.def.multis[key.t]; ok {
		return nil, ResolutionError{Interface: key.t, Kind: ComponentKind, Cause: ErrMultiBinding}
	}

	return nil, ResolutionError{Interface: key.t, Kind: ComponentKind, Available: m.available()}
}

func (m *Module) lazySlot(key Key) (*slot, error) {
	if s, ok := m.lazySlots.Load(key.t); ok {
		return s.(*slot), nil
	}

	m.logger.Debug("building lazy component",
		zap.String("module", m.def.name),
		zap.Stringer("interface", key.t),
	)

	s, err := m.lazy.resolve(key)
	if err != nil {
		return nil, BuildError{Module: m.def.name, Phase: "lazy", Cause: err}
	}

	actual, _ := m.lazySlots.LoadOrStore(key.t, s)
	return actual.(*slot), nil
}

// collectionSlots returns the slots of every member of the multi-binding for
// key, in declaration order.
func (m *Module) collectionSlots(key Key) ([]*slot, error) {
	if sub, ok := m.def.exported[exportKey{iface: key.t, kind: ComponentKind, collect: true}]; ok {
		return m.submodules[sub.name].collectionSlots(key)
	}

	members, ok := m.def.multis[key.t]
	if !ok {
		return nil, ResolutionError{Interface: key.t, Kind: ComponentKind, Available: m.available()}
	}

	slots := make([]*slot, 0, len(members))
	for _, reg := range members {
		s, ok := m.slots[reg.binding()]
		if !ok {
			return nil, ResolutionError{
				Interface: key.t,
				Kind:      ComponentKind,
				Cause:     fmt.Errorf("member %s was not built", formatType(reg.impl)),
			}
		}
		slots = append(slots, s)
	}
	return slots, nil
}

// mutableSlot returns the slot ResolveMut may lock. Components re-exported
// from a submodule are only mutable while no other parent shares it.
func (m *Module) mutableSlot(key Key) (*slot, error) {
	if sub, ok := m.def.exported[exportKey{iface: key.t, kind: ComponentKind}]; ok {
		child := m.submodules[sub.name]
		if n := child.owners.Load(); n > 1 {
			return nil, SharedInstanceError{Interface: key.t, Handles: int64(n - 1)}
		}
		return child.mutableSlot(key)
	}
	return m.componentSlot(key)
}

func (m *Module) provide(key Key) (any, error) {
	if sub, ok := m.def.exported[exportKey{iface: key.t, kind: ProviderKind}]; ok {
		return m.submodules[sub.name].provide(key)
	}

	fn, ok := m.providers[key.t]
	if !ok {
		return nil, ResolutionError{Interface: key.t, Kind: ProviderKind, Available: m.available()}
	}

	v, err := fn(m)
	if err != nil {
		return nil, ProviderError{Interface: key.t, Cause: err}
	}
	return v, nil
}

// Resolve returns a counted handle to the component bound to I. While the
// handle is held, ResolveMut for I fails.
//
//	h, err := modulo.Resolve[Writer](m)
//	if err != nil {
//	    return err
//	}
//	defer h.Release()
//	h.Get().WriteDate()
func Resolve[I any](m *Module) (*Handle[I], error) {
	if m == nil {
		return nil, ErrModuleNil
	}

	s, err := m.componentSlot(KeyOf[I]())
	if err != nil {
		return nil, err
	}

	v, err := shareAs[I](nil, s)
	if err != nil {
		s.release()
		return nil, err
	}
	return newHandle(s, v), nil
}

// ResolveRef returns the component bound to I without counting a reference.
// The returned value must not be retained past the point where exclusive
// access through ResolveMut may be requested.
func ResolveRef[I any](m *Module) (I, error) {
	var zero I

	if m == nil {
		return zero, ErrModuleNil
	}

	s, err := m.componentSlot(KeyOf[I]())
	if err != nil {
		return zero, err
	}

	v, ok := s.load().(I)
	if !ok {
		return zero, TypeMismatchError{
			Expected: reflect.TypeFor[I](),
			Actual:   reflect.TypeOf(s.load()),
			Context:  "resolve",
		}
	}
	return v, nil
}

// MustResolveRef is like ResolveRef but panics if I cannot be resolved.
func MustResolveRef[I any](m *Module) I {
	v, err := ResolveRef[I](m)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve component: %v", err))
	}
	return v
}

// ResolveMut runs fn with exclusive access to the component bound to I. It
// fails with a SharedInstanceError, without calling fn, while any handle
// from Resolve is outstanding or another component holds I as a dependency.
//
//	err := modulo.ResolveMut[Counter](m, func(c Counter) error {
//	    c.Set(10)
//	    return nil
//	})
func ResolveMut[I any](m *Module, fn func(I) error) error {
	if m == nil {
		return ErrModuleNil
	}

	s, err := m.mutableSlot(KeyOf[I]())
	if err != nil {
		return err
	}

	return s.exclusive(func(v any) error {
		i, ok := v.(I)
		if !ok {
			return TypeMismatchError{
				Expected: reflect.TypeFor[I](),
				Actual:   reflect.TypeOf(v),
				Context:  "resolve mut",
			}
		}
		return fn(i)
	})
}

// ResolveAllRef returns every member of the multi-binding for I in
// declaration order.
func ResolveAllRef[I any](m *Module) ([]I, error) {
	if m == nil {
		return nil, ErrModuleNil
	}

	slots, err := m.collectionSlots(KeyOf[I]())
	if err != nil {
		return nil, err
	}

	result := make([]I, 0, len(slots))
	for i, s := range slots {
		v, ok := s.load().(I)
		if !ok {
			return nil, TypeMismatchError{
				Expected: reflect.TypeFor[I](),
				Actual:   reflect.TypeOf(s.load()),
				Context:  fmt.Sprintf("collection member %d", i),
			}
		}
		result = append(result, v)
	}
	return result, nil
}

// Provide invokes the provider bound to I and returns the new instance, which
// the caller owns. Errors from the provider function are wrapped in a
// ProviderError and can be inspected with errors.Is and errors.As.
func Provide[I any](m *Module) (I, error) {
	var zero I

	if m == nil {
		return zero, ErrModuleNil
	}

	v, err := m.provide(KeyOf[I]())
	if err != nil {
		return zero, err
	}

	result, ok := v.(I)
	if !ok {
		return zero, TypeMismatchError{
			Expected: reflect.TypeFor[I](),
			Actual:   reflect.TypeOf(v),
			Context:  "provide",
		}
	}
	return result, nil
}

// MustProvide is like Provide but panics on failure.
func MustProvide[I any](m *Module) I {
	v, err := Provide[I](m)
	if err != nil {
		panic(fmt.Sprintf("failed to provide service: %v", err))
	}
	return v
}

// ResolveKey returns the component bound to k without counting a reference.
// It is the untyped form of ResolveRef, for integrations that work with keys.
func (m *Module) ResolveKey(k Key) (any, error) {
	s, err := m.componentSlot(k)
	if err != nil {
		return nil, err
	}
	return s.load(), nil
}

// ResolveAllKey returns every member of the multi-binding for k in
// declaration order. It is the untyped form of ResolveAllRef.
func (m *Module) ResolveAllKey(k Key) ([]any, error) {
	slots, err := m.collectionSlots(k)
	if err != nil {
		return nil, err
	}

	values := make([]any, len(slots))
	for i, s := range slots {
		values[i] = s.load()
	}
	return values, nil
}

// ProvideKey invokes the provider bound to k. It is the untyped form of Provide.
func (m *Module) ProvideKey(k Key) (any, error) {
	return m.provide(k)
}

// IsCollection reports whether k is bound as a multi-binding.
func (m *Module) IsCollection(k Key) bool {
	return m.def.supports(Dependency{Key: k, Kind: ComponentKind, Collect: true})
}

type moduleContextKey struct{}

// NewContext returns a copy of ctx carrying m. Web integrations use it to
// make a module available to request handlers.
func NewContext(ctx context.Context, m *Module) context.Context {
	return context.WithValue(ctx, moduleContextKey{}, m)
}

// FromContext returns the module carried by ctx.
func FromContext(ctx context.Context) (*Module, error) {
	m, ok := ctx.Value(moduleContextKey{}).(*Module)
	if !ok || m == nil {
		return nil, ErrNoModule
	}
	return m, nil
}
