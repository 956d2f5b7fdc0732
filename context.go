package modulo

import (
	"fmt"
	"reflect"
	"runtime/debug"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// BuildContext carries the transient state of one module build: resolved
// instances, overrides, pending parameter records and the resolution chain
// used to detect circular dependencies.
//
// Build functions receive the context and use Get and GetAll to obtain
// their dependencies. A BuildContext must not be retained after the build
// function returns.
type BuildContext struct {
	def *Definition

	resolved    map[bindingKey]*slot
	fnOverrides map[reflect.Type]componentFn
	params      map[reflect.Type]any
	documents   map[string]*yaml.Node
	submodules  map[string]*Module

	chain []ChainStep

	// shared holds the references taken by Get and GetAll for the builds in
	// progress. A failed build gives its references back.
	shared []*slot

	// fatal records the first cycle or missing-default failure so the build
	// fails even if a build function discards the error.
	fatal error

	logger *zap.Logger
}

// componentFn builds a replacement instance for an overridden component.
type componentFn func(ctx *BuildContext) (any, error)

// Get returns the component bound to I, building it first if needed. Once the
// calling build succeeds it keeps a shared reference to the instance for the
// lifetime of the module, which prevents exclusive access through ResolveMut.
// If the calling build fails, the reference is given back.
//
//	func NewDateWriter(ctx *modulo.BuildContext, p DateWriterParams) (*DateWriter, error) {
//	    out, err := modulo.Get[Output](ctx)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return &DateWriter{output: out, today: p.Today}, nil
//	}
func Get[I any](ctx *BuildContext) (I, error) {
	var zero I

	s, err := ctx.resolve(KeyOf[I]())
	if err != nil {
		return zero, err
	}

	return shareAs[I](ctx, s)
}

// GetAll returns every implementation registered for I with Multi, in
// declaration order, building any that have not been built yet.
func GetAll[I any](ctx *BuildContext) ([]I, error) {
	slots, err := ctx.resolveAll(KeyOf[I]())
	if err != nil {
		return nil, err
	}

	result := make([]I, 0, len(slots))
	for _, s := range slots {
		v, err := shareAs[I](ctx, s)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

func shareAs[I any](ctx *BuildContext, s *slot) (I, error) {
	v, ok := s.share().(I)
	if ctx != nil {
		ctx.shared = append(ctx.shared, s)
	}
	if !ok {
		var zero I
		return zero, TypeMismatchError{
			Expected: reflect.TypeFor[I](),
			Actual:   reflect.TypeOf(s.load()),
			Context:  "resolve",
		}
	}
	return v, nil
}

// Submodule returns the submodule supplied under name, or nil.
func (ctx *BuildContext) Submodule(name string) *Module {
	return ctx.submodules[name]
}

// Chain returns a copy of the current resolution chain, outermost first.
func (ctx *BuildContext) Chain() []ChainStep {
	return append([]ChainStep(nil), ctx.chain...)
}

// resolve implements single-binding resolution: overridden or already-built
// instances are returned as they are, re-exported interfaces are forwarded to
// their submodule, and anything else is built with cycle detection.
func (ctx *BuildContext) resolve(key Key) (*slot, error) {
	binding := singleBinding(key)
	if s, ok := ctx.resolved[binding]; ok {
		return s, nil
	}

	if sub, ok := ctx.def.exported[exportKey{iface: key.t, kind: ComponentKind}]; ok {
		return ctx.submodules[sub.name].componentSlot(key)
	}

	reg, ok := ctx.def.singles[key.t]
	if !ok {
		if _, multi := ctx.def.multis[key.t]; multi {
			return nil, ResolutionError{Interface: key.t, Kind: ComponentKind, Cause: ErrMultiBinding}
		}
		return nil, MissingDependencyError{Interface: key.t, Kind: ComponentKind, Dependent: ctx.dependent()}
	}

	return ctx.build(reg)
}

func (ctx *BuildContext) resolveAll(key Key) ([]*slot, error) {
	if sub, ok := ctx.def.exported[exportKey{iface: key.t, kind: ComponentKind, collect: true}]; ok {
		return ctx.submodules[sub.name].collectionSlots(key)
	}

	members, ok := ctx.def.multis[key.t]
	if !ok {
		return nil, MissingDependencyError{Interface: key.t, Kind: ComponentKind, Dependent: ctx.dependent()}
	}

	slots := make([]*slot, 0, len(members))
	for _, reg := range members {
		s, err := ctx.resolveMember(reg)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, nil
}

func (ctx *BuildContext) resolveMember(reg *componentReg) (*slot, error) {
	if s, ok := ctx.resolved[reg.binding()]; ok {
		return s, nil
	}
	return ctx.build(reg)
}

// build constructs reg, records the instance and returns its slot.
func (ctx *BuildContext) build(reg *componentReg) (*slot, error) {
	if err := ctx.push(reg.step()); err != nil {
		return nil, err
	}
	defer ctx.pop()

	build := func(ctx *BuildContext) (any, error) {
		return reg.build(ctx, reg)
	}
	override := false
	if !reg.multi {
		if fn, ok := ctx.fnOverrides[reg.iface]; ok {
			build, override = fn, true
		}
	}

	mark := len(ctx.shared)

	ctx.logger.Debug("building component",
		zap.Stringer("interface", reg.iface),
		zap.Stringer("component", reg.impl),
		zap.Int("depth", len(ctx.chain)),
	)

	value, err := ctx.invoke(reg, build)
	if err != nil {
		for _, s := range ctx.shared[mark:] {
			s.release()
		}
		ctx.shared = ctx.shared[:mark]
		if isFatal(err) && ctx.fatal == nil {
			ctx.fatal = err
		}
		return nil, err
	}

	// The instance now holds its dependencies for good.
	ctx.shared = ctx.shared[:mark]
	if override {
		delete(ctx.fnOverrides, reg.iface)
	}

	s := newSlot(Key{t: reg.iface}, value)
	ctx.resolved[reg.binding()] = s
	return s, nil
}

// invoke runs a build function, turning panics into errors.
func (ctx *BuildContext) invoke(reg *componentReg, build componentFn) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ComponentPanicError{
				Component: reg.impl,
				Interface: reg.iface,
				Panic:     r,
				Stack:     debug.Stack(),
			}
		}
	}()

	return build(ctx)
}

// push adds a step to the resolution chain, failing if the same component is
// already being built for the same interface.
func (ctx *BuildContext) push(step ChainStep) error {
	for _, existing := range ctx.chain {
		if existing == step {
			err := CircularDependencyError{
				Interface: step.Interface,
				Chain:     ctx.Chain(),
			}
			if ctx.fatal == nil {
				ctx.fatal = err
			}
			return err
		}
	}

	ctx.chain = append(ctx.chain, step)
	return nil
}

func (ctx *BuildContext) pop() {
	ctx.chain = ctx.chain[:len(ctx.chain)-1]
}

// dependent is the component currently being built, if any.
func (ctx *BuildContext) dependent() reflect.Type {
	if len(ctx.chain) == 0 {
		return nil
	}
	return ctx.chain[len(ctx.chain)-1].Component
}

// reset clears per-request state before a lazy build reuses the context.
func (ctx *BuildContext) reset() {
	ctx.chain = ctx.chain[:0]
	ctx.shared = ctx.shared[:0]
	ctx.fatal = nil
}

// takeParameters removes and returns the parameter record for reg. Explicit
// records win over parameter documents, which win over synthesized defaults.
func takeParameters[P any](ctx *BuildContext, reg *componentReg) (P, error) {
	if v, ok := ctx.params[reg.impl]; ok {
		delete(ctx.params, reg.impl)

		p, ok := v.(P)
		if !ok {
			var zero P
			return zero, TypeMismatchError{
				Expected: reflect.TypeFor[P](),
				Actual:   reflect.TypeOf(v),
				Context:  fmt.Sprintf("parameters of %s", formatType(reg.impl)),
			}
		}
		return p, nil
	}

	if node, ok := ctx.documents[reg.name]; ok {
		delete(ctx.documents, reg.name)
		return decodeParameters[P](node)
	}

	return defaultParameters[P]()
}
