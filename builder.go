package modulo

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ModuleBuilder collects parameters, overrides and submodules before a module
// is built. Nothing is constructed until Build is called, and Build may be
// called only once.
type ModuleBuilder struct {
	def *Definition

	params            map[reflect.Type]parameterRecord
	overrides         map[reflect.Type]any
	fnOverrides       map[reflect.Type]componentFn
	providerOverrides map[reflect.Type]providerFunc
	submodules        map[string]*Module
	documents         [][]byte

	// overwritten lists components whose parameters were set more than once,
	// reported by Build so the warning reaches a logger set by a later option.
	overwritten []reflect.Type

	logger   *zap.Logger
	err      error
	consumed bool
}

type parameterRecord struct {
	value  any
	params reflect.Type
}

func newModuleBuilder(d *Definition) *ModuleBuilder {
	return &ModuleBuilder{
		def:               d,
		params:            make(map[reflect.Type]parameterRecord),
		overrides:         make(map[reflect.Type]any),
		fnOverrides:       make(map[reflect.Type]componentFn),
		providerOverrides: make(map[reflect.Type]providerFunc),
		submodules:        make(map[string]*Module),
		logger:            zap.NewNop(),
	}
}

// With applies more options to the builder.
func (b *ModuleBuilder) With(opts ...BuilderOption) *ModuleBuilder {
	for _, opt := range opts {
		if opt != nil {
			opt.applyBuilderOption(b)
		}
	}
	return b
}

func (b *ModuleBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build constructs the module. Every component that is not lazy is built in
// declaration order, each dependency first on demand; providers are captured
// but not invoked. A cycle, a missing required parameter or an unsatisfied
// dependency fails the whole build and no module is returned.
func (b *ModuleBuilder) Build() (*Module, error) {
	if b.consumed {
		return nil, BuildError{Module: b.def.name, Phase: "builder", Cause: ErrBuilderConsumed}
	}
	b.consumed = true

	for _, impl := range b.overwritten {
		b.logger.Warn("overwriting component parameters",
			zap.String("module", b.def.name),
			zap.Stringer("component", impl),
		)
	}

	if b.err != nil {
		return nil, BuildError{Module: b.def.name, Phase: "options", Cause: b.err}
	}

	if err := b.validateOverrides(); err != nil {
		return nil, BuildError{Module: b.def.name, Phase: "options", Cause: err}
	}

	if err := b.validateSubmodules(); err != nil {
		return nil, BuildError{Module: b.def.name, Phase: "submodules", Cause: err}
	}

	ctx, err := b.newContext()
	if err != nil {
		return nil, BuildError{Module: b.def.name, Phase: "options", Cause: err}
	}

	m := &Module{
		id:         uuid.NewString(),
		def:        b.def,
		providers:  make(map[reflect.Type]providerFunc, len(b.def.providers)),
		submodules: b.submodules,
		logger:     b.logger,
	}

	for _, reg := range b.def.components {
		if reg.lazy {
			continue
		}

		var err error
		if reg.multi {
			_, err = ctx.resolveMember(reg)
		} else {
			_, err = ctx.resolve(Key{t: reg.iface})
		}

		if ctx.fatal != nil {
			return nil, BuildError{Module: b.def.name, Phase: "components", Cause: ctx.fatal}
		}
		if err != nil {
			return nil, BuildError{Module: b.def.name, Phase: "components", Cause: err}
		}
	}

	m.slots = make(map[bindingKey]*slot, len(ctx.resolved))
	for key, s := range ctx.resolved {
		m.slots[key] = s
	}

	for _, reg := range b.def.providers {
		if fn, ok := b.providerOverrides[reg.iface]; ok {
			m.providers[reg.iface] = fn
			continue
		}
		m.providers[reg.iface] = reg.provide
	}

	for _, reg := range b.def.components {
		if reg.lazy {
			m.lazy = &lazyBuilder{ctx: ctx}
			break
		}
	}

	for _, sub := range b.submodules {
		sub.owners.Add(1)
	}

	b.logger.Debug("module built",
		zap.String("module", b.def.name),
		zap.String("id", m.id),
		zap.Int("components", len(m.slots)),
		zap.Int("providers", len(m.providers)),
		zap.Int("submodules", len(m.submodules)),
	)

	return m, nil
}

// MustBuild is like Build but panics on failure. Cycles and missing required
// parameters panic with their own error so the diagnostic is unchanged.
func (b *ModuleBuilder) MustBuild() *Module {
	m, err := b.Build()
	if err != nil {
		var cde CircularDependencyError
		if errors.As(err, &cde) {
			panic(cde)
		}
		var mde MissingDefaultError
		if errors.As(err, &mde) {
			panic(mde)
		}
		panic(err)
	}
	return m
}

func (b *ModuleBuilder) newContext() (*BuildContext, error) {
	ctx := &BuildContext{
		def:         b.def,
		resolved:    make(map[bindingKey]*slot, len(b.def.components)),
		fnOverrides: b.fnOverrides,
		params:      make(map[reflect.Type]any, len(b.params)),
		documents:   make(map[string]*yaml.Node),
		submodules:  b.submodules,
		logger:      b.logger,
	}

	for iface, instance := range b.overrides {
		ctx.resolved[bindingKey{Interface: iface}] = newSlot(Key{t: iface}, instance)
	}

	for impl, record := range b.params {
		ctx.params[impl] = record.value
	}

	for _, data := range b.documents {
		nodes, err := parseParameterDocument(data)
		if err != nil {
			return nil, err
		}
		for name, node := range nodes {
			ctx.documents[name] = node
		}
	}

	return ctx, nil
}

// validateOverrides checks that every override and parameter record targets
// something the definition declares.
func (b *ModuleBuilder) validateOverrides() error {
	for iface := range b.overrides {
		if _, ok := b.def.singles[iface]; !ok {
			return ValidationError{Interface: iface, Cause: ErrUnknownOverride}
		}
	}

	for iface := range b.fnOverrides {
		if _, ok := b.def.singles[iface]; !ok {
			return ValidationError{Interface: iface, Cause: ErrUnknownOverride}
		}
	}

	for iface := range b.providerOverrides {
		if _, ok := b.def.providerIdx[iface]; !ok {
			return ValidationError{Interface: iface, Cause: fmt.Errorf("module has no provider for override")}
		}
	}

	for impl, record := range b.params {
		if !b.def.hasParameters(impl, record.params) {
			return ValidationError{
				Interface: impl,
				Cause:     fmt.Errorf("no component %s takes parameters %s", formatType(impl), formatType(record.params)),
			}
		}
	}

	return nil
}

// validateSubmodules checks that each declared submodule was supplied and
// supports everything it is declared to export.
func (b *ModuleBuilder) validateSubmodules() error {
	for _, decl := range b.def.submodules {
		sub, ok := b.submodules[decl.name]
		if !ok || sub == nil {
			return MissingSubmoduleError{Module: b.def.name, Submodule: decl.name}
		}

		for _, export := range decl.exports {
			if !sub.supports(export) {
				return ValidationError{
					Interface: export.Key.t,
					Cause: fmt.Errorf("submodule %q (%s) does not support %s",
						decl.name, sub.Name(), export),
				}
			}
		}
	}

	for name := range b.submodules {
		if !b.def.declaresSubmodule(name) {
			return ValidationError{Cause: fmt.Errorf("module %q declares no submodule %q", b.def.name, name)}
		}
	}

	return nil
}

func (d *Definition) hasParameters(impl, params reflect.Type) bool {
	for _, reg := range d.components {
		if reg.impl == impl && reg.params == params {
			return true
		}
	}
	return false
}

func (d *Definition) declaresSubmodule(name string) bool {
	for _, sub := range d.submodules {
		if sub.name == name {
			return true
		}
	}
	return false
}

// A BuilderOption configures a ModuleBuilder.
type BuilderOption interface {
	applyBuilderOption(*ModuleBuilder)
}

type builderOptionFunc func(*ModuleBuilder)

func (f builderOptionFunc) applyBuilderOption(b *ModuleBuilder) {
	f(b)
}

// WithComponentParameters sets the parameter record of component type C. The
// record is used once, when C is built. Setting parameters for the same
// component twice keeps the last record and logs a warning.
//
//	modulo.WithComponentParameters[*ConsoleOutput](ConsoleOutputParams{Prefix: "PREFIX> "})
func WithComponentParameters[C any, P any](params P) BuilderOption {
	return builderOptionFunc(func(b *ModuleBuilder) {
		impl := reflect.TypeFor[C]()
		if _, ok := b.params[impl]; ok {
			b.overwritten = append(b.overwritten, impl)
		}
		b.params[impl] = parameterRecord{value: params, params: reflect.TypeFor[P]()}
	})
}

// WithParametersYAML supplies parameter records as a YAML document keyed by
// component name (see Named). Explicit WithComponentParameters records take
// precedence; fields missing from a document fall back to their defaults.
func WithParametersYAML(data []byte) BuilderOption {
	return builderOptionFunc(func(b *ModuleBuilder) {
		b.documents = append(b.documents, data)
	})
}

// WithComponentOverride replaces the component bound to I with instance. The
// original build function is never called.
func WithComponentOverride[I any](instance I) BuilderOption {
	return builderOptionFunc(func(b *ModuleBuilder) {
		iface := reflect.TypeFor[I]()
		if any(instance) == nil {
			b.fail(ValidationError{Interface: iface, Cause: ErrInstanceNil})
			return
		}
		b.overrides[iface] = instance
	})
}

// WithComponentOverrideFn replaces the build function of the component bound
// to I. The replacement runs with the build context, so it may resolve other
// components, and takes part in cycle detection under the original component.
func WithComponentOverrideFn[I any, C any](fn func(ctx *BuildContext) (C, error)) BuilderOption {
	return builderOptionFunc(func(b *ModuleBuilder) {
		iface := reflect.TypeFor[I]()
		if fn == nil {
			b.fail(ValidationError{Interface: iface, Cause: ErrBuildFuncNil})
			return
		}
		b.fnOverrides[iface] = func(ctx *BuildContext) (any, error) {
			c, err := fn(ctx)
			if err != nil {
				return nil, err
			}
			return asInterface[I](c, "component override")
		}
	})
}

// WithProviderOverride replaces the function of the provider bound to I.
func WithProviderOverride[I any, C any](fn func(m *Module) (C, error)) BuilderOption {
	return builderOptionFunc(func(b *ModuleBuilder) {
		iface := reflect.TypeFor[I]()
		if fn == nil {
			b.fail(ValidationError{Interface: iface, Cause: ErrBuildFuncNil})
			return
		}
		b.providerOverrides[iface] = typedProvider[I](fn)
	})
}

// WithSubmodule supplies the already-built module for the submodule declared
// under name.
func WithSubmodule(name string, m *Module) BuilderOption {
	return builderOptionFunc(func(b *ModuleBuilder) {
		if m == nil {
			b.fail(ValidationError{Cause: fmt.Errorf("submodule %q: %w", name, ErrModuleNil)})
			return
		}
		b.submodules[name] = m
	})
}

// WithLogger sets the logger used during the build and by the built module.
func WithLogger(logger *zap.Logger) BuilderOption {
	return builderOptionFunc(func(b *ModuleBuilder) {
		if logger != nil {
			b.logger = logger
		}
	})
}
