package modulo

import (
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/junioryono/modulo/internal/graph"
)

// Option represents a registration action within a Definition.
type Option func(*Definition) error

// Definition is the static description of a module: the components, providers
// and submodules it declares. A Definition is immutable once Define returns
// and may be built into any number of independent modules.
type Definition struct {
	name string

	components []*componentReg
	singles    map[reflect.Type]*componentReg
	multis     map[reflect.Type][]*componentReg

	providers   []*providerReg
	providerIdx map[reflect.Type]*providerReg

	submodules []*submoduleReg
	exported   map[exportKey]*submoduleReg

	graph *graph.DependencyGraph[bindingKey]
}

type submoduleReg struct {
	name    string
	exports []Dependency
}

type exportKey struct {
	iface   reflect.Type
	kind    DependencyKind
	collect bool
}

func exportKeyOf(d Dependency) exportKey {
	return exportKey{iface: d.Key.t, kind: d.Kind, collect: d.Collect}
}

// Define creates a Definition from registration options and validates it.
//
//	var AppModule = modulo.MustDefine("app",
//	    modulo.Component[Output](NewConsoleOutput),
//	    modulo.Component[Writer](NewDateWriter, modulo.Requires(modulo.Inject[Output]())),
//	)
//
// Validation rejects duplicate bindings, declared dependencies the module does
// not bind, components that declare provider dependencies, and cycles among
// declared component dependencies.
func Define(name string, opts ...Option) (*Definition, error) {
	d := &Definition{
		name:        name,
		singles:     make(map[reflect.Type]*componentReg),
		multis:      make(map[reflect.Type][]*componentReg),
		providerIdx: make(map[reflect.Type]*providerReg),
		exported:    make(map[exportKey]*submoduleReg),
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}

		if err := opt(d); err != nil {
			return nil, ModuleError{Module: name, Cause: err}
		}
	}

	if err := d.validate(); err != nil {
		return nil, ModuleError{Module: name, Cause: err}
	}

	return d, nil
}

// MustDefine is like Define but panics if the definition is invalid.
func MustDefine(name string, opts ...Option) *Definition {
	d, err := Define(name, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Options groups registrations so they can be reused across definitions.
func Options(opts ...Option) Option {
	return func(d *Definition) error {
		for _, opt := range opts {
			if opt == nil {
				continue
			}

			if err := opt(d); err != nil {
				return err
			}
		}
		return nil
	}
}

// Submodule declares that the module is built from an already-built module,
// supplied to the builder with WithSubmodule, and re-exports the listed
// services as if they were declared locally.
//
//	modulo.Submodule("storage",
//	    modulo.Inject[Database](),
//	    modulo.InjectProvider[Session](),
//	)
//
// Dependencies the submodule uses internally need not be exported; they are
// resolved once, inside the submodule's own build.
func Submodule(name string, exports ...Dependency) Option {
	return func(d *Definition) error {
		if name == "" {
			return RegistrationError{Operation: "submodule", Cause: ErrSubmoduleNameEmpty}
		}

		for _, sub := range d.submodules {
			if sub.name == name {
				return RegistrationError{
					Operation: "submodule",
					Cause:     fmt.Errorf("submodule %q declared twice", name),
				}
			}
		}

		sub := &submoduleReg{name: name, exports: exports}
		for _, export := range exports {
			if export.Key.IsZero() {
				return RegistrationError{Operation: "submodule", Cause: ErrNotInterface}
			}

			if err := d.claim(export.Key.t, export.Kind, export.Collect, nil); err != nil {
				return err
			}
			d.exported[exportKeyOf(export)] = sub
		}

		d.submodules = append(d.submodules, sub)
		return nil
	}
}

// claim checks that binding iface with the given shape does not collide with
// an existing binding.
func (d *Definition) claim(iface reflect.Type, kind DependencyKind, multi bool, impl reflect.Type) error {
	if kind == ProviderKind {
		if existing, ok := d.providerIdx[iface]; ok {
			return AlreadyRegisteredError{Interface: iface, Existing: existing.impl}
		}
		if _, ok := d.exported[exportKey{iface: iface, kind: ProviderKind}]; ok {
			return AlreadyRegisteredError{Interface: iface, Existing: iface}
		}
		return nil
	}

	if existing, ok := d.singles[iface]; ok {
		return AlreadyRegisteredError{Interface: iface, Existing: existing.impl}
	}
	if _, ok := d.exported[exportKey{iface: iface, kind: ComponentKind}]; ok {
		return AlreadyRegisteredError{Interface: iface, Existing: iface}
	}

	if multi {
		for _, member := range d.multis[iface] {
			if member.impl == impl {
				return AlreadyRegisteredError{Interface: iface, Existing: impl}
			}
		}
		if _, ok := d.exported[exportKey{iface: iface, kind: ComponentKind, collect: true}]; ok {
			return AlreadyRegisteredError{Interface: iface, Existing: iface}
		}
		return nil
	}

	if members, ok := d.multis[iface]; ok && len(members) > 0 {
		return AlreadyRegisteredError{Interface: iface, Existing: members[0].impl}
	}
	if _, ok := d.exported[exportKey{iface: iface, kind: ComponentKind, collect: true}]; ok {
		return AlreadyRegisteredError{Interface: iface, Existing: iface}
	}
	return nil
}

func (d *Definition) addComponent(reg *componentReg) error {
	if err := d.claim(reg.iface, ComponentKind, reg.multi, reg.impl); err != nil {
		return err
	}

	for _, dep := range reg.deps {
		if dep.Kind == ProviderKind {
			return ValidationError{
				Interface: reg.iface,
				Cause:     fmt.Errorf("%w: %s requires %s", ErrProviderDependency, formatType(reg.impl), dep),
			}
		}
	}

	d.components = append(d.components, reg)
	if reg.multi {
		d.multis[reg.iface] = append(d.multis[reg.iface], reg)
	} else {
		d.singles[reg.iface] = reg
	}
	return nil
}

func (d *Definition) addProvider(reg *providerReg) error {
	if err := d.claim(reg.iface, ProviderKind, false, reg.impl); err != nil {
		return err
	}

	d.providers = append(d.providers, reg)
	d.providerIdx[reg.iface] = reg
	return nil
}

// validate checks declared dependencies and builds the static graph.
func (d *Definition) validate() error {
	g := graph.NewDependencyGraph[bindingKey]()

	for _, reg := range d.components {
		var attrs []string
		if reg.lazy {
			attrs = append(attrs, "lazy")
		}
		if reg.multi {
			attrs = append(attrs, "multi")
		}
		g.AddNode(reg.binding(), fmt.Sprintf("%s\n%s", formatType(reg.impl), formatType(reg.iface)), attrs...)

		for _, dep := range reg.deps {
			if err := d.checkDependency(dep, reg.impl); err != nil {
				return err
			}
			for _, target := range d.targets(dep) {
				g.AddEdge(reg.binding(), target)
			}
		}
	}

	for _, reg := range d.providers {
		key := bindingKey{Interface: reg.iface, Impl: reg.impl}
		g.AddNode(key, fmt.Sprintf("%s\n%s", formatType(reg.impl), formatType(reg.iface)), "provider")

		for _, dep := range reg.deps {
			if err := d.checkDependency(dep, reg.impl); err != nil {
				return err
			}
			for _, target := range d.targets(dep) {
				g.AddEdge(key, target)
			}
		}
	}

	for _, sub := range d.submodules {
		for _, export := range sub.exports {
			g.AddNode(exportBinding(export), fmt.Sprintf("%s\n%s", sub.name, formatType(export.Key.t)), "submodule")
		}
	}

	if err := g.DetectCycles(); err != nil {
		var cycle *graph.CircularDependencyError[bindingKey]
		if errors.As(err, &cycle) {
			return d.cycleError(cycle)
		}
		return err
	}

	d.graph = g
	return nil
}

// checkDependency reports a declared dependency the definition cannot satisfy.
func (d *Definition) checkDependency(dep Dependency, dependent reflect.Type) error {
	if d.supports(dep) {
		return nil
	}
	return MissingDependencyError{Interface: dep.Key.t, Kind: dep.Kind, Dependent: dependent}
}

func (d *Definition) supports(dep Dependency) bool {
	if _, ok := d.exported[exportKeyOf(dep)]; ok {
		return true
	}

	switch {
	case dep.Kind == ProviderKind:
		_, ok := d.providerIdx[dep.Key.t]
		return ok
	case dep.Collect:
		_, ok := d.multis[dep.Key.t]
		return ok
	default:
		_, ok := d.singles[dep.Key.t]
		return ok
	}
}

// targets returns the graph nodes a dependency points at.
func (d *Definition) targets(dep Dependency) []bindingKey {
	if _, ok := d.exported[exportKeyOf(dep)]; ok {
		return []bindingKey{exportBinding(dep)}
	}

	switch {
	case dep.Kind == ProviderKind:
		reg := d.providerIdx[dep.Key.t]
		return []bindingKey{{Interface: reg.iface, Impl: reg.impl}}
	case dep.Collect:
		members := d.multis[dep.Key.t]
		keys := make([]bindingKey, len(members))
		for i, member := range members {
			keys[i] = member.binding()
		}
		return keys
	default:
		return []bindingKey{d.singles[dep.Key.t].binding()}
	}
}

// exportBinding is the graph node of a re-exported service. The submodule has
// already been built, so these nodes never have outgoing edges.
func exportBinding(dep Dependency) bindingKey {
	return bindingKey{Interface: dep.Key.t, Impl: reflect.TypeFor[submoduleReg]()}
}

func (d *Definition) cycleError(cycle *graph.CircularDependencyError[bindingKey]) error {
	chain := make([]ChainStep, 0, len(cycle.Path))
	for _, key := range cycle.Path {
		chain = append(chain, d.stepFor(key))
	}
	return CircularDependencyError{Interface: cycle.Node.Interface, Chain: chain}
}

func (d *Definition) stepFor(key bindingKey) ChainStep {
	if key.Impl != nil {
		return ChainStep{Component: key.Impl, Interface: key.Interface}
	}
	return d.singles[key.Interface].step()
}

// Name returns the module name.
func (d *Definition) Name() string {
	return d.name
}

// Builder starts building a module from this definition.
func (d *Definition) Builder(opts ...BuilderOption) *ModuleBuilder {
	return newModuleBuilder(d).With(opts...)
}

// Build is shorthand for d.Builder(opts...).Build().
func (d *Definition) Build(opts ...BuilderOption) (*Module, error) {
	return d.Builder(opts...).Build()
}

// Components returns the keys of every component the definition declares
// locally, in declaration order. Multi-bound interfaces appear once.
func (d *Definition) Components() []Key {
	seen := make(map[reflect.Type]bool, len(d.components))
	keys := make([]Key, 0, len(d.components))
	for _, reg := range d.components {
		if seen[reg.iface] {
			continue
		}
		seen[reg.iface] = true
		keys = append(keys, Key{t: reg.iface})
	}
	return keys
}

// Providers returns the keys of every provider the definition declares locally.
func (d *Definition) Providers() []Key {
	keys := make([]Key, len(d.providers))
	for i, reg := range d.providers {
		keys[i] = Key{t: reg.iface}
	}
	return keys
}

// Dependencies returns the declared dependencies of the service bound to k,
// or nil if k is not declared locally.
func (d *Definition) Dependencies(k Key) []Dependency {
	if reg, ok := d.singles[k.t]; ok {
		return append([]Dependency(nil), reg.deps...)
	}
	if reg, ok := d.providerIdx[k.t]; ok {
		return append([]Dependency(nil), reg.deps...)
	}

	var deps []Dependency
	for _, member := range d.multis[k.t] {
		deps = append(deps, member.deps...)
	}
	return deps
}

// WriteDOT renders the declared dependency graph in Graphviz DOT format.
func (d *Definition) WriteDOT(w io.Writer) error {
	return graph.NewVisualizer(d.graph).WriteDOT(w, d.name)
}

// WriteText renders the declared dependency graph as text, dependencies first.
func (d *Definition) WriteText(w io.Writer) error {
	return graph.NewVisualizer(d.graph).WriteText(w)
}
