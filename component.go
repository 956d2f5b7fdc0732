package modulo

import (
	"fmt"
	"reflect"
	"strings"
)

// componentReg is the registration of one component implementation.
type componentReg struct {
	iface  reflect.Type
	impl   reflect.Type
	params reflect.Type
	name   string
	deps   []Dependency
	lazy   bool
	multi  bool

	// build takes the parameter record from the context and constructs the
	// instance, already converted to the interface type.
	build func(ctx *BuildContext, reg *componentReg) (any, error)
}

func (r *componentReg) binding() bindingKey {
	if r.multi {
		return bindingKey{Interface: r.iface, Impl: r.impl}
	}
	return bindingKey{Interface: r.iface}
}

func (r *componentReg) step() ChainStep {
	return ChainStep{Component: r.impl, Interface: r.iface}
}

// Component registers C as the implementation of interface I. The build
// function receives the build context, used to resolve other components, and
// the parameter record P for this component.
//
//	type ConsoleOutputParams struct {
//	    Prefix string `default:""`
//	}
//
//	func NewConsoleOutput(_ *modulo.BuildContext, p ConsoleOutputParams) (*ConsoleOutput, error) {
//	    return &ConsoleOutput{prefix: p.Prefix}, nil
//	}
//
//	modulo.Component[Output](NewConsoleOutput)
//
// Only I needs to be spelled out; C and P are inferred from the build function.
func Component[I any, C any, P any](build func(ctx *BuildContext, params P) (C, error), opts ...ServiceOption) Option {
	return func(d *Definition) error {
		iface := reflect.TypeFor[I]()
		impl := reflect.TypeFor[C]()

		if build == nil {
			return RegistrationError{Interface: iface, Operation: "component", Cause: ErrBuildFuncNil}
		}
		if err := checkBinding(iface, impl, "component registration"); err != nil {
			return RegistrationError{Interface: iface, Operation: "component", Cause: err}
		}

		options := newServiceOptions(opts)
		if options.lazy && options.multi {
			return RegistrationError{Interface: iface, Operation: "component", Cause: ErrLazyMulti}
		}

		reg := &componentReg{
			iface:  iface,
			impl:   impl,
			params: reflect.TypeFor[P](),
			name:   options.name,
			deps:   options.deps,
			lazy:   options.lazy,
			multi:  options.multi,
		}
		if reg.name == "" {
			reg.name = typeBaseName(impl)
		}

		reg.build = func(ctx *BuildContext, reg *componentReg) (any, error) {
			params, err := takeParameters[P](ctx, reg)
			if err != nil {
				return nil, err
			}

			c, err := build(ctx, params)
			if err != nil {
				return nil, err
			}

			return asInterface[I](c, "component build")
		}

		return d.addComponent(reg)
	}
}

// providerReg is the registration of one provider function.
type providerReg struct {
	iface   reflect.Type
	impl    reflect.Type
	deps    []Dependency
	provide providerFunc
}

// providerFunc produces a fresh instance, converted to the interface type.
type providerFunc func(m *Module) (any, error)

// Provider registers fn as the provider of interface I. Unlike components,
// providers run on every Provide call and hand out an instance owned by the
// caller. The function receives the fully built module and may resolve both
// components and other providers from it.
//
//	modulo.Provider[UserRepository](func(m *modulo.Module) (*userRepository, error) {
//	    db, err := modulo.ResolveRef[Database](m)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return &userRepository{db: db}, nil
//	}, modulo.Requires(modulo.Inject[Database]()))
func Provider[I any, C any](fn func(m *Module) (C, error), opts ...ServiceOption) Option {
	return func(d *Definition) error {
		iface := reflect.TypeFor[I]()
		impl := reflect.TypeFor[C]()

		if fn == nil {
			return RegistrationError{Interface: iface, Operation: "provider", Cause: ErrBuildFuncNil}
		}
		if err := checkBinding(iface, impl, "provider registration"); err != nil {
			return RegistrationError{Interface: iface, Operation: "provider", Cause: err}
		}

		options := newServiceOptions(opts)
		if options.lazy || options.multi {
			return RegistrationError{
				Interface: iface,
				Operation: "provider",
				Cause:     fmt.Errorf("providers accept only modulo.Requires"),
			}
		}

		return d.addProvider(&providerReg{
			iface:   iface,
			impl:    impl,
			deps:    options.deps,
			provide: typedProvider[I](fn),
		})
	}
}

func typedProvider[I any, C any](fn func(m *Module) (C, error)) providerFunc {
	return func(m *Module) (any, error) {
		c, err := fn(m)
		if err != nil {
			return nil, err
		}
		return asInterface[I](c, "provider result")
	}
}

// asInterface converts c to I and boxes it for storage.
func asInterface[I any](c any, context string) (any, error) {
	i, ok := c.(I)
	if !ok {
		return nil, TypeMismatchError{
			Expected: reflect.TypeFor[I](),
			Actual:   reflect.TypeOf(c),
			Context:  context,
		}
	}
	return i, nil
}

func checkBinding(iface, impl reflect.Type, context string) error {
	if iface.Kind() != reflect.Interface {
		return ErrNotInterface
	}
	if impl.Kind() != reflect.Interface && !impl.Implements(iface) {
		return TypeMismatchError{Expected: iface, Actual: impl, Context: context}
	}
	return nil
}

// typeBaseName is the name a component goes by in parameter documents.
func typeBaseName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		// Generic instantiations carry their type arguments in the name.
		if i := strings.IndexByte(name, '['); i > 0 {
			return name[:i]
		}
		return name
	}
	return t.String()
}

// A ServiceOption modifies how Component and Provider register a service.
type ServiceOption interface {
	applyServiceOption(*serviceOptions)
}

type serviceOptions struct {
	deps  []Dependency
	lazy  bool
	multi bool
	name  string
}

func newServiceOptions(opts []ServiceOption) *serviceOptions {
	options := &serviceOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt.applyServiceOption(options)
		}
	}
	return options
}

type serviceOptionFunc func(*serviceOptions)

func (f serviceOptionFunc) applyServiceOption(o *serviceOptions) {
	f(o)
}

// Requires declares the dependencies of a service. Declared dependencies are
// checked when the Definition is created: each must be bound by the module,
// components may only require components, and cycles among components are
// rejected before anything is built.
func Requires(deps ...Dependency) ServiceOption {
	return serviceOptionFunc(func(o *serviceOptions) {
		o.deps = append(o.deps, deps...)
	})
}

// Lazy defers building a component until it is first needed. A lazy component
// that another component depends on is still built during module build.
func Lazy() ServiceOption {
	return serviceOptionFunc(func(o *serviceOptions) {
		o.lazy = true
	})
}

// Multi adds the component to the collection of implementations of its
// interface instead of binding the interface exclusively. Collections are
// resolved with GetAll and ResolveAllRef, in declaration order.
func Multi() ServiceOption {
	return serviceOptionFunc(func(o *serviceOptions) {
		o.multi = true
	})
}

// Named sets the name a component's parameters are looked up by in parameter
// documents. It defaults to the component type's name.
func Named(name string) ServiceOption {
	return serviceOptionFunc(func(o *serviceOptions) {
		o.name = name
	})
}
