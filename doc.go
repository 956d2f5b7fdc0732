// Package modulo provides module-based dependency injection for Go applications.
// Services are declared up front, wired by interface, and constructed in a
// single build step with circular dependencies detected before anything runs.
//
// # Overview
//
// A module is an immutable aggregate of services keyed by interface:
//   - Components: one instance per module, built once and shared
//   - Providers: factories invoked on every request, producing caller-owned values
//   - Submodules: already-built modules whose services are re-exported
//
// Wiring is declared explicitly. There are no struct tags for injection and no
// constructor reflection; dependencies are resolved inside build functions.
//
// # Basic Usage
//
// Define a module, build it and resolve components by interface:
//
//	var AppModule = modulo.MustDefine("app",
//	    modulo.Component[Output](NewConsoleOutput),
//	    modulo.Component[Writer](NewDateWriter,
//	        modulo.Requires(modulo.Inject[Output]())),
//	)
//
//	m, err := AppModule.Build(
//	    modulo.WithComponentParameters[*DateWriter](DateWriterParams{Today: "June 19"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	writer := modulo.MustResolveRef[Writer](m)
//	writer.WriteDate()
//
// # Components
//
// A component build function receives the build context and its parameter
// record. Dependencies are obtained from the context:
//
//	func NewDateWriter(ctx *modulo.BuildContext, p DateWriterParams) (*DateWriter, error) {
//	    out, err := modulo.Get[Output](ctx)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return &DateWriter{output: out, today: p.Today}, nil
//	}
//
// Demanding a component that is still being built fails the build with a
// CircularDependencyError listing the resolution chain.
//
// # Parameters
//
// Parameter records are plain structs. Field defaults come from the default
// tag, decoded as YAML; fields tagged required must be supplied:
//
//	type DateWriterParams struct {
//	    Today  string `required:"true"`
//	    Layout string `default:"Jan 2"`
//	}
//
// Records can also be loaded from a YAML document keyed by component name with
// WithParametersYAML.
//
// # Providers
//
// Providers run on every Provide call and receive the built module:
//
//	modulo.Provider[Session](func(m *modulo.Module) (*session, error) {
//	    db, err := modulo.ResolveRef[Database](m)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return &session{db: db}, nil
//	})
//
//	s, err := modulo.Provide[Session](m)
//
// # Overrides
//
// Any component or provider can be replaced when building, typically in tests:
//
//	m, err := AppModule.Build(
//	    modulo.WithComponentOverride[Output](&fakeOutput{}),
//	    modulo.WithProviderOverride[Session](newFakeSession),
//	)
//
// # Submodules
//
// A module can be built on top of other modules and re-export some of their
// services. Dependencies hidden inside a submodule are never rebuilt:
//
//	var AppModule = modulo.MustDefine("app",
//	    modulo.Submodule("storage", modulo.Inject[Database]()),
//	    modulo.Component[UserService](NewUserService),
//	)
//
//	storage, _ := StorageModule.Build()
//	app, _ := AppModule.Build(modulo.WithSubmodule("storage", storage))
//
// # Shared and Exclusive Access
//
// Resolve returns a counted Handle. ResolveMut grants exclusive access to a
// component only while no handle is outstanding and no other component holds
// it as a dependency; otherwise it returns a SharedInstanceError.
//
// # Error Handling
//
// Errors are typed and work with errors.Is and errors.As:
//
//	if modulo.IsNotFound(err) {
//	    // interface not supported by the module
//	}
//
//	var cycle modulo.CircularDependencyError
//	if errors.As(err, &cycle) {
//	    log.Printf("cycle: %v", cycle.Chain)
//	}
//
// # Web Frameworks
//
// NewContext and FromContext carry a module through a context.Context. The
// chi package (net/http) and the nested echo, gin and fiber modules build their
// middleware on them.
//
// # Thread Safety
//
// Build is synchronous. A built Module is safe for concurrent use; lazy
// components are constructed under a module-wide lock on first access.
package modulo
