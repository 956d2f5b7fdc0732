package modulo

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ========================================
// Core Error Values (Sentinel Errors)
// ========================================
// These are base errors that should be wrapped in typed errors when returned.

var (
	// Resolution errors.
	ErrServiceNotFound = errors.New("service not found")
	ErrModuleNil       = errors.New("module cannot be nil")

	// Registration errors.
	ErrBuildFuncNil       = errors.New("build function cannot be nil")
	ErrNotInterface       = errors.New("service key must be an interface type")
	ErrProviderDependency = errors.New("components may not depend on providers")
	ErrLazyMulti          = errors.New("lazy components cannot join a multi-binding")
	ErrSubmoduleNameEmpty = errors.New("submodule name cannot be empty")

	// Builder errors.
	ErrBuilderConsumed = errors.New("module builder has already been built")
	ErrInstanceNil     = errors.New("override instance cannot be nil")
	ErrUnknownOverride = errors.New("module has no component for override")

	// Access errors.
	ErrSharedInstance = errors.New("instance is shared")
	ErrMultiBinding   = errors.New("interface is bound to multiple implementations")
	ErrNoModule       = errors.New("no module in context")
)

var (
	_ error = RegistrationError{}
	_ error = AlreadyRegisteredError{}
	_ error = TypeMismatchError{}
	_ error = ValidationError{}
	_ error = MissingDependencyError{}
	_ error = MissingSubmoduleError{}
	_ error = CircularDependencyError{}
	_ error = MissingDefaultError{}
	_ error = ResolutionError{}
	_ error = ProviderError{}
	_ error = SharedInstanceError{}
	_ error = ComponentPanicError{}
	_ error = BuildError{}
	_ error = ModuleError{}
)

// ========================================
// Typed Errors for Rich Context
// ========================================

// RegistrationError wraps errors raised while declaring a service.
type RegistrationError struct {
	Interface reflect.Type
	Operation string // "component", "provider", "submodule"
	Cause     error
}

func (e RegistrationError) Error() string {
	return fmt.Sprintf("failed to register %s %s: %v", e.Operation, formatType(e.Interface), e.Cause)
}

func (e RegistrationError) Unwrap() error {
	return e.Cause
}

// AlreadyRegisteredError indicates an interface already has a single binding.
type AlreadyRegisteredError struct {
	Interface reflect.Type
	Existing  reflect.Type
}

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("%s is already bound to %s (use modulo.Multi to collect several implementations)",
		formatType(e.Interface), formatType(e.Existing))
}

// TypeMismatchError indicates a concrete type does not satisfy the interface
// it was registered or overridden for.
type TypeMismatchError struct {
	Expected reflect.Type
	Actual   reflect.Type
	Context  string // "component registration", "provider result", etc.
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: %s does not implement %s", e.Context, formatType(e.Actual), formatType(e.Expected))
}

// ValidationError indicates the declared wiring is inconsistent.
type ValidationError struct {
	Interface reflect.Type
	Cause     error
}

func (e ValidationError) Error() string {
	if e.Interface != nil {
		return fmt.Sprintf("%s: %v", formatType(e.Interface), e.Cause)
	}
	return e.Cause.Error()
}

func (e ValidationError) Unwrap() error {
	return e.Cause
}

// MissingDependencyError indicates a service needs an interface the module
// does not bind.
type MissingDependencyError struct {
	Interface reflect.Type
	Kind      DependencyKind
	Dependent reflect.Type // nil when demanded outside of any component build
}

func (e MissingDependencyError) Error() string {
	if e.Dependent == nil {
		return fmt.Sprintf("unresolved %s dependency %s", strings.ToLower(e.Kind.String()), formatType(e.Interface))
	}
	return fmt.Sprintf("unresolved %s dependency %s required by %s",
		strings.ToLower(e.Kind.String()), formatType(e.Interface), formatType(e.Dependent))
}

func (e MissingDependencyError) Is(target error) bool {
	return target == ErrServiceNotFound
}

// MissingSubmoduleError indicates a declared submodule was not supplied to the builder.
type MissingSubmoduleError struct {
	Module    string
	Submodule string
}

func (e MissingSubmoduleError) Error() string {
	return fmt.Sprintf("module %q requires submodule %q (use modulo.WithSubmodule)", e.Module, e.Submodule)
}

// ChainStep is one in-progress component construction.
type ChainStep struct {
	Component reflect.Type
	Interface reflect.Type
}

func (s ChainStep) String() string {
	return s.Component.String()
}

// CircularDependencyError reports a component that was demanded again while it
// was still being built. Chain lists the in-progress components in discovery order.
type CircularDependencyError struct {
	Interface reflect.Type
	Chain     []ChainStep
}

func (e CircularDependencyError) Error() string {
	names := make([]string, len(e.Chain))
	for i, step := range e.Chain {
		names[i] = step.String()
	}
	return fmt.Sprintf("Circular dependency detected while resolving %s. Resolution chain: [%s]",
		typeString(e.Interface), strings.Join(names, ", "))
}

// MissingDefaultError reports a required parameter field with no value.
type MissingDefaultError struct {
	Record reflect.Type
	Field  string
}

func (e MissingDefaultError) Error() string {
	if e.Record != nil && e.Record.Name() != "" {
		return fmt.Sprintf("There is no default value for `%s.%s`", e.Record.Name(), e.Field)
	}
	return fmt.Sprintf("There is no default value for `%s`", e.Field)
}

// ResolutionError indicates the module does not support the requested interface.
type ResolutionError struct {
	Interface reflect.Type
	Kind      DependencyKind
	Cause     error
	Available []reflect.Type // interfaces the module does support, for suggestions
}

func (e ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s not found: %s", strings.ToLower(e.Kind.String()), formatType(e.Interface)))

	if e.Cause != nil && e.Cause != ErrServiceNotFound {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if similar := findSimilarTypes(e.Interface, e.Available); len(similar) > 0 {
		b.WriteString("\n\nDid you mean one of these?\n")
		for _, t := range similar {
			b.WriteString(fmt.Sprintf("  • %s\n", formatType(t)))
		}
	}

	return b.String()
}

func (e ResolutionError) Unwrap() error {
	if e.Cause == nil {
		return ErrServiceNotFound
	}
	return e.Cause
}

// findSimilarTypes finds types with similar names using a simple substring match
func findSimilarTypes(target reflect.Type, available []reflect.Type) []reflect.Type {
	if target == nil || len(available) == 0 {
		return nil
	}

	targetName := strings.ToLower(target.Name())
	if targetName == "" {
		targetName = strings.ToLower(target.String())
	}

	var similar []reflect.Type
	for _, t := range available {
		if t == nil || t == target {
			continue
		}

		name := strings.ToLower(t.Name())
		if name == "" {
			name = strings.ToLower(t.String())
		}

		if name == targetName || strings.Contains(name, targetName) || strings.Contains(targetName, name) {
			similar = append(similar, t)
		}

		if len(similar) >= 5 {
			break
		}
	}

	return similar
}

// ProviderError wraps an error returned by a provider function.
type ProviderError struct {
	Interface reflect.Type
	Cause     error
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", formatType(e.Interface), e.Cause)
}

func (e ProviderError) Unwrap() error {
	return e.Cause
}

// SharedInstanceError is returned by ResolveMut while handles to the instance
// are still outstanding.
type SharedInstanceError struct {
	Interface reflect.Type
	Handles   int64
}

func (e SharedInstanceError) Error() string {
	return fmt.Sprintf("cannot mutate %s: %d shared handle(s) outstanding", formatType(e.Interface), e.Handles)
}

func (e SharedInstanceError) Unwrap() error {
	return ErrSharedInstance
}

// ComponentPanicError indicates a build function panicked.
type ComponentPanicError struct {
	Component reflect.Type
	Interface reflect.Type
	Panic     any
	Stack     []byte
}

func (e ComponentPanicError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("component %s (%s) panicked: %v\n",
		formatType(e.Component), formatType(e.Interface), e.Panic))

	if len(e.Stack) > 0 {
		b.WriteString("\nStack trace:\n")
		b.Write(e.Stack)
	}

	return b.String()
}

// BuildError wraps errors that occur while building a module.
type BuildError struct {
	Module string
	Phase  string // "submodules", "components", "lazy"
	Cause  error
}

func (e BuildError) Error() string {
	return fmt.Sprintf("module %q build failed during %s: %v", e.Module, e.Phase, e.Cause)
}

func (e BuildError) Unwrap() error {
	return e.Cause
}

// ModuleError wraps errors from defining a module.
type ModuleError struct {
	Module string
	Cause  error
}

func (e ModuleError) Error() string {
	return fmt.Sprintf("module %q: %v", e.Module, e.Cause)
}

func (e ModuleError) Unwrap() error {
	return e.Cause
}

// IsNotFound reports whether err means a requested interface is not bound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrServiceNotFound)
}

// IsCircularDependency reports whether err is or wraps a CircularDependencyError.
func IsCircularDependency(err error) bool {
	var cde CircularDependencyError
	return errors.As(err, &cde)
}

// IsShared reports whether err was caused by outstanding shared handles.
func IsShared(err error) bool {
	return errors.Is(err, ErrSharedInstance)
}

// isFatal reports errors that must fail the whole build even if a build
// function swallowed them.
func isFatal(err error) bool {
	var cde CircularDependencyError
	var mde MissingDefaultError
	return errors.As(err, &cde) || errors.As(err, &mde)
}

func typeString(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

// formatType formats a reflect.Type for error messages.
func formatType(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "*" + elem.Name()
		}
		return t.String()
	case reflect.Slice:
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "[]" + elem.Name()
		}
		return t.String()
	}

	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
