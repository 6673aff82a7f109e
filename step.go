package pipe

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

// step is the concrete Step produced by the adapters and the New factory.
// It binds a run function, a declared capability, an optional set of named
// fields and an optional required-field schema. Dynamic schema keys are
// resolved against the bound fields exactly once, on first validation.
type step struct {
	name       Name
	capability Capability
	fn         RunFunc

	fields map[string]any

	mu       sync.Mutex
	required Fields
	resolved bool
}

// Option configures a step produced by New, Extract, Transform or Load.
type Option func(*step)

// WithField binds a named field onto the step. Bound fields are the
// attributes dynamic schema keys resolve against, and are readable through
// the FieldReader interface.
func WithField(name string, value any) Option {
	return func(s *step) {
		s.fields[name] = value
	}
}

// WithFields binds every pair in fields onto the step.
func WithFields(fields map[string]any) Option {
	return func(s *step) {
		maps.Copy(s.fields, fields)
	}
}

// WithRequiredFields declares the step's validation schema. The schema is
// copied; the caller's map is not retained.
func WithRequiredFields(fields Fields) Option {
	return func(s *step) {
		s.required = make(Fields, len(fields))
		maps.Copy(s.required, fields)
	}
}

// New is the step factory: it builds a Step from a run function, a name and
// a declared capability, with bound fields and a schema supplied through
// options. The adapters below are the usual entry points; New exists for
// callers that select the capability at runtime.
//
// New panics on an unrecognized capability - that is a programming error,
// not a data error. A nil run function is accepted and reported as an
// *ExecutionError when the step runs, so a half-built step fails loudly at
// the point of use.
func New(name Name, capability Capability, fn RunFunc, opts ...Option) Step {
	known := false
	for _, c := range Capabilities {
		if c == capability {
			known = true
			break
		}
	}
	if !known {
		panic(fmt.Sprintf("pipe.New: unrecognized capability %q for step %q", capability, name))
	}

	s := &step{
		name:       name,
		capability: capability,
		fn:         fn,
		fields:     make(map[string]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Extract creates an extractor Step from a function that pulls data into
// the store from an external source.
//
// Example:
//
//	fetch := pipe.Extract("fetch-user", func(ctx context.Context, s pipe.Store) (pipe.Store, error) {
//	    u, err := repo.User(ctx, s.Value("user_id").(int64))
//	    if err != nil {
//	        return s, err
//	    }
//	    return s.With("user", u), nil
//	})
func Extract(name Name, fn RunFunc, opts ...Option) Step {
	return New(name, CapabilityExtract, fn, opts...)
}

// Transform creates a transformer Step from a function that reshapes data
// already present in the store.
func Transform(name Name, fn RunFunc, opts ...Option) Step {
	return New(name, CapabilityTransform, fn, opts...)
}

// Load creates a loader Step from a function that pushes data from the
// store to an external sink.
func Load(name Name, fn RunFunc, opts ...Option) Step {
	return New(name, CapabilityLoad, fn, opts...)
}

// Run validates the store against the step's schema, then dispatches to the
// bound capability body. Validation failures surface as *ValidationError
// naming the step; a missing body surfaces as *ExecutionError naming the
// allowed capabilities. Neither is recovered here - recovery belongs to the
// And/Or composition operators.
func (s *step) Run(ctx context.Context, store Store) (result Store, err error) {
	defer recoverFromPanic(&result, &err, s.name, store)

	start := time.Now()

	store, err = s.validate(store)
	if err != nil {
		return store, wrapError(s.name, err, store, time.Now(), time.Since(start))
	}

	if s.fn == nil {
		return store, &ExecutionError{Step: s.name, Capabilities: Capabilities}
	}

	result, err = s.fn(ctx, store)
	if err != nil {
		return result, wrapError(s.name, err, store, time.Now(), time.Since(start))
	}
	return result, nil
}

// validate resolves dynamic schema keys (once per step) and checks the
// store against the resolved schema.
func (s *step) validate(store Store) (Store, error) {
	s.mu.Lock()
	if !s.resolved && len(s.required) > 0 {
		resolved, err := resolveDynamic(s.required, s.fields)
		if err != nil {
			s.mu.Unlock()
			return store, &ValidationError{Step: s.name, Cause: err}
		}
		s.required = resolved
		s.resolved = true
	}
	required := s.required
	s.mu.Unlock()

	if len(required) == 0 {
		return store, nil
	}

	adapted, err := validateStore(required, store)
	if err != nil {
		return store, &ValidationError{Step: s.name, Cause: err}
	}
	return adapted, nil
}

// Name returns the step name for debugging and error paths.
func (s *step) Name() Name {
	return s.name
}

// Capability returns the role the step was constructed with.
func (s *step) Capability() Capability {
	return s.capability
}

// Field returns the bound field with the given name, or nil if absent.
func (s *step) Field(name string) any {
	return s.fields[name]
}

// RequiredFields returns a copy of the step's current schema. Before the
// first validation this includes any literal dynamic keys; afterwards those
// keys are replaced by their resolved counterparts.
func (s *step) RequiredFields() Fields {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Fields, len(s.required))
	maps.Copy(out, s.required)
	return out
}

// FieldReader is implemented by steps that expose bound fields and their
// schema, letting collaborators and tests read a step's configuration
// without knowing its concrete type.
type FieldReader interface {
	Field(name string) any
	RequiredFields() Fields
}

var _ FieldReader = (*step)(nil)
