// Package pipe provides a small, composable framework for building linear
// data-processing pipelines out of typed steps.
//
// # Overview
//
// A pipeline ("pipe") is an ordered sequence of steps executed against a
// shared, immutable Store. Each step consumes the current Store and returns
// a new one; the executor owns the single mutable "current store" reference
// and commits it between steps. Steps never mutate the Store they receive,
// which makes them safe to reuse across pipes and within compositions.
//
// # Core Concepts
//
// Everything that can run in a pipe implements a single interface:
//
//	type Step interface {
//	    Run(context.Context, Store) (Store, error)
//	    Name() Name
//	}
//
// Key components:
//   - Store: immutable key/value state threaded through the pipe
//   - Adapters: Extract, Transform, Load wrap plain functions into Steps
//   - And / Or: composition operators producing new Steps from two Steps
//   - Pipe: the executor, with before/after hooks and an interrupt predicate
//   - NamedPipe: a registry mapping symbolic names to step sequences
//
// # Capabilities
//
// Every step declares exactly one capability at construction time:
// extraction (pull data in from an external source), transformation
// (reshape data already in the Store), or loading (push data out to an
// external sink). Constructors reject anything outside the recognized set,
// and a step without a runnable body fails with an *ExecutionError naming
// the allowed capabilities.
//
// # Composition
//
// Two operators combine steps into new steps:
//
//	both := pipe.And(fetchUser, fetchBook)   // best-effort pairing
//	safe := pipe.Or(fetchUser, logFailure)   // fallback on failure
//
// And runs both children against the same input store. If either fails, the
// original store is returned untouched. If both succeed, their raw results
// are attached side by side under the keys "obj_a" and "obj_b".
//
// Or runs its primary child; on failure the error is attached to the store
// under the key "exception" and the secondary child runs against that
// augmented store. Success on the primary short-circuits the secondary.
//
// The operators are the only places the framework recovers from failure:
// the Pipe executor itself performs no error handling, so an uncaught step
// error aborts the run and propagates to the caller.
//
// # Quick Start
//
//	trim := pipe.Transform("trim", func(_ context.Context, s pipe.Store) (pipe.Store, error) {
//	    return s.With("text", strings.TrimSpace(s.Value("text").(string))), nil
//	})
//
//	p := pipe.NewPipe("text", map[string]any{"text": "  hello  "})
//	out, err := p.Run(context.Background(), []pipe.Step{trim})
//
// # Observability
//
// Pipes and composition connectors carry per-instance metricz registries,
// tracez tracers and hookz event hooks, so every connector can be observed
// in isolation. Inspection mode additionally reports each step identity and
// store snapshot to an Inspector before the step runs; it never affects
// control flow.
package pipe

import "context"

// Step defines the interface for any unit of work that can run in a pipe.
// Steps receive the current Store and return a new one; they must treat the
// input as read-only and communicate exclusively through the returned value,
// since the same Step instance may be reused across pipe runs or within both
// branches of a composition.
//
// Key design principles:
//   - Context support on the blocking operation
//   - Immutable state by construction (Store is copy-on-write)
//   - Error propagation for fail-fast behavior outside And/Or
//   - Named components for debugging and error paths
type Step interface {
	Run(context.Context, Store) (Store, error)
	Name() Name
}

// Name is a type alias for step, connector and pipe names. Using this type
// encourages storing names as constants rather than inline strings.
//
// Example:
//
//	const (
//	    FetchUserName Name = "fetch-user"
//	    RenderName    Name = "render"
//	)
type Name = string

// Capability identifies the single role a step plays in a pipeline.
// It replaces duck-typed method lookup with an explicit declaration made at
// construction time.
type Capability string

// The three recognized step capabilities.
const (
	// CapabilityExtract pulls data into the store from an external source.
	CapabilityExtract Capability = "extract"
	// CapabilityTransform reshapes data already present in the store.
	CapabilityTransform Capability = "transform"
	// CapabilityLoad pushes data from the store to an external sink.
	CapabilityLoad Capability = "load"
)

// Capabilities is the ordered set of roles a step may declare. The order is
// significant only for error messages.
var Capabilities = []Capability{CapabilityExtract, CapabilityTransform, CapabilityLoad}

// RunFunc is the signature of a step body: the future Run method bound into
// a step by the adapters and the New factory.
type RunFunc func(context.Context, Store) (Store, error)
