package pipe

import (
	"context"
	"sync"

	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the And connector.
const (
	// Metrics.
	AndProcessedTotal = metricz.Key("and.processed.total")
	AndSuccessesTotal = metricz.Key("and.successes.total")
	AndSwallowedTotal = metricz.Key("and.swallowed.total")

	// Spans.
	AndRunSpan = tracez.Key("and.run")

	// Tags.
	AndTagLeft    = tracez.Tag("and.left")
	AndTagRight   = tracez.Tag("and.right")
	AndTagSuccess = tracez.Tag("and.success")
)

// Result keys attached by the composition operators.
const (
	// KeyObjA and KeyObjB hold the raw results of an And composition's two
	// children, recorded side by side rather than merged.
	KeyObjA = "obj_a"
	KeyObjB = "obj_b"
	// KeyException holds the captured primary error an Or composition hands
	// to its fallback child.
	KeyException = "exception"
)

// AndStep runs two child steps against the same input store, best-effort.
// If either child fails, the failure is swallowed and the original input
// store is returned untouched - no partial application, no distinction
// between which branch failed. If both succeed, the result is the input
// store with the two raw child results attached under "obj_a" and "obj_b".
//
// And is one of the two places in the framework that locally recover from
// failure; see Or for fallback semantics instead of pairing.
//
// Example:
//
//	both := pipe.And(fetchUser, fetchBook)
//	out, _ := both.Run(ctx, store)
//	user := out.Value("obj_a").(pipe.Store)
type AndStep struct {
	name    Name
	objA    Step
	objB    Step
	mu      sync.RWMutex
	metrics *metricz.Registry
	tracer  *tracez.Tracer
}

// And composes two steps into a new AndStep. The composite's name is
// derived from the children for error paths and inspection output.
func And(a, b Step) *AndStep {
	return NamedAnd(Name("("+a.Name()+" & "+b.Name()+")"), a, b)
}

// NamedAnd is And with an explicit composite name.
func NamedAnd(name Name, a, b Step) *AndStep {
	if a == nil || b == nil {
		panic("pipe.And requires two steps")
	}

	metrics := metricz.New()
	metrics.Counter(AndProcessedTotal)
	metrics.Counter(AndSuccessesTotal)
	metrics.Counter(AndSwallowedTotal)

	return &AndStep{
		name:    name,
		objA:    a,
		objB:    b,
		metrics: metrics,
		tracer:  tracez.New(),
	}
}

// Run implements the Step interface.
func (a *AndStep) Run(ctx context.Context, store Store) (result Store, err error) {
	defer recoverFromPanic(&result, &err, a.name, store)

	a.mu.RLock()
	objA, objB := a.objA, a.objB
	a.mu.RUnlock()

	a.metrics.Counter(AndProcessedTotal).Inc()

	ctx, span := a.tracer.StartSpan(ctx, AndRunSpan)
	span.SetTag(AndTagLeft, string(objA.Name()))
	span.SetTag(AndTagRight, string(objB.Name()))
	defer span.Finish()

	resultA, errA := objA.Run(ctx, store)
	if errA != nil {
		span.SetTag(AndTagSuccess, "false")
		a.metrics.Counter(AndSwallowedTotal).Inc()
		return store, nil
	}
	resultB, errB := objB.Run(ctx, store)
	if errB != nil {
		span.SetTag(AndTagSuccess, "false")
		a.metrics.Counter(AndSwallowedTotal).Inc()
		return store, nil
	}

	span.SetTag(AndTagSuccess, "true")
	a.metrics.Counter(AndSuccessesTotal).Inc()
	return store.With(KeyObjA, resultA).With(KeyObjB, resultB), nil
}

// Name returns the name of this composition.
func (a *AndStep) Name() Name {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.name
}

// Left returns the first child step.
func (a *AndStep) Left() Step {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.objA
}

// Right returns the second child step.
func (a *AndStep) Right() Step {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.objB
}

// Metrics returns the metrics registry for this connector.
func (a *AndStep) Metrics() *metricz.Registry {
	return a.metrics
}

// Tracer returns the tracer for this connector.
func (a *AndStep) Tracer() *tracez.Tracer {
	return a.tracer
}

// Close gracefully shuts down observability components.
func (a *AndStep) Close() error {
	if a.tracer != nil {
		a.tracer.Close()
	}
	return nil
}
