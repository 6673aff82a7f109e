package pipe

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Or connector.
const (
	// Metrics.
	OrProcessedTotal = metricz.Key("or.processed.total")
	OrPrimaryTotal   = metricz.Key("or.primary.total")
	OrFallbackTotal  = metricz.Key("or.fallback.total")

	// Spans.
	OrRunSpan = tracez.Key("or.run")

	// Tags.
	OrTagPrimary  = tracez.Tag("or.primary")
	OrTagFallback = tracez.Tag("or.fallback")
	OrTagBranch   = tracez.Tag("or.branch")
)

// OrStep runs its primary child and falls back to the secondary on failure.
// This is "fallback on failure", not short-circuit success testing: the
// primary's error is captured and attached to the store under "exception",
// and the secondary runs against that augmented store with full knowledge
// of what went wrong. If the primary succeeds, its result is returned
// directly and the secondary never runs.
//
// An error from the secondary propagates - Or recovers from exactly one
// failure, on the primary branch.
//
// Example:
//
//	safe := pipe.Or(fetchUser, renderError)
type OrStep struct {
	name    Name
	objA    Step
	objB    Step
	mu      sync.RWMutex
	metrics *metricz.Registry
	tracer  *tracez.Tracer
}

// Or composes two steps into a new OrStep. The composite's name is derived
// from the children for error paths and inspection output.
func Or(a, b Step) *OrStep {
	return NamedOr(Name("("+a.Name()+" | "+b.Name()+")"), a, b)
}

// NamedOr is Or with an explicit composite name.
func NamedOr(name Name, a, b Step) *OrStep {
	if a == nil || b == nil {
		panic("pipe.Or requires two steps")
	}

	metrics := metricz.New()
	metrics.Counter(OrProcessedTotal)
	metrics.Counter(OrPrimaryTotal)
	metrics.Counter(OrFallbackTotal)

	return &OrStep{
		name:    name,
		objA:    a,
		objB:    b,
		metrics: metrics,
		tracer:  tracez.New(),
	}
}

// Run implements the Step interface.
func (o *OrStep) Run(ctx context.Context, store Store) (result Store, err error) {
	defer recoverFromPanic(&result, &err, o.name, store)

	o.mu.RLock()
	objA, objB := o.objA, o.objB
	o.mu.RUnlock()

	o.metrics.Counter(OrProcessedTotal).Inc()

	ctx, span := o.tracer.StartSpan(ctx, OrRunSpan)
	span.SetTag(OrTagPrimary, string(objA.Name()))
	span.SetTag(OrTagFallback, string(objB.Name()))
	defer span.Finish()

	start := time.Now()

	result, errA := objA.Run(ctx, store)
	if errA == nil {
		span.SetTag(OrTagBranch, "primary")
		o.metrics.Counter(OrPrimaryTotal).Inc()
		return result, nil
	}

	span.SetTag(OrTagBranch, "fallback")
	o.metrics.Counter(OrFallbackTotal).Inc()

	result, errB := objB.Run(ctx, store.With(KeyException, errA))
	if errB != nil {
		return result, wrapError(o.name, errB, store, time.Now(), time.Since(start))
	}
	return result, nil
}

// Name returns the name of this composition.
func (o *OrStep) Name() Name {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.name
}

// Primary returns the first child step.
func (o *OrStep) Primary() Step {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.objA
}

// Fallback returns the second child step.
func (o *OrStep) Fallback() Step {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.objB
}

// Metrics returns the metrics registry for this connector.
func (o *OrStep) Metrics() *metricz.Registry {
	return o.metrics
}

// Tracer returns the tracer for this connector.
func (o *OrStep) Tracer() *tracez.Tracer {
	return o.tracer
}

// Close gracefully shuts down observability components.
func (o *OrStep) Close() error {
	if o.tracer != nil {
		o.tracer.Close()
	}
	return nil
}
