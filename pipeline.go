package pipe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Pipe executor.
const (
	// Metrics.
	PipeProcessedTotal = metricz.Key("pipe.processed.total")
	PipeSuccessesTotal = metricz.Key("pipe.successes.total")
	PipeFailuresTotal  = metricz.Key("pipe.failures.total")
	PipeInterrupts     = metricz.Key("pipe.interrupts.total")
	PipeStepsCompleted = metricz.Key("pipe.steps.completed")
	PipeStepsTotal     = metricz.Key("pipe.steps.total")
	PipeDurationMs     = metricz.Key("pipe.duration.ms")

	// Spans.
	PipeRunSpan  = tracez.Key("pipe.run")
	PipeStepSpan = tracez.Key("pipe.step")

	// Tags.
	PipeTagStepCount   = tracez.Tag("pipe.step_count")
	PipeTagStepNumber  = tracez.Tag("pipe.step_number")
	PipeTagStepName    = tracez.Tag("pipe.step_name")
	PipeTagSuccess     = tracez.Tag("pipe.success")
	PipeTagInterrupted = tracez.Tag("pipe.interrupted")
	PipeTagError       = tracez.Tag("pipe.error")

	// Hook event keys.
	PipeEventStepComplete = hookz.Key("pipe.step_complete")
	PipeEventInterrupted  = hookz.Key("pipe.interrupted")
	PipeEventAllComplete  = hookz.Key("pipe.all_complete")
)

// Hook is a pure pre/post-processing function over the store. The default
// before and after hooks are the identity.
type Hook func(Store) Store

// InterruptFunc is the interruption predicate evaluated against each step's
// output. Returning true halts the run after the current step; the default
// predicate never interrupts.
type InterruptFunc func(Store) bool

// PipeEvent represents a pipe execution event emitted via hooks when steps
// complete, when the run is interrupted and when the whole sequence
// finishes.
type PipeEvent struct {
	Name           Name          // Pipe name
	StepName       Name          // Name of the step that ran
	StepNumber     int           // Current step number (1-based)
	TotalSteps     int           // Total number of steps in the sequence
	Success        bool          // Whether the step succeeded
	Interrupted    bool          // Whether the predicate halted the run here
	Error          error         // Error if the step failed
	Store          Store         // Store produced by the step
	Duration       time.Duration // How long this step took
	CompletedSteps int           // Committed steps (for all_complete)
	TotalDuration  time.Duration // Total run time (for all_complete)
	Timestamp      time.Time     // When the event occurred
}

// Pipe executes an ordered sequence of steps over a shared, immutable
// store. The pipe exclusively owns the "current store" reference: each
// step's output is committed to it only after the interruption predicate
// declines to halt, so the stored state always reflects completed,
// committed steps.
//
// The executor performs no error recovery. The first step error aborts the
// run and propagates to the caller wrapped with the pipe's name; resilience
// belongs to the And/Or composition operators.
//
// # Observability
//
// Metrics:
//   - pipe.processed.total / pipe.successes.total / pipe.failures.total
//   - pipe.interrupts.total: runs halted by the predicate
//   - pipe.steps.completed / pipe.steps.total / pipe.duration.ms
//
// Traces:
//   - pipe.run: parent span for the whole run
//   - pipe.step: child span per step
//
// Events (via hooks):
//   - pipe.step_complete: fired as each step finishes
//   - pipe.interrupted: fired when the predicate halts the run
//   - pipe.all_complete: fired when the sequence is exhausted
//
// Inspection mode reports each step identity and the current store to the
// pipe's Inspector before the step runs. It is a side channel only.
type Pipe struct {
	name      Name
	mu        sync.RWMutex
	store     Store
	before    Hook
	after     Hook
	interrupt InterruptFunc

	inspection bool
	inspector  Inspector

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[PipeEvent]
	clock   clockz.Clock
}

// PipeOption configures a Pipe at construction time.
type PipeOption func(*Pipe)

// WithBefore sets the pre-processing hook applied to the initial mapping
// when the pipe is constructed.
func WithBefore(hook Hook) PipeOption {
	return func(p *Pipe) {
		if hook != nil {
			p.before = hook
		}
	}
}

// WithAfter sets the post-processing hook applied to the final (or
// interrupted) store before it is returned from Run.
func WithAfter(hook Hook) PipeOption {
	return func(p *Pipe) {
		if hook != nil {
			p.after = hook
		}
	}
}

// WithInterrupt sets the interruption predicate.
func WithInterrupt(pred InterruptFunc) PipeOption {
	return func(p *Pipe) {
		if pred != nil {
			p.interrupt = pred
		}
	}
}

// WithInspection toggles inspection mode at construction time.
func WithInspection(enable bool) PipeOption {
	return func(p *Pipe) {
		p.inspection = enable
	}
}

// WithInspector replaces the console inspector used in inspection mode.
func WithInspector(inspector Inspector) PipeOption {
	return func(p *Pipe) {
		if inspector != nil {
			p.inspector = inspector
		}
	}
}

// WithClock sets a custom clock for testing.
func WithClock(clock clockz.Clock) PipeOption {
	return func(p *Pipe) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewPipe creates a Pipe over an initial mapping. The mapping is wrapped
// into a Store and passed through the before hook exactly once; the result
// becomes the pipe's owned store.
//
// Example:
//
//	p := pipe.NewPipe("checkout", map[string]any{"order_id": 42},
//	    pipe.WithAfter(shapeResponse),
//	    pipe.WithInterrupt(func(s pipe.Store) bool { return s.Has("abort") }),
//	)
//	out, err := p.Run(ctx, []pipe.Step{validate, charge, confirm})
func NewPipe(name Name, initial map[string]any, opts ...PipeOption) *Pipe {
	metrics := metricz.New()
	metrics.Counter(PipeProcessedTotal)
	metrics.Counter(PipeSuccessesTotal)
	metrics.Counter(PipeFailuresTotal)
	metrics.Counter(PipeInterrupts)
	metrics.Gauge(PipeStepsCompleted)
	metrics.Gauge(PipeStepsTotal)
	metrics.Gauge(PipeDurationMs)

	identity := func(s Store) Store { return s }

	p := &Pipe{
		name:      name,
		before:    identity,
		after:     identity,
		interrupt: func(Store) bool { return false },
		inspector: NewConsoleInspector(),
		metrics:   metrics,
		tracer:    tracez.New(),
		hooks:     hookz.New[PipeEvent](),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.store = p.before(NewStore(initial))
	return p
}

// Run executes the sequence in order against the pipe's current store.
//
// For each step: if inspection mode is enabled, the step identity and the
// current store are reported to the inspector; the step runs; the
// interruption predicate is evaluated against its output. A true predicate
// halts iteration immediately and returns the after hook applied to the
// interrupted output - WITHOUT committing it to the pipe's store, which
// keeps reflecting only the steps completed before this one. A false
// predicate commits the output and iteration continues. An exhausted
// sequence returns the after hook applied to the committed store.
//
// A step error aborts the run; the pipe's store keeps its last committed
// value and the error is returned wrapped with the pipe's name.
func (p *Pipe) Run(ctx context.Context, steps []Step) (result Store, err error) {
	defer recoverFromPanic(&result, &err, p.name, p.Store())

	if ctx == nil {
		ctx = context.Background()
	}

	clock := p.getClock()
	start := clock.Now()

	p.metrics.Counter(PipeProcessedTotal).Inc()
	p.metrics.Gauge(PipeStepsTotal).Set(float64(len(steps)))

	ctx, span := p.tracer.StartSpan(ctx, PipeRunSpan)
	span.SetTag(PipeTagStepCount, fmt.Sprintf("%d", len(steps)))
	defer func() {
		elapsed := clock.Now().Sub(start)
		p.metrics.Gauge(PipeDurationMs).Set(float64(elapsed.Milliseconds()))
		if err == nil {
			span.SetTag(PipeTagSuccess, "true")
			p.metrics.Counter(PipeSuccessesTotal).Inc()
		} else {
			span.SetTag(PipeTagSuccess, "false")
			span.SetTag(PipeTagError, err.Error())
			p.metrics.Counter(PipeFailuresTotal).Inc()
		}
		span.Finish()
	}()

	completed := 0

	for i, item := range steps {
		select {
		case <-ctx.Done():
			return p.Store(), &Error{
				Err:        ctx.Err(),
				InputStore: p.Store(),
				Path:       []Name{p.name},
				Timeout:    errors.Is(ctx.Err(), context.DeadlineExceeded),
				Canceled:   errors.Is(ctx.Err(), context.Canceled),
				Timestamp:  clock.Now(),
			}
		default:
		}

		current := p.Store()

		if p.inspectionEnabled() {
			p.inspector.Inspect(item.Name(), current)
		}

		stepCtx, stepSpan := p.tracer.StartSpan(ctx, PipeStepSpan)
		stepSpan.SetTag(PipeTagStepNumber, fmt.Sprintf("%d", i+1))
		stepSpan.SetTag(PipeTagStepName, string(item.Name()))

		stepStart := clock.Now()
		intermediate, stepErr := item.Run(stepCtx, current)
		stepDuration := clock.Now().Sub(stepStart)
		stepSpan.Finish()

		_ = p.hooks.Emit(ctx, PipeEventStepComplete, PipeEvent{ //nolint:errcheck
			Name:       p.name,
			StepName:   item.Name(),
			StepNumber: i + 1,
			TotalSteps: len(steps),
			Success:    stepErr == nil,
			Error:      stepErr,
			Store:      intermediate,
			Duration:   stepDuration,
			Timestamp:  clock.Now(),
		})

		if stepErr != nil {
			return current, wrapError(p.name, stepErr, current, clock.Now(), stepDuration)
		}

		if p.interruptFunc()(intermediate) {
			// Deliberate asymmetry: the interrupted output is returned but
			// never committed, so p.Store() keeps the pre-interrupt value.
			span.SetTag(PipeTagInterrupted, "true")
			p.metrics.Counter(PipeInterrupts).Inc()
			_ = p.hooks.Emit(ctx, PipeEventInterrupted, PipeEvent{ //nolint:errcheck
				Name:           p.name,
				StepName:       item.Name(),
				StepNumber:     i + 1,
				TotalSteps:     len(steps),
				Success:        true,
				Interrupted:    true,
				Store:          intermediate,
				CompletedSteps: completed,
				Timestamp:      clock.Now(),
			})
			return p.afterHook()(intermediate), nil
		}

		p.commit(intermediate)
		completed++
		p.metrics.Gauge(PipeStepsCompleted).Set(float64(completed))
	}

	final := p.Store()
	_ = p.hooks.Emit(ctx, PipeEventAllComplete, PipeEvent{ //nolint:errcheck
		Name:           p.name,
		TotalSteps:     len(steps),
		CompletedSteps: completed,
		Success:        true,
		Store:          final,
		TotalDuration:  clock.Now().Sub(start),
		Timestamp:      clock.Now(),
	})
	return p.afterHook()(final), nil
}

// SetInspection toggles inspection mode and returns the new state.
func (p *Pipe) SetInspection(enable bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inspection = enable
	return p.inspection
}

// Store returns the pipe's current committed store.
func (p *Pipe) Store() Store {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.store
}

// Name returns the name of this pipe.
func (p *Pipe) Name() Name {
	return p.name
}

// Metrics returns the metrics registry for this pipe.
func (p *Pipe) Metrics() *metricz.Registry {
	return p.metrics
}

// Tracer returns the tracer for this pipe.
func (p *Pipe) Tracer() *tracez.Tracer {
	return p.tracer
}

// Close gracefully shuts down observability components.
func (p *Pipe) Close() error {
	if p.tracer != nil {
		p.tracer.Close()
	}
	p.hooks.Close()
	return nil
}

// OnStepComplete registers a handler called asynchronously each time a step
// finishes, whether it succeeds or fails.
func (p *Pipe) OnStepComplete(handler func(context.Context, PipeEvent) error) error {
	_, err := p.hooks.Hook(PipeEventStepComplete, handler)
	return err
}

// OnInterrupted registers a handler called when the interruption predicate
// halts a run.
func (p *Pipe) OnInterrupted(handler func(context.Context, PipeEvent) error) error {
	_, err := p.hooks.Hook(PipeEventInterrupted, handler)
	return err
}

// OnAllComplete registers a handler called after a run exhausts its
// sequence without interruption or error.
func (p *Pipe) OnAllComplete(handler func(context.Context, PipeEvent) error) error {
	_, err := p.hooks.Hook(PipeEventAllComplete, handler)
	return err
}

func (p *Pipe) commit(store Store) {
	p.mu.Lock()
	p.store = store
	p.mu.Unlock()
}

func (p *Pipe) inspectionEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.inspection
}

func (p *Pipe) afterHook() Hook {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.after
}

func (p *Pipe) interruptFunc() InterruptFunc {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.interrupt
}

// getClock returns the clock to use.
func (p *Pipe) getClock() clockz.Clock {
	if p.clock == nil {
		return clockz.RealClock
	}
	return p.clock
}
