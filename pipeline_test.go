package pipe

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

// rawStep runs its body without the adapter wrapping, so errors reach the
// pipe unwrapped.
type rawStep struct {
	name Name
	fn   RunFunc
}

func (r rawStep) Run(ctx context.Context, s Store) (Store, error) { return r.fn(ctx, s) }
func (r rawStep) Name() Name                                      { return r.name }

func appendStep(name Name, mark string) Step {
	return Transform(name, func(_ context.Context, s Store) (Store, error) {
		trail, _ := s.Value("trail").(string)
		return s.With("trail", trail+mark), nil
	})
}

func TestPipe(t *testing.T) {
	t.Run("Runs Steps In Order", func(t *testing.T) {
		p := NewPipe("ordered", nil)
		out, err := p.Run(context.Background(), []Step{
			appendStep("s1", "a"),
			appendStep("s2", "b"),
			appendStep("s3", "c"),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Value("trail") != "abc" {
			t.Errorf("expected abc, got %v", out.Value("trail"))
		}
		if p.Store().Value("trail") != "abc" {
			t.Errorf("store should hold final state, got %v", p.Store())
		}
	})

	t.Run("Before Hook Wraps Initial Mapping", func(t *testing.T) {
		p := NewPipe("hooked", map[string]any{"n": 1},
			WithBefore(func(s Store) Store { return s.With("prepared", true) }),
		)
		if p.Store().Value("prepared") != true {
			t.Errorf("before hook not applied at construction: %v", p.Store())
		}
	})

	t.Run("After Hook Shapes Result", func(t *testing.T) {
		p := NewPipe("hooked", nil,
			WithAfter(func(s Store) Store { return s.With("shaped", true) }),
		)
		out, err := p.Run(context.Background(), []Step{appendStep("s1", "a")})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Value("shaped") != true {
			t.Errorf("after hook not applied: %v", out)
		}
		if p.Store().Has("shaped") {
			t.Error("after hook output must not be committed to the store")
		}
	})

	t.Run("Empty Sequence Returns After Of Store", func(t *testing.T) {
		p := NewPipe("empty", map[string]any{"n": 1},
			WithAfter(func(s Store) Store { return s.With("shaped", true) }),
		)
		out, err := p.Run(context.Background(), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Value("n") != 1 || out.Value("shaped") != true {
			t.Errorf("unexpected result: %v", out)
		}
	})

	t.Run("Step Error Aborts Run", func(t *testing.T) {
		boom := errors.New("boom")
		ran := false
		p := NewPipe("failing", nil)
		_, err := p.Run(context.Background(), []Step{
			appendStep("s1", "a"),
			Load("s2", func(_ context.Context, s Store) (Store, error) { return s, boom }),
			Transform("s3", func(_ context.Context, s Store) (Store, error) {
				ran = true
				return s, nil
			}),
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if ran {
			t.Error("steps after the failure must not run")
		}
		// Only s1 committed.
		if p.Store().Value("trail") != "a" {
			t.Errorf("store should reflect committed steps only, got %v", p.Store())
		}

		var perr *Error
		if !errors.As(err, &perr) {
			t.Fatalf("expected *Error, got %T", err)
		}
		if perr.Path[0] != "failing" || perr.Path[len(perr.Path)-1] != "s2" {
			t.Errorf("expected pipe and step in path, got %v", perr.Path)
		}
	})

	t.Run("Interrupt Stops After Matching Step", func(t *testing.T) {
		s3ran := false
		p := NewPipe("interruptible", nil,
			WithInterrupt(func(s Store) bool {
				trail, _ := s.Value("trail").(string)
				return strings.HasSuffix(trail, "b")
			}),
			WithAfter(func(s Store) Store { return s.With("shaped", true) }),
		)
		out, err := p.Run(context.Background(), []Step{
			appendStep("s1", "a"),
			appendStep("s2", "b"),
			Transform("s3", func(_ context.Context, s Store) (Store, error) {
				s3ran = true
				return s, nil
			}),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s3ran {
			t.Error("steps after the interruption must not run")
		}
		if out.Value("trail") != "ab" || out.Value("shaped") != true {
			t.Errorf("expected after(S2 result), got %v", out)
		}
	})

	t.Run("Interrupt Returns Uncommitted Store", func(t *testing.T) {
		// Documented asymmetry: the interrupted step's output is returned
		// but never committed, so the pipe's store keeps the value from the
		// last committed step.
		p := NewPipe("asymmetric", nil,
			WithInterrupt(func(s Store) bool {
				trail, _ := s.Value("trail").(string)
				return trail == "ab"
			}),
		)
		out, err := p.Run(context.Background(), []Step{
			appendStep("s1", "a"),
			appendStep("s2", "b"),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Value("trail") != "ab" {
			t.Errorf("returned store should be post-interrupt, got %v", out)
		}
		if p.Store().Value("trail") != "a" {
			t.Errorf("stored state should be pre-interrupt, got %v", p.Store())
		}
	})

	t.Run("Idempotent For Pure Steps", func(t *testing.T) {
		steps := []Step{appendStep("s1", "a"), appendStep("s2", "b")}

		first := NewPipe("pure", map[string]any{"n": 1})
		second := NewPipe("pure", map[string]any{"n": 1})

		out1, err1 := first.Run(context.Background(), steps)
		out2, err2 := second.Run(context.Background(), steps)
		if err1 != nil || err2 != nil {
			t.Fatalf("unexpected errors: %v / %v", err1, err2)
		}
		if !out1.Equal(out2) {
			t.Errorf("pure pipes must be deterministic: %v vs %v", out1, out2)
		}
	})

	t.Run("SetInspection Returns New State", func(t *testing.T) {
		p := NewPipe("inspectable", nil)
		if !p.SetInspection(true) {
			t.Error("expected true")
		}
		if p.SetInspection(false) {
			t.Error("expected false")
		}
	})

	t.Run("Inspection Reports Step And Store", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewPipe("inspected", map[string]any{"n": 1},
			WithInspection(true),
			WithInspector(NewConsoleInspectorWriter(&buf)),
		)
		if _, err := p.Run(context.Background(), []Step{appendStep("s1", "a")}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		logged := buf.String()
		if !strings.Contains(logged, "s1") {
			t.Errorf("inspection should name the step: %q", logged)
		}
		if !strings.Contains(logged, "n: 1") {
			t.Errorf("inspection should show store state: %q", logged)
		}
	})

	t.Run("Inspection Off By Default", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewPipe("quiet", nil, WithInspector(NewConsoleInspectorWriter(&buf)))
		if _, err := p.Run(context.Background(), []Step{appendStep("s1", "a")}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if buf.Len() != 0 {
			t.Errorf("no inspection output expected, got %q", buf.String())
		}
	})

	t.Run("Context Cancellation Stops Run", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		p := NewPipe("canceled", nil)
		_, err := p.Run(ctx, []Step{appendStep("s1", "a")})
		if err == nil {
			t.Fatal("expected cancellation error")
		}
		var perr *Error
		if !errors.As(err, &perr) || !perr.IsCanceled() {
			t.Errorf("expected canceled *Error, got %v", err)
		}
	})

	t.Run("Clock Drives Error Timing", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		boom := errors.New("boom")

		p := NewPipe("timed", nil, WithClock(clock))
		_, err := p.Run(context.Background(), []Step{
			rawStep{name: "slow", fn: func(_ context.Context, s Store) (Store, error) {
				clock.Advance(250 * time.Millisecond)
				return s, boom
			}},
		})
		if err == nil {
			t.Fatal("expected error")
		}
		var perr *Error
		if !errors.As(err, &perr) {
			t.Fatalf("expected *Error, got %T", err)
		}
		if perr.Duration != 250*time.Millisecond {
			t.Errorf("expected 250ms step duration, got %v", perr.Duration)
		}
		if !perr.Timestamp.Equal(clock.Now()) {
			t.Errorf("timestamp should come from the injected clock: %v vs %v", perr.Timestamp, clock.Now())
		}
	})

	t.Run("Metrics Track Runs", func(t *testing.T) {
		p := NewPipe("measured", nil)
		if _, err := p.Run(context.Background(), []Step{appendStep("s1", "a")}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := p.Metrics().Counter(PipeProcessedTotal).Value(); got != 1 {
			t.Errorf("expected 1 processed, got %v", got)
		}
		if got := p.Metrics().Counter(PipeSuccessesTotal).Value(); got != 1 {
			t.Errorf("expected 1 success, got %v", got)
		}
		if got := p.Metrics().Gauge(PipeStepsCompleted).Value(); got != 1 {
			t.Errorf("expected 1 step completed, got %v", got)
		}
	})
}
