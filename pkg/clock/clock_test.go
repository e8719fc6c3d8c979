package clock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FlowtimeProject/flowtime/pkg/processor"
)

var backtestStart = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func backtestConfig(span time.Duration, tick time.Duration) Config {
	return Config{
		Mode:      ModeBacktest,
		StartTime: backtestStart,
		EndTime:   backtestStart.Add(span),
		TickSize:  tick,
	}
}

// recordingProcessor captures every tick instant it receives.
type recordingProcessor struct {
	name string

	mu    sync.Mutex
	ticks []time.Time
}

func (p *recordingProcessor) Name() string { return p.name }

func (p *recordingProcessor) Tick(_ context.Context, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks = append(p.ticks, now)
	return nil
}

func (p *recordingProcessor) instants() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]time.Time, len(p.ticks))
	copy(out, p.ticks)
	return out
}

// tickFunc adapts a function to a comparable processor for registration.
type tickFunc struct {
	fn func(ctx context.Context, now time.Time) error
}

func (p *tickFunc) Tick(ctx context.Context, now time.Time) error {
	return p.fn(ctx, now)
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero tick size", Config{Mode: ModeRealtime}},
		{"negative tick size", Config{Mode: ModeRealtime, TickSize: -time.Second}},
		{"negative retries", Config{Mode: ModeRealtime, TickSize: time.Second, MaxRetries: -1}},
		{"backtest without start", Config{Mode: ModeBacktest, TickSize: time.Second, EndTime: backtestStart}},
		{"backtest without end", Config{Mode: ModeBacktest, TickSize: time.Second, StartTime: backtestStart}},
		{"end before start", Config{
			Mode:      ModeBacktest,
			TickSize:  time.Second,
			StartTime: backtestStart,
			EndTime:   backtestStart.Add(-time.Hour),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected config error, got nil")
			}
		})
	}
}

func TestClock_StateTransitions(t *testing.T) {
	ctx := context.Background()
	c, err := NewBacktest(backtestConfig(10*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	if c.State() != StateIdle {
		t.Errorf("initial state = %v, want idle", c.State())
	}

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if c.State() != StateRunning {
		t.Errorf("state after Start = %v, want running", c.State())
	}

	if err := c.Start(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Start = %v, want ErrInvalidState", err)
	}

	if err := c.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if c.State() != StatePaused {
		t.Errorf("state after Pause = %v, want paused", c.State())
	}
	if err := c.Pause(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Pause while paused = %v, want ErrInvalidState", err)
	}

	if err := c.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if c.State() != StateRunning {
		t.Errorf("state after Resume = %v, want running", c.State())
	}
	if err := c.Resume(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Resume while running = %v, want ErrInvalidState", err)
	}

	c.Stop(ctx)
	if c.State() != StateStopped {
		t.Errorf("state after Stop = %v, want stopped", c.State())
	}

	// Stopped is terminal.
	if err := c.Start(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start after Stop = %v, want ErrInvalidState", err)
	}
	if err := c.Pause(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Pause after Stop = %v, want ErrInvalidState", err)
	}
}

func TestClock_StopIdempotent(t *testing.T) {
	ctx := context.Background()
	c, err := NewBacktest(backtestConfig(10*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	c.Stop(ctx)
	c.Stop(ctx) // must not panic on the already-closed stop channel
	if c.State() != StateStopped {
		t.Errorf("state = %v, want stopped", c.State())
	}
}

func TestClock_AddProcessor_Duplicate(t *testing.T) {
	ctx := context.Background()
	c, err := NewBacktest(backtestConfig(10*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	p := &recordingProcessor{name: "feed"}
	if err := c.AddProcessor(ctx, p); err != nil {
		t.Fatalf("AddProcessor failed: %v", err)
	}
	if err := c.AddProcessor(ctx, p); !errors.Is(err, ErrDuplicateProcessor) {
		t.Errorf("duplicate AddProcessor = %v, want ErrDuplicateProcessor", err)
	}
	if got := len(c.Processors()); got != 1 {
		t.Errorf("Processors() len = %d, want 1", got)
	}
}

func TestClock_AddProcessor_GeneratedIDs(t *testing.T) {
	ctx := context.Background()
	c, err := NewBacktest(backtestConfig(10*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	p1 := &tickFunc{fn: func(ctx context.Context, _ time.Time) error { return nil }}
	p2 := &tickFunc{fn: func(ctx context.Context, _ time.Time) error { return nil }}

	if err := c.AddProcessor(ctx, p1); err != nil {
		t.Fatal(err)
	}
	if err := c.AddProcessor(ctx, p2); err != nil {
		t.Fatal(err)
	}

	s1, ok := c.ProcessorStateFor(p1)
	if !ok {
		t.Fatal("ProcessorStateFor(p1) not found")
	}
	s2, ok := c.ProcessorStateFor(p2)
	if !ok {
		t.Fatal("ProcessorStateFor(p2) not found")
	}

	if !strings.HasPrefix(s1.ID, "processor-") {
		t.Errorf("generated ID = %q, want processor- prefix", s1.ID)
	}
	if s1.ID == s2.ID {
		t.Errorf("generated IDs collide: %q", s1.ID)
	}
}

func TestClock_AddProcessorWithTag_CollidingTags(t *testing.T) {
	ctx := context.Background()
	c, err := NewBacktest(backtestConfig(10*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	p1 := &tickFunc{fn: func(ctx context.Context, _ time.Time) error { return nil }}
	p2 := &tickFunc{fn: func(ctx context.Context, _ time.Time) error { return nil }}

	if err := c.AddProcessorWithTag(ctx, p1, "feed"); err != nil {
		t.Fatal(err)
	}
	if err := c.AddProcessorWithTag(ctx, p2, "feed"); err != nil {
		t.Fatal(err)
	}

	s1, _ := c.ProcessorStateFor(p1)
	s2, _ := c.ProcessorStateFor(p2)
	if s1.ID == s2.ID {
		t.Errorf("colliding tags produced identical IDs: %q", s1.ID)
	}
	if s1.ID != "feed" {
		t.Errorf("first ID = %q, want feed", s1.ID)
	}
	if !strings.HasPrefix(s2.ID, "feed-") {
		t.Errorf("second ID = %q, want feed- prefix", s2.ID)
	}
}

func TestClock_AddProcessor_Uncomparable(t *testing.T) {
	ctx := context.Background()
	c, err := NewBacktest(backtestConfig(10*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	// Func values cannot key the identity index.
	bare := processor.Func(func(ctx context.Context, _ time.Time) error { return nil })
	if err := c.AddProcessor(ctx, bare); err == nil {
		t.Error("expected error registering an uncomparable processor")
	}

	// Wrapping in a pointer implementation makes it registerable.
	if err := c.AddProcessor(ctx, processor.NewNetwork(bare)); err != nil {
		t.Errorf("AddProcessor(NewNetwork(bare)) = %v, want nil", err)
	}
}

func TestClock_AddProcessor_AfterStop(t *testing.T) {
	ctx := context.Background()
	c, err := NewBacktest(backtestConfig(10*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	c.Stop(ctx)
	p := &recordingProcessor{name: "late"}
	if err := c.AddProcessor(ctx, p); !errors.Is(err, ErrInvalidState) {
		t.Errorf("AddProcessor after Stop = %v, want ErrInvalidState", err)
	}
}

func TestClock_RemoveProcessor_Absent(t *testing.T) {
	ctx := context.Background()
	c, err := NewBacktest(backtestConfig(10*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	// Removing an unregistered processor is a no-op.
	c.RemoveProcessor(ctx, &recordingProcessor{name: "ghost"})
	if got := len(c.Processors()); got != 0 {
		t.Errorf("Processors() len = %d, want 0", got)
	}
}

func TestClock_PauseResumeProcessor(t *testing.T) {
	ctx := context.Background()
	c, err := NewBacktest(backtestConfig(6*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	kept := &recordingProcessor{name: "kept"}
	paused := &recordingProcessor{name: "paused"}
	if err := c.AddProcessor(ctx, kept); err != nil {
		t.Fatal(err)
	}
	if err := c.AddProcessor(ctx, paused); err != nil {
		t.Fatal(err)
	}

	if err := c.PauseProcessor(paused); err != nil {
		t.Fatalf("PauseProcessor failed: %v", err)
	}
	if st, _ := c.ProcessorStateFor(paused); st.Active {
		t.Error("paused processor reported active before start")
	}

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	c.Stop(ctx)

	if got := len(kept.instants()); got != 6 {
		t.Errorf("kept processor got %d ticks, want 6", got)
	}
	if got := len(paused.instants()); got != 0 {
		t.Errorf("paused processor got %d ticks, want 0", got)
	}

	if err := c.PauseProcessor(&recordingProcessor{name: "ghost"}); !errors.Is(err, ErrUnknownProcessor) {
		t.Errorf("PauseProcessor(unknown) = %v, want ErrUnknownProcessor", err)
	}
	if err := c.ResumeProcessor(&recordingProcessor{name: "ghost"}); !errors.Is(err, ErrUnknownProcessor) {
		t.Errorf("ResumeProcessor(unknown) = %v, want ErrUnknownProcessor", err)
	}
}

func TestClock_ResumeProcessor_MidTimeline(t *testing.T) {
	ctx := context.Background()
	c, err := NewBacktest(backtestConfig(6*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	p := &recordingProcessor{name: "feed"}
	if err := c.AddProcessor(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := c.PauseProcessor(p); err != nil {
		t.Fatal(err)
	}

	if err := c.RunTil(ctx, backtestStart.Add(3*time.Second)); err != nil {
		t.Fatalf("first RunTil failed: %v", err)
	}
	if got := len(p.instants()); got != 0 {
		t.Fatalf("paused processor got %d ticks, want 0", got)
	}

	if err := c.ResumeProcessor(p); err != nil {
		t.Fatal(err)
	}
	if st, _ := c.ProcessorStateFor(p); !st.Active {
		t.Error("resumed processor reported inactive")
	}

	if err := c.RunTil(ctx, backtestStart.Add(6*time.Second)); err != nil {
		t.Fatalf("second RunTil failed: %v", err)
	}

	instants := p.instants()
	if len(instants) != 3 {
		t.Fatalf("resumed processor got %d ticks, want 3", len(instants))
	}
	for i, got := range instants {
		want := backtestStart.Add(time.Duration(i+4) * time.Second)
		if !got.Equal(want) {
			t.Errorf("tick %d = %v, want %v", i, got, want)
		}
	}
}

// lifecycleProcessor records Start/Stop calls.
type lifecycleProcessor struct {
	recordingProcessor

	mu      sync.Mutex
	started []time.Time
	stopped int
}

func (p *lifecycleProcessor) Start(_ context.Context, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, now)
	return nil
}

func (p *lifecycleProcessor) Stop(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
	return nil
}

func TestClock_ProcessorLifecycle(t *testing.T) {
	ctx := context.Background()
	c, err := NewBacktest(backtestConfig(3*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	p := &lifecycleProcessor{}
	p.name = "lifecycle"
	if err := c.AddProcessor(ctx, p); err != nil {
		t.Fatal(err)
	}

	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}

	p.mu.Lock()
	if len(p.started) != 1 || !p.started[0].Equal(backtestStart) {
		t.Errorf("started = %v, want one call at %v", p.started, backtestStart)
	}
	p.mu.Unlock()

	c.Stop(ctx)

	p.mu.Lock()
	if p.stopped != 1 {
		t.Errorf("stopped = %d, want 1", p.stopped)
	}
	p.mu.Unlock()
}

func TestClock_Scope(t *testing.T) {
	c, err := NewBacktest(backtestConfig(3*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	ran := false
	err = c.Scope(context.Background(), func(ctx context.Context) error {
		ran = true
		if c.State() != StateRunning {
			t.Errorf("state inside Scope = %v, want running", c.State())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Scope failed: %v", err)
	}
	if !ran {
		t.Error("Scope did not run fn")
	}
	if c.State() != StateStopped {
		t.Errorf("state after Scope = %v, want stopped", c.State())
	}
}

func TestClock_Scope_ErrorStillStops(t *testing.T) {
	c, err := NewBacktest(backtestConfig(3*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	cause := errors.New("boom")
	if err := c.Scope(context.Background(), func(ctx context.Context) error {
		return cause
	}); !errors.Is(err, cause) {
		t.Errorf("Scope error = %v, want %v", err, cause)
	}
	if c.State() != StateStopped {
		t.Errorf("state after failed Scope = %v, want stopped", c.State())
	}
}

func TestClock_CurrentTime_BeforeStart(t *testing.T) {
	c, err := NewBacktest(backtestConfig(10*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	if got := c.CurrentTime(); !got.Equal(backtestStart) {
		t.Errorf("CurrentTime() = %v, want %v", got, backtestStart)
	}
}

// retryingProcessor pretends its wrapper retried a fixed number of times.
type retryingProcessor struct {
	retries int
}

func (p *retryingProcessor) Tick(_ context.Context, _ time.Time) error { return nil }
func (p *retryingProcessor) LastRetries() int                          { return p.retries }

func TestClock_ProcessorState_Retries(t *testing.T) {
	ctx := context.Background()
	c, err := NewBacktest(backtestConfig(3*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}

	p := &retryingProcessor{retries: 2}
	if err := c.AddProcessorWithTag(ctx, p, "retryer"); err != nil {
		t.Fatal(err)
	}

	if err := c.Run(ctx); err != nil {
		t.Fatal(err)
	}

	st, ok := c.ProcessorStateFor(p)
	if !ok {
		t.Fatal("ProcessorStateFor not found")
	}
	if st.RetryCount != 6 {
		t.Errorf("RetryCount = %d, want 6 (2 per tick over 3 ticks)", st.RetryCount)
	}
	if st.MaxConsecutiveRetries != 2 {
		t.Errorf("MaxConsecutiveRetries = %d, want 2", st.MaxConsecutiveRetries)
	}
	if st.TickCount != 3 {
		t.Errorf("TickCount = %d, want 3", st.TickCount)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateRunning, "running"},
		{StatePaused, "paused"},
		{StateStopped, "stopped"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestMode_String(t *testing.T) {
	if ModeRealtime.String() != "realtime" {
		t.Errorf("ModeRealtime.String() = %q", ModeRealtime.String())
	}
	if ModeBacktest.String() != "backtest" {
		t.Errorf("ModeBacktest.String() = %q", ModeBacktest.String())
	}
}
