// Package clock implements the tick-driven execution engine.
//
// A Clock advances a notion of "current time", either tracking the wall
// clock in realtime mode or replaying a historical timeline at host speed
// in backtest mode, and on every tick dispatches all registered processors,
// isolating their failures from each other and from the loop itself.
// The same processor code runs unmodified under either mode.
package clock

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FlowtimeProject/flowtime/pkg/monitor"
	"github.com/FlowtimeProject/flowtime/pkg/processor"
	"github.com/FlowtimeProject/flowtime/pkg/timesource"
)

// ErrorCallback receives per-tick processor failures. Callbacks run on the
// engine's loop goroutine after the tick has joined; they must not block.
type ErrorCallback func(processorID string, err error)

// entry is one processor registration. active is the lifecycle flag owned
// by Start/Stop/Add/Remove; paused is user intent owned by PauseProcessor
// and ResumeProcessor. Dispatch requires active and not paused, so a pause
// issued while the clock is still idle survives Start.
type entry struct {
	id     string
	proc   processor.Processor
	active bool
	paused bool
	state  procState
}

// procState is the engine's mutable per-processor bookkeeping,
// guarded by the clock mutex. Snapshots are exposed as ProcessorState.
type procState struct {
	lastTimestamp         time.Time
	tickCount             int
	errorCount            int
	consecutiveErrors     int
	lastError             string
	lastErrorTime         time.Time
	lastSuccessTime       time.Time
	retryCount            int
	maxConsecutiveRetries int
}

// ProcessorState is an immutable snapshot of a processor's registration state.
type ProcessorState struct {
	ID                    string
	Active                bool
	LastTimestamp         time.Time
	TickCount             int
	ErrorCount            int
	ConsecutiveErrors     int
	LastError             string
	LastErrorTime         time.Time
	LastSuccessTime       time.Time
	RetryCount            int
	MaxConsecutiveRetries int
}

// Clock is the tick engine. Create one with New, NewRealtime or NewBacktest;
// a Clock must not be copied after creation.
type Clock struct {
	cfg     Config
	source  timesource.Source
	logger  *slog.Logger
	monitor *monitor.Monitor
	onError ErrorCallback

	mu            sync.Mutex
	state         State
	current       time.Time
	wallStart     time.Time
	timelineStart time.Time
	entries       []*entry
	index         map[processor.Processor]*entry
	running       bool
	stopCh        chan struct{}
	resumeCh      chan struct{}
	tickCount     uint64
	lastTickErrs  []TickError
}

// Option configures a Clock.
type Option func(*Clock)

// WithSource sets the time source used for realtime pacing.
// Tests inject a timesource.Virtual here.
func WithSource(src timesource.Source) Option {
	return func(c *Clock) {
		c.source = src
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *Clock) {
		c.logger = l
	}
}

// WithMonitor sets the performance monitor. By default a clock owns a
// fresh monitor sized to Config.StatsWindow.
func WithMonitor(m *monitor.Monitor) Option {
	return func(c *Clock) {
		c.monitor = m
	}
}

// WithErrorCallback sets the per-tick failure callback.
func WithErrorCallback(cb ErrorCallback) Option {
	return func(c *Clock) {
		c.onError = cb
	}
}

// New creates a Clock for the mode named in the config.
func New(cfg Config, opts ...Option) (*Clock, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid clock config: %w", err)
	}
	cfg = cfg.withDefaults()

	c := &Clock{
		cfg:    cfg,
		source: timesource.System(),
		logger: slog.Default(),
		state:  StateIdle,
		index:  make(map[processor.Processor]*entry),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.monitor == nil {
		c.monitor = monitor.New(cfg.StatsWindow)
	}
	return c, nil
}

// NewRealtime creates a Clock paced to wall-clock time.
func NewRealtime(cfg Config, opts ...Option) (*Clock, error) {
	cfg.Mode = ModeRealtime
	return New(cfg, opts...)
}

// NewBacktest creates a Clock that replays the configured timeline as fast
// as the host can process dispatch rounds.
func NewBacktest(cfg Config, opts ...Option) (*Clock, error) {
	cfg.Mode = ModeBacktest
	return New(cfg, opts...)
}

// Config returns the clock configuration.
func (c *Clock) Config() Config {
	return c.cfg
}

// State returns the current lifecycle state.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentTime returns the timeline's current instant. Before Start it is
// the configured start time (zero in realtime mode until started).
func (c *Clock) CurrentTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		return c.cfg.StartTime
	}
	return c.current
}

// TickCount returns the number of completed ticks.
func (c *Clock) TickCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickCount
}

// Monitor returns the clock's performance monitor.
func (c *Clock) Monitor() *monitor.Monitor {
	return c.monitor
}

// LastTickErrors returns the failures collected during the most recent
// completed tick. Empty when every processor succeeded.
func (c *Clock) LastTickErrors() []TickError {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TickError, len(c.lastTickErrs))
	copy(out, c.lastTickErrs)
	return out
}

// Start transitions Idle → Running, anchors the timeline, and starts every
// registered processor that implements processor.Starter.
func (c *Clock) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: start requires an idle clock, clock is %s", ErrInvalidState, state)
	}
	c.state = StateRunning
	c.wallStart = c.source.Now()
	if c.cfg.StartTime.IsZero() {
		c.current = c.wallStart
	} else {
		c.current = c.cfg.StartTime
	}
	c.timelineStart = c.current
	now := c.current

	started := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		e.active = true
		started = append(started, e)
	}
	c.mu.Unlock()

	for _, e := range started {
		c.startProcessor(ctx, e, now)
	}

	c.logger.Debug("clock started",
		slog.String("mode", c.cfg.Mode.String()),
		slog.Time("start", now),
		slog.Duration("tick_size", c.cfg.TickSize),
	)
	return nil
}

// Stop transitions any non-terminal state to Stopped, releases any pending
// inter-tick wait so an in-flight RunTil returns promptly, and stops every
// processor that implements processor.Stopper. Stop is idempotent.
func (c *Clock) Stop(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	wasIdle := c.state == StateIdle
	c.state = StateStopped
	close(c.stopCh)

	stopped := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.active {
			e.active = false
			stopped = append(stopped, e)
		}
	}
	c.mu.Unlock()

	if !wasIdle {
		for _, e := range stopped {
			c.stopProcessor(ctx, e)
		}
		c.logger.Debug("clock stopped", slog.Uint64("ticks", c.TickCount()))
	}
}

// Pause transitions Running → Paused. The next computed tick instant is
// preserved; Resume continues from where the loop left off.
func (c *Clock) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return fmt.Errorf("%w: pause requires a running clock, clock is %s", ErrInvalidState, c.state)
	}
	c.state = StatePaused
	c.resumeCh = make(chan struct{})
	return nil
}

// Resume transitions Paused → Running.
func (c *Clock) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return fmt.Errorf("%w: resume requires a paused clock, clock is %s", ErrInvalidState, c.state)
	}
	c.state = StateRunning
	close(c.resumeCh)
	c.resumeCh = nil
	return nil
}

// Scope starts the clock, runs fn, and guarantees Stop on every exit path.
func (c *Clock) Scope(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Stop(ctx)
	return fn(ctx)
}

// AddProcessor registers p under a generated ID: the processor's own name
// if it implements processor.Namer, otherwise a short random ID.
// Registration is allowed while Idle or Running; re-registering the same
// instance is rejected with ErrDuplicateProcessor.
func (c *Clock) AddProcessor(ctx context.Context, p processor.Processor) error {
	tag := ""
	if nm, ok := p.(processor.Namer); ok {
		tag = nm.Name()
	}
	return c.AddProcessorWithTag(ctx, p, tag)
}

// AddProcessorWithTag registers p under the given metrics tag.
func (c *Clock) AddProcessorWithTag(ctx context.Context, p processor.Processor, tag string) error {
	if !comparableProcessor(p) {
		return fmt.Errorf("processor type %T is not comparable; register a pointer implementation", p)
	}
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateRunning {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot add processor while %s", ErrInvalidState, state)
	}
	if _, dup := c.index[p]; dup {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateProcessor, tag)
	}
	if tag == "" {
		tag = "processor-" + uuid.NewString()[:8]
	}
	for taken := true; taken; {
		taken = false
		for _, e := range c.entries {
			if e.id == tag {
				tag = tag + "-" + uuid.NewString()[:4]
				taken = true
				break
			}
		}
	}

	e := &entry{id: tag, proc: p}
	c.entries = append(c.entries, e)
	c.index[p] = e

	startNow := c.state == StateRunning
	now := c.current
	if startNow {
		e.active = true
	}
	c.mu.Unlock()

	if startNow {
		c.startProcessor(ctx, e, now)
	}
	return nil
}

// RemoveProcessor deregisters p. Removing an absent processor is a no-op:
// removal is idempotent by identity, mirroring registration.
func (c *Clock) RemoveProcessor(ctx context.Context, p processor.Processor) {
	if !comparableProcessor(p) {
		return
	}
	c.mu.Lock()
	e, found := c.index[p]
	if !found {
		c.mu.Unlock()
		return
	}
	delete(c.index, p)
	for i, other := range c.entries {
		if other == e {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			break
		}
	}
	wasActive := e.active
	e.active = false
	c.mu.Unlock()

	if wasActive {
		c.stopProcessor(ctx, e)
	}
}

// PauseProcessor deactivates p without deregistering it: dispatch skips it
// until ResumeProcessor. The pause survives a later Start, so a processor
// paused while the clock is idle is not dispatched when the clock runs.
// Pausing an already-paused processor is a no-op.
func (c *Clock) PauseProcessor(p processor.Processor) error {
	if !comparableProcessor(p) {
		return ErrUnknownProcessor
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.index[p]
	if !found {
		return ErrUnknownProcessor
	}
	e.paused = true
	return nil
}

// ResumeProcessor reactivates a paused processor. Idempotent.
func (c *Clock) ResumeProcessor(p processor.Processor) error {
	if !comparableProcessor(p) {
		return ErrUnknownProcessor
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.index[p]
	if !found {
		return ErrUnknownProcessor
	}
	e.paused = false
	return nil
}

// Processors returns the registered processors in registration order.
func (c *Clock) Processors() []processor.Processor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]processor.Processor, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.proc
	}
	return out
}

// ProcessorStateFor returns a snapshot of p's registration state.
func (c *Clock) ProcessorStateFor(p processor.Processor) (ProcessorState, bool) {
	if !comparableProcessor(p) {
		return ProcessorState{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.index[p]
	if !found {
		return ProcessorState{}, false
	}
	return ProcessorState{
		ID:                    e.id,
		Active:                e.active && !e.paused,
		LastTimestamp:         e.state.lastTimestamp,
		TickCount:             e.state.tickCount,
		ErrorCount:            e.state.errorCount,
		ConsecutiveErrors:     e.state.consecutiveErrors,
		LastError:             e.state.lastError,
		LastErrorTime:         e.state.lastErrorTime,
		LastSuccessTime:       e.state.lastSuccessTime,
		RetryCount:            e.state.retryCount,
		MaxConsecutiveRetries: e.state.maxConsecutiveRetries,
	}, true
}

func (c *Clock) startProcessor(ctx context.Context, e *entry, now time.Time) {
	s, ok := e.proc.(processor.Starter)
	if !ok {
		return
	}
	if err := s.Start(ctx, now); err != nil {
		c.logger.Warn("processor start failed",
			slog.String("processor", e.id),
			slog.String("error", err.Error()),
		)
		c.reportError(e.id, err)
	}
}

func (c *Clock) stopProcessor(ctx context.Context, e *entry) {
	s, ok := e.proc.(processor.Stopper)
	if !ok {
		return
	}
	if err := s.Stop(ctx); err != nil {
		c.logger.Warn("processor stop failed",
			slog.String("processor", e.id),
			slog.String("error", err.Error()),
		)
	}
}

// comparableProcessor reports whether p can key the identity index.
// Func values and other uncomparable types cannot; they must be wrapped in
// a pointer implementation (processor.NewNetwork qualifies) first.
func comparableProcessor(p processor.Processor) bool {
	return p != nil && reflect.TypeOf(p).Comparable()
}

func (c *Clock) reportError(id string, err error) {
	if c.onError != nil {
		c.onError(id, err)
	}
}
