package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FlowtimeProject/flowtime/pkg/backoff"
	"github.com/FlowtimeProject/flowtime/pkg/timesource"
)

// NetworkStatus describes the connectivity state of a network processor.
type NetworkStatus int32

const (
	// StatusStopped means the processor has not run yet or has been stopped.
	StatusStopped NetworkStatus = iota

	// StatusNotConnected means the processor started but has not succeeded yet.
	StatusNotConnected

	// StatusConnected means the last tick succeeded.
	StatusConnected

	// StatusError means the last tick failed after exhausting retries.
	StatusError
)

func (s NetworkStatus) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusNotConnected:
		return "not_connected"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Network wraps a Processor with retry/backoff for transient failures.
//
// Each tick resets the attempt counter: on failure the wrapper waits
// min(Max, Base * Multiplier^attempt) and retries, up to MaxRetries retries
// after the initial attempt. If every attempt fails the tick reports a
// *backoff.ExhaustedError wrapping the last cause. An optional per-attempt
// timeout bounds each invocation.
type Network struct {
	inner      Processor
	name       string
	policy     backoff.Policy
	maxRetries int
	timeout    time.Duration
	source     timesource.Source
	logger     *slog.Logger

	status      atomic.Int32
	lastRetries atomic.Int32

	mu        sync.Mutex
	lastWaits []time.Duration
}

// NetworkOption configures a Network wrapper.
type NetworkOption func(*Network)

// WithPolicy sets the backoff policy (default: backoff.NetworkPolicy()).
func WithPolicy(p backoff.Policy) NetworkOption {
	return func(n *Network) {
		n.policy = p
	}
}

// WithMaxRetries sets the number of retries after the initial attempt
// (default: 3).
func WithMaxRetries(r int) NetworkOption {
	return func(n *Network) {
		n.maxRetries = r
	}
}

// WithAttemptTimeout bounds each attempt (default: none).
func WithAttemptTimeout(d time.Duration) NetworkOption {
	return func(n *Network) {
		n.timeout = d
	}
}

// WithSource sets the time source used for backoff waits (default: wall clock).
func WithSource(src timesource.Source) NetworkOption {
	return func(n *Network) {
		n.source = src
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) NetworkOption {
	return func(n *Network) {
		n.logger = l
	}
}

// NewNetwork wraps inner with retry/backoff.
func NewNetwork(inner Processor, opts ...NetworkOption) *Network {
	n := &Network{
		inner:      inner,
		name:       "network",
		policy:     backoff.NetworkPolicy(),
		maxRetries: 3,
		source:     timesource.System(),
		logger:     slog.Default(),
	}
	if nm, ok := inner.(Namer); ok {
		n.name = nm.Name()
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name reports the wrapped processor's name.
func (n *Network) Name() string {
	return n.name
}

// Status returns the current connectivity status.
func (n *Network) Status() NetworkStatus {
	return NetworkStatus(n.status.Load())
}

// LastRetries reports how many retries the most recent tick needed.
func (n *Network) LastRetries() int {
	return int(n.lastRetries.Load())
}

// LastWaits returns the backoff waits applied during the most recent tick.
func (n *Network) LastWaits() []time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	waits := make([]time.Duration, len(n.lastWaits))
	copy(waits, n.lastWaits)
	return waits
}

// Start marks the processor as started and forwards to the wrapped
// processor if it implements Starter.
func (n *Network) Start(ctx context.Context, now time.Time) error {
	n.status.Store(int32(StatusNotConnected))
	if s, ok := n.inner.(Starter); ok {
		return s.Start(ctx, now)
	}
	return nil
}

// Stop marks the processor as stopped and forwards to the wrapped
// processor if it implements Stopper.
func (n *Network) Stop(ctx context.Context) error {
	n.status.Store(int32(StatusStopped))
	if s, ok := n.inner.(Stopper); ok {
		return s.Stop(ctx)
	}
	return nil
}

// Tick invokes the wrapped processor, retrying transient failures with
// exponential backoff. The retry budget resets on every tick.
func (n *Network) Tick(ctx context.Context, now time.Time) error {
	retries := 0
	n.mu.Lock()
	n.lastWaits = n.lastWaits[:0]
	n.mu.Unlock()

	err := backoff.Retry(ctx, backoff.Config{
		Policy:     n.policy,
		MaxRetries: n.maxRetries,
		Source:     n.source,
		OnWait: func(attempt int, delay time.Duration) {
			retries++
			n.mu.Lock()
			n.lastWaits = append(n.lastWaits, delay)
			n.mu.Unlock()
			n.logger.Debug("retrying after backoff",
				slog.String("processor", n.name),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
		},
	}, func(ctx context.Context) error {
		return n.attempt(ctx, now)
	})

	n.lastRetries.Store(int32(retries))
	if err != nil {
		n.status.Store(int32(StatusError))
		return err
	}
	n.status.Store(int32(StatusConnected))
	return nil
}

func (n *Network) attempt(ctx context.Context, now time.Time) error {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- n.inner.Tick(ctx, now)
		}()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return fmt.Errorf("attempt timed out after %s: %w", n.timeout, ctx.Err())
		}
	}
	return n.inner.Tick(ctx, now)
}
