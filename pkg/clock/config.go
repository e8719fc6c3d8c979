package clock

import (
	"fmt"
	"time"

	"github.com/FlowtimeProject/flowtime/pkg/backoff"
	"github.com/FlowtimeProject/flowtime/pkg/monitor"
)

// Config holds the immutable parameters of a clock run.
type Config struct {
	// Mode selects realtime or backtest pacing.
	Mode Mode

	// StartTime anchors the timeline. Required for backtest; a zero value
	// in realtime mode means "the wall-clock instant Start is called".
	StartTime time.Time

	// EndTime bounds the timeline. Required for backtest; optional in
	// realtime mode (zero means unbounded).
	EndTime time.Time

	// TickSize is the spacing between ticks. Must be positive.
	TickSize time.Duration

	// MaxRetries is the retry budget handed to network-aware processors
	// built from this config. Must be non-negative.
	MaxRetries int

	// Backoff is the retry wait policy for network-aware processors.
	Backoff backoff.Policy

	// ProcessorTimeout bounds a single processor invocation.
	// Zero means no timeout: a hung processor stalls its tick.
	ProcessorTimeout time.Duration

	// Sequential dispatches processors one at a time in registration order
	// instead of concurrently. Concurrent dispatch is the default.
	Sequential bool

	// StatsWindow is the number of timing samples retained per processor
	// (default monitor.DefaultWindow).
	StatsWindow int
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.TickSize <= 0 {
		return fmt.Errorf("tick size must be positive, got %s", c.TickSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.Backoff.Multiplier != 0 && c.Backoff.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier must be >= 1, got %g", c.Backoff.Multiplier)
	}
	if !c.EndTime.IsZero() && !c.StartTime.IsZero() && c.EndTime.Before(c.StartTime) {
		return fmt.Errorf("end time %s is before start time %s", c.EndTime, c.StartTime)
	}
	if c.Mode == ModeBacktest {
		if c.StartTime.IsZero() {
			return fmt.Errorf("backtest mode requires a start time")
		}
		if c.EndTime.IsZero() {
			return fmt.Errorf("backtest mode requires an end time")
		}
	}
	return nil
}

// withDefaults fills in zero fields.
func (c Config) withDefaults() Config {
	c.Backoff = c.Backoff.Normalize()
	if c.StatsWindow <= 0 {
		c.StatsWindow = monitor.DefaultWindow
	}
	return c
}
