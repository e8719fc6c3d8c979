package clock

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidState reports an illegal lifecycle transition or an
	// operation attempted in the wrong state.
	ErrInvalidState = errors.New("invalid clock state")

	// ErrDuplicateProcessor reports registration of an already-registered
	// processor instance.
	ErrDuplicateProcessor = errors.New("processor already registered")

	// ErrUnknownProcessor reports a per-processor operation on an
	// unregistered processor.
	ErrUnknownProcessor = errors.New("processor not registered")

	// ErrPastEndTime reports a backtest run target beyond the configured
	// end of the timeline.
	ErrPastEndTime = errors.New("target is past configured end time")

	// ErrProcessorTimeout reports an invocation that exceeded the
	// configured processor timeout.
	ErrProcessorTimeout = errors.New("processor timed out")
)

// InvocationError reports a single failed processor invocation,
// carrying the underlying cause.
type InvocationError struct {
	Processor string
	Instant   time.Time
	Err       error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("processor %s failed at %s: %v", e.Processor, e.Instant.Format(time.RFC3339Nano), e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// TickError pairs a processor ID with its failure for one dispatch round.
// Per-tick failures are reported through the error callback and
// LastTickErrors, never through RunTil.
type TickError struct {
	Processor string
	Err       error
}
