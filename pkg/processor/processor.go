// Package processor defines the unit of work the clock engine dispatches on
// every tick, and a network-aware wrapper that adds retry with exponential
// backoff.
package processor

import (
	"context"
	"time"
)

// Processor is invoked once per tick with the tick's instant.
// Implementations must be safe for invocation from the engine's dispatch
// goroutines; invocations for distinct ticks never overlap.
type Processor interface {
	Tick(ctx context.Context, now time.Time) error
}

// Func adapts a plain function to the Processor interface. Func values are
// not comparable, so an engine that tracks processors by identity cannot
// register one directly; wrap it in a pointer implementation such as the
// Network wrapper first.
type Func func(ctx context.Context, now time.Time) error

func (f Func) Tick(ctx context.Context, now time.Time) error {
	return f(ctx, now)
}

// Namer is an optional interface. Processors that implement it are
// registered under their own name instead of a generated ID.
type Namer interface {
	Name() string
}

// Starter is an optional interface. The engine calls Start when the clock
// starts (or when the processor is added to a running clock), passing the
// clock's current instant.
type Starter interface {
	Start(ctx context.Context, now time.Time) error
}

// Stopper is an optional interface. The engine calls Stop when the clock
// stops, on every exit path.
type Stopper interface {
	Stop(ctx context.Context) error
}

// RetryReporter is an optional interface. Wrappers that retry internally
// expose how many retries the most recent tick needed, so the engine can
// track retry counts in processor state.
type RetryReporter interface {
	LastRetries() int
}
