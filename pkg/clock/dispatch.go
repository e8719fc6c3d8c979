package clock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/FlowtimeProject/flowtime/pkg/processor"
)

// result is the outcome of one processor invocation.
type result struct {
	err      error
	duration time.Duration
	retries  int
}

// dispatch fans out one tick to the snapshotted processors and joins them
// before returning: tick N+1 never starts before every invocation for tick
// N has resolved. A failing processor does not abort its siblings or the
// loop; failures are tallied, logged, and handed to the error callback.
func (c *Clock) dispatch(ctx context.Context, instant time.Time, entries []*entry) {
	if len(entries) == 0 {
		c.mu.Lock()
		c.lastTickErrs = nil
		c.mu.Unlock()
		c.monitor.RecordTick(0)
		return
	}

	// Stop cancels the dispatch context so in-flight retries and waits are
	// abandoned best-effort instead of stalling the join.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	tickStart := time.Now()
	results := make([]result, len(entries))

	if c.cfg.Sequential {
		for i, e := range entries {
			results[i] = c.invoke(ctx, e, instant)
		}
	} else {
		var wg sync.WaitGroup
		for i, e := range entries {
			wg.Add(1)
			go func(i int, e *entry) {
				defer wg.Done()
				results[i] = c.invoke(ctx, e, instant)
			}(i, e)
		}
		wg.Wait()
	}

	now := time.Now()
	var tickErrs []TickError

	c.mu.Lock()
	for i, e := range entries {
		res := results[i]
		st := &e.state
		if res.retries > 0 {
			st.retryCount += res.retries
			if res.retries > st.maxConsecutiveRetries {
				st.maxConsecutiveRetries = res.retries
			}
		}
		if res.err != nil {
			st.errorCount++
			st.consecutiveErrors++
			st.lastError = res.err.Error()
			st.lastErrorTime = now
			tickErrs = append(tickErrs, TickError{Processor: e.id, Err: res.err})
		} else {
			st.consecutiveErrors = 0
			st.lastSuccessTime = now
			st.lastTimestamp = instant
			st.tickCount++
		}
		c.monitor.Record(e.id, res.duration, res.err == nil)
	}
	c.lastTickErrs = tickErrs
	c.mu.Unlock()

	c.monitor.RecordTick(time.Since(tickStart))

	for _, te := range tickErrs {
		c.logger.Warn("processor failed",
			slog.String("processor", te.Processor),
			slog.Time("tick", instant),
			slog.String("error", te.Err.Error()),
		)
		c.reportError(te.Processor, te.Err)
	}
}

// invoke runs one processor for one tick, converting panics and timeouts
// into failures so a misbehaving processor cannot take down the engine.
func (c *Clock) invoke(ctx context.Context, e *entry, instant time.Time) result {
	start := time.Now()
	err := c.callProcessor(ctx, e.proc, instant)
	res := result{err: nil, duration: time.Since(start)}
	if err != nil {
		res.err = &InvocationError{Processor: e.id, Instant: instant, Err: err}
	}
	if rr, ok := e.proc.(processor.RetryReporter); ok {
		res.retries = rr.LastRetries()
	}
	return res
}

func (c *Clock) callProcessor(ctx context.Context, p processor.Processor, instant time.Time) error {
	if c.cfg.ProcessorTimeout <= 0 {
		return safeTick(ctx, p, instant)
	}

	tctx, cancel := context.WithTimeout(ctx, c.cfg.ProcessorTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- safeTick(tctx, p, instant)
	}()
	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		return fmt.Errorf("%w after %s: %w", ErrProcessorTimeout, c.cfg.ProcessorTimeout, tctx.Err())
	}
}

// safeTick converts a panicking processor into an ordinary failure.
func safeTick(ctx context.Context, p processor.Processor, instant time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panicked: %v", r)
		}
	}()
	return p.Tick(ctx, instant)
}
