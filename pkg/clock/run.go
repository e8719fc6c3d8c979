package clock

import (
	"context"
	"fmt"
	"time"
)

// RunTil drives the tick loop until the timeline reaches target, the clock
// is stopped, or ctx is cancelled.
//
// Ticks are strictly monotonic and evenly spaced from the start time: the
// next scheduled instant is always the previous scheduled instant plus the
// tick size, never "now plus tick size", so overruns do not accumulate
// drift and a given (start, target, tick size) triple always yields the
// same tick count. The final tick is clamped to target when the spacing
// does not divide the remaining interval.
//
// RunTil returns an error only for state violations discovered before
// looping (already running, stopped, backtest target past the end time).
// Once looping it returns nil on reaching the bound and nil on external
// Stop, leaving the current time at the last completed tick; cancellation
// of ctx returns ctx.Err().
func (c *Clock) RunTil(ctx context.Context, target time.Time) error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		if err := c.Start(ctx); err != nil {
			return err
		}
		c.mu.Lock()
	}
	switch c.state {
	case StateRunning, StatePaused:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: run requires a started clock, clock is %s", ErrInvalidState, state)
	}
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("%w: a run is already in progress", ErrInvalidState)
	}
	if c.cfg.Mode == ModeBacktest && target.After(c.cfg.EndTime) {
		c.mu.Unlock()
		return fmt.Errorf("%w: target %s, end %s", ErrPastEndTime, target, c.cfg.EndTime)
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	return c.loop(ctx, target)
}

// Run drives the tick loop until the configured end time.
func (c *Clock) Run(ctx context.Context) error {
	if c.cfg.EndTime.IsZero() {
		return fmt.Errorf("%w: run requires a configured end time", ErrInvalidState)
	}
	return c.RunTil(ctx, c.cfg.EndTime)
}

// FastForward advances the timeline by d. Only meaningful in backtest mode;
// a non-positive d is a no-op.
func (c *Clock) FastForward(ctx context.Context, d time.Duration) error {
	if c.cfg.Mode != ModeBacktest {
		return fmt.Errorf("%w: fast forward requires backtest mode", ErrInvalidState)
	}
	if d <= 0 {
		return nil
	}
	c.mu.Lock()
	cur := c.current
	if c.state == StateIdle {
		cur = c.cfg.StartTime
	}
	c.mu.Unlock()
	return c.RunTil(ctx, cur.Add(d))
}

// loop is the shared tick algorithm. Pacing is the only point where the
// realtime and backtest variants differ.
func (c *Clock) loop(ctx context.Context, target time.Time) error {
	bound := target
	if !c.cfg.EndTime.IsZero() && c.cfg.EndTime.Before(bound) {
		bound = c.cfg.EndTime
	}

	for {
		c.mu.Lock()
		if c.state == StateStopped {
			c.mu.Unlock()
			return nil
		}
		cur := c.current
		c.mu.Unlock()

		if !cur.Before(bound) {
			return nil
		}

		next := cur.Add(c.cfg.TickSize)
		if next.After(bound) {
			next = bound
		}

		cont, err := c.awaitResume(ctx)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}

		cont, err = c.waitUntil(ctx, next)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}

		c.mu.Lock()
		if c.state == StateStopped {
			c.mu.Unlock()
			return nil
		}
		c.current = next
		c.tickCount++
		snapshot := make([]*entry, 0, len(c.entries))
		for _, e := range c.entries {
			if e.active && !e.paused {
				snapshot = append(snapshot, e)
			}
		}
		c.mu.Unlock()

		c.dispatch(ctx, next, snapshot)
	}
}

// awaitResume blocks while the clock is paused. It returns false when the
// clock stopped during the pause.
func (c *Clock) awaitResume(ctx context.Context) (bool, error) {
	c.mu.Lock()
	ch := c.resumeCh
	c.mu.Unlock()
	if ch == nil {
		return true, nil
	}
	select {
	case <-ch:
		return true, nil
	case <-c.stopCh:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// waitUntil realizes the inter-tick wait for the timeline instant next.
//
// In backtest mode there is no suspension: the timeline advances as fast as
// dispatch allows. In realtime mode the loop sleeps until the wall clock
// reaches the instant corresponding to next; if a prior dispatch overran
// its slot the wait is skipped and the tick fires immediately. Ticks are
// never dropped, so under sustained overrun the engine free-runs without
// back-pressure.
func (c *Clock) waitUntil(ctx context.Context, next time.Time) (bool, error) {
	if c.cfg.Mode == ModeBacktest {
		select {
		case <-c.stopCh:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		default:
			return true, nil
		}
	}

	c.mu.Lock()
	deadline := c.wallStart.Add(next.Sub(c.timelineStart))
	c.mu.Unlock()

	d := deadline.Sub(c.source.Now())
	if d <= 0 {
		select {
		case <-c.stopCh:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		default:
			return true, nil
		}
	}

	timer := c.source.NewTimer(d)
	select {
	case <-timer.C():
		return true, nil
	case <-c.stopCh:
		timer.Stop()
		return false, nil
	case <-ctx.Done():
		timer.Stop()
		return false, ctx.Err()
	}
}
