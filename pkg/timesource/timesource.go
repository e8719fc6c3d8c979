// Package timesource abstracts the passage of real time so that waits can
// be realized against the wall clock or against a simulated timeline.
//
// In production, use System() which wraps the standard time package.
// In tests and backtest throttling, use NewVirtual() for deterministic
// control over when timers fire.
package timesource

import "time"

// Source provides the time operations the engine suspends on.
type Source interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration

	// Until returns the duration until t.
	Until(t time.Time) time.Duration

	// Sleep pauses the current goroutine for at least duration d.
	Sleep(d time.Duration)

	// After waits for the duration to elapse and then sends the current time.
	After(d time.Duration) <-chan time.Time

	// NewTimer creates a Timer that sends the current time on its channel
	// after at least duration d.
	NewTimer(d time.Duration) Timer
}

// Timer wraps time.Timer functionality.
type Timer interface {
	// C returns the channel on which the time is delivered.
	C() <-chan time.Time

	// Stop prevents the Timer from firing. It returns true if the call
	// stops the timer, false if the timer has already expired or been stopped.
	Stop() bool
}
