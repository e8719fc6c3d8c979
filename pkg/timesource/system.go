package timesource

import "time"

// systemSource implements Source using the standard time package.
type systemSource struct{}

// System returns a Source backed by the wall clock.
// This is the default for production use.
func System() Source {
	return systemSource{}
}

func (systemSource) Now() time.Time {
	return time.Now()
}

func (systemSource) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (systemSource) Until(t time.Time) time.Duration {
	return time.Until(t)
}

func (systemSource) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (systemSource) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (systemSource) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

// systemTimer wraps time.Timer.
type systemTimer struct {
	t *time.Timer
}

func (s *systemTimer) C() <-chan time.Time {
	return s.t.C
}

func (s *systemTimer) Stop() bool {
	return s.t.Stop()
}
