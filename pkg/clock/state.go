package clock

// Mode selects how the engine realizes the wait between ticks.
type Mode int

const (
	// ModeRealtime paces ticks to elapsed wall-clock time.
	ModeRealtime Mode = iota

	// ModeBacktest replays the timeline as fast as dispatch allows.
	ModeBacktest
)

func (m Mode) String() string {
	switch m {
	case ModeRealtime:
		return "realtime"
	case ModeBacktest:
		return "backtest"
	default:
		return "unknown"
	}
}

// State is the engine lifecycle state.
//
// Idle is the initial state. Stopped is terminal: a stopped clock cannot be
// restarted, create a new instance instead.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
