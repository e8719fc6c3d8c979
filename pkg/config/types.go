// Package config loads flowtime run scenarios from YAML.
//
// A scenario names the clock mode and timeline, the retry policy for
// network-flavored processors, and the processors to register. The CLI
// turns a scenario into a running clock.
package config

import (
	"fmt"
	"time"

	"github.com/FlowtimeProject/flowtime/pkg/backoff"
	"github.com/FlowtimeProject/flowtime/pkg/clock"
)

// Scenario is the top-level document of a scenario file.
type Scenario struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Clock       ClockSpec       `yaml:"clock"`
	Retry       RetrySpec       `yaml:"retry,omitempty"`
	Processors  []ProcessorSpec `yaml:"processors"`
}

// ClockSpec configures the timeline.
type ClockSpec struct {
	Mode             string    `yaml:"mode"` // "realtime" or "backtest"
	StartTime        time.Time `yaml:"startTime,omitempty"`
	EndTime          time.Time `yaml:"endTime,omitempty"`
	TickSize         Duration  `yaml:"tickSize"`
	ProcessorTimeout Duration  `yaml:"processorTimeout,omitempty"`
	Sequential       bool      `yaml:"sequential,omitempty"`
	StatsWindow      int       `yaml:"statsWindow,omitempty"`
}

// RetrySpec configures the backoff policy applied to network processors.
type RetrySpec struct {
	MaxRetries  int      `yaml:"maxRetries,omitempty"`
	BaseBackoff Duration `yaml:"baseBackoff,omitempty"`
	MaxBackoff  Duration `yaml:"maxBackoff,omitempty"`
	Multiplier  float64  `yaml:"multiplier,omitempty"`
	Jitter      float64  `yaml:"jitter,omitempty"`
}

// ProcessorSpec describes one processor to register.
type ProcessorSpec struct {
	Name string `yaml:"name"`

	// Kind selects a built-in processor: "log", "sleep" or "flaky".
	Kind string `yaml:"kind"`

	// Work is the simulated work per tick for the sleep and flaky kinds.
	Work Duration `yaml:"work,omitempty"`

	// FailRate is the failure probability (0..1) for the flaky kind.
	FailRate float64 `yaml:"failRate,omitempty"`

	// Network wraps the processor with the scenario's retry policy.
	Network bool `yaml:"network,omitempty"`

	// Timeout bounds each attempt of a network-wrapped processor.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// ClockConfig translates the scenario into an engine configuration.
func (s *Scenario) ClockConfig() (clock.Config, error) {
	mode, err := parseMode(s.Clock.Mode)
	if err != nil {
		return clock.Config{}, err
	}
	cfg := clock.Config{
		Mode:             mode,
		StartTime:        s.Clock.StartTime,
		EndTime:          s.Clock.EndTime,
		TickSize:         s.Clock.TickSize.Duration(),
		ProcessorTimeout: s.Clock.ProcessorTimeout.Duration(),
		Sequential:       s.Clock.Sequential,
		StatsWindow:      s.Clock.StatsWindow,
		MaxRetries:       s.Retry.MaxRetries,
		Backoff:          s.BackoffPolicy(),
	}
	if err := cfg.Validate(); err != nil {
		return clock.Config{}, err
	}
	return cfg, nil
}

// BackoffPolicy translates the retry spec, falling back to defaults for
// unset fields.
func (s *Scenario) BackoffPolicy() backoff.Policy {
	p := backoff.Policy{
		Base:       s.Retry.BaseBackoff.Duration(),
		Max:        s.Retry.MaxBackoff.Duration(),
		Multiplier: s.Retry.Multiplier,
		Jitter:     s.Retry.Jitter,
	}
	return p.Normalize()
}

// Validate checks the scenario beyond what ClockConfig validates.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if _, err := parseMode(s.Clock.Mode); err != nil {
		return err
	}
	if s.Clock.TickSize.Duration() <= 0 {
		return fmt.Errorf("clock tick size must be positive")
	}
	if len(s.Processors) == 0 {
		return fmt.Errorf("scenario needs at least one processor")
	}
	seen := make(map[string]bool, len(s.Processors))
	for i, p := range s.Processors {
		if p.Name == "" {
			return fmt.Errorf("processor %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("processor %q: duplicate name", p.Name)
		}
		seen[p.Name] = true
		switch p.Kind {
		case "log", "sleep", "flaky":
		default:
			return fmt.Errorf("processor %q: unknown kind %q", p.Name, p.Kind)
		}
		if p.FailRate < 0 || p.FailRate > 1 {
			return fmt.Errorf("processor %q: fail rate must be within [0, 1]", p.Name)
		}
	}
	return nil
}

func parseMode(s string) (clock.Mode, error) {
	switch s {
	case "realtime":
		return clock.ModeRealtime, nil
	case "backtest":
		return clock.ModeBacktest, nil
	default:
		return 0, fmt.Errorf("unsupported clock mode %q (expected realtime or backtest)", s)
	}
}
