package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/FlowtimeProject/flowtime/pkg/config"
	"github.com/FlowtimeProject/flowtime/pkg/processor"
)

// buildProcessor constructs one of the built-in processor kinds from its
// scenario spec.
func buildProcessor(spec config.ProcessorSpec, logger *slog.Logger) (processor.Processor, error) {
	switch spec.Kind {
	case "log":
		return &logProcessor{name: spec.Name, logger: logger}, nil
	case "sleep":
		return &sleepProcessor{name: spec.Name, work: spec.Work.Duration()}, nil
	case "flaky":
		return &flakyProcessor{
			name:     spec.Name,
			work:     spec.Work.Duration(),
			failRate: spec.FailRate,
			rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		}, nil
	default:
		return nil, fmt.Errorf("unknown processor kind %q", spec.Kind)
	}
}

// logProcessor logs every tick it receives.
type logProcessor struct {
	name   string
	logger *slog.Logger
}

func (p *logProcessor) Name() string { return p.name }

func (p *logProcessor) Tick(_ context.Context, now time.Time) error {
	p.logger.Info("tick", slog.String("processor", p.name), slog.Time("timestamp", now))
	return nil
}

// sleepProcessor burns a fixed amount of wall time per tick to simulate work.
type sleepProcessor struct {
	name string
	work time.Duration
}

func (p *sleepProcessor) Name() string { return p.name }

func (p *sleepProcessor) Tick(ctx context.Context, _ time.Time) error {
	if p.work <= 0 {
		return nil
	}
	t := time.NewTimer(p.work)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flakyProcessor fails a configurable fraction of its ticks, optionally
// burning work time first. Useful for exercising failure isolation and the
// retry path.
type flakyProcessor struct {
	name     string
	work     time.Duration
	failRate float64
	rng      *rand.Rand
}

func (p *flakyProcessor) Name() string { return p.name }

func (p *flakyProcessor) Tick(ctx context.Context, now time.Time) error {
	if p.work > 0 {
		t := time.NewTimer(p.work)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.rng.Float64() < p.failRate {
		return fmt.Errorf("simulated failure at %s", now.Format(time.RFC3339))
	}
	return nil
}
