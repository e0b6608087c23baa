// Package reaper runs periodic housekeeping against a running engine:
// logging a stats snapshot per group and smoothing a rolling throughput
// estimate, on a cron schedule rather than a fixed ticker, so the
// schedule can be expressed the same way an operator would write a
// crontab entry.
package reaper

import (
	"context"
	"fmt"
	"sync"

	"github.com/VividCortex/ewma"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/deferrable-run/deferrable/pkg/deferrable"
)

// Reaper owns one smoothed throughput estimate per group and a cron
// scheduler driving periodic snapshots.
type Reaper struct {
	engine *deferrable.Engine
	logger zerolog.Logger
	cron   *cron.Cron

	mu         sync.Mutex
	throughput map[string]ewma.MovingAverage
	lastReady  map[string]int64
}

// New returns a Reaper. Call Start to begin running its schedule.
func New(engine *deferrable.Engine, logger zerolog.Logger) *Reaper {
	return &Reaper{
		engine:     engine,
		logger:     logger,
		cron:       cron.New(),
		throughput: make(map[string]ewma.MovingAverage),
		lastReady:  make(map[string]int64),
	}
}

// ScheduleSnapshot registers a periodic stats snapshot for group on
// spec, a standard five-field cron expression.
func (r *Reaper) ScheduleSnapshot(ctx context.Context, spec string, group string) error {
	_, err := r.cron.AddFunc(spec, func() {
		r.snapshot(ctx, group)
	})
	if err != nil {
		return fmt.Errorf("reaper: schedule snapshot for group %q: %w", group, err)
	}
	return nil
}

func (r *Reaper) snapshot(ctx context.Context, group string) {
	stats, err := r.engine.Stats(ctx, group)
	if err != nil {
		r.logger.Error().Err(err).Str("group", group).Msg("reaper: stats snapshot failed")
		return
	}

	r.mu.Lock()
	avg, ok := r.throughput[group]
	if !ok {
		avg = ewma.NewMovingAverage()
		r.throughput[group] = avg
	}
	drained := float64(r.lastReady[group] - stats.Ready)
	if drained < 0 {
		drained = 0
	}
	avg.Add(drained)
	r.lastReady[group] = stats.Ready
	rate := avg.Value()
	r.mu.Unlock()

	r.logger.Info().
		Str("group", group).
		Int64("ready", stats.Ready).
		Int64("in_flight", stats.InFlight).
		Int64("delayed", stats.Delayed).
		Int64("error_size", stats.ErrorSize).
		Float64("smoothed_drain_rate", rate).
		Msg("reaper: queue snapshot")
}

// Start begins running the scheduled jobs in the background.
func (r *Reaper) Start() { r.cron.Start() }

// Stop blocks until any in-flight job finishes, then stops the
// scheduler.
func (r *Reaper) Stop() { <-r.cron.Stop().Done() }
