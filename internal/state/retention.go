package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig controls the periodic cleanup of terminal runs.
type RetentionConfig struct {
	// Schedule is a standard 5-field cron expression; default "0 3 * * *"
	// (daily at 03:00).
	Schedule string
	// MaxAge is the retention window for terminal runs; default 30 days.
	MaxAge time.Duration
}

// Retention removes old terminal runs on a cron schedule.
type Retention struct {
	manager  Manager
	schedule cron.Schedule
	maxAge   time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	sweepMu sync.Mutex
	running bool // guards against overlapping sweeps
}

// NewRetention parses the schedule and builds the retention job.
func NewRetention(m Manager, cfg RetentionConfig, logger *slog.Logger) (*Retention, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "0 3 * * *"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * 24 * time.Hour
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", cfg.Schedule, err)
	}

	return &Retention{
		manager:  m,
		schedule: schedule,
		maxAge:   cfg.MaxAge,
		logger:   logger,
	}, nil
}

// Start launches the background loop. Returns an error if already started.
func (r *Retention) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return fmt.Errorf("retention already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.loop(loopCtx)
	r.logger.Info("retention started", slog.Duration("max_age", r.maxAge))
	return nil
}

func (r *Retention) loop(ctx context.Context) {
	defer close(r.done)

	for {
		next := r.schedule.Next(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup pass. Concurrent sweeps are collapsed to one.
func (r *Retention) Sweep(ctx context.Context) {
	r.sweepMu.Lock()
	if r.running {
		r.sweepMu.Unlock()
		return
	}
	r.running = true
	r.sweepMu.Unlock()
	defer func() {
		r.sweepMu.Lock()
		r.running = false
		r.sweepMu.Unlock()
	}()

	removed, err := r.manager.Cleanup(ctx, r.maxAge, CleanupFilter{})
	if err != nil {
		r.logger.Error("retention sweep failed", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		r.logger.Info("retention sweep removed runs", slog.Int64("count", removed))
	}
}

// Stop shuts the loop down and waits for it to exit.
func (r *Retention) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return nil
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil

	r.logger.Info("retention stopped")
	return nil
}
