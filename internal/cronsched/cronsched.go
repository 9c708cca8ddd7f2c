// Package cronsched implements the cron-driven retrying ingest/cleanup
// loop: parse a UTC cron expression, sleep until the next fire time, run
// the wrapped callable inside a retry envelope, and repeat — cooperatively
// cancellable via a stop event. Uses the same mutex-guarded running/lastRun
// bookkeeping, debounced trigger, and GetStatus health summary as a fixed
// hourly ticker would, generalized to an arbitrary cron schedule via
// robfig/cron/v3.
package cronsched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"github.com/dankermu/digital-earth/internal/apperr"
	"github.com/dankermu/digital-earth/internal/retryutil"
)

// Result is returned by a Task's cleanup/ingest callable.
type Result struct {
	Message  string
	Metadata map[string]any
}

// Task is the idempotent callable the scheduler drives on each fire.
type Task func(ctx context.Context) (Result, error)

// Config configures a Scheduler's retry envelope and debounce window.
type Config struct {
	CronExpr         string
	MaxRetries       int
	Backoff          retryutil.Backoff
	DebounceDuration time.Duration
}

// Scheduler wraps a Task with a cron-computed sleep loop. Timing policy:
// if the wall clock advances past multiple fire times while the task
// runs, the next fire is computed from the current time, not the missed
// one — there is no catch-up.
type Scheduler struct {
	task  Task
	cfg   Config
	sched cron.Schedule

	mu            sync.Mutex
	running       bool
	lastRun       time.Time
	lastErr       error
	debounceTimer *time.Timer

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New parses cfg.CronExpr (standard 5-field UTC cron) and builds a
// Scheduler around task.
func New(task Task, cfg Config) (*Scheduler, error) {
	sched, err := cron.ParseStandard(cfg.CronExpr)
	if err != nil {
		return nil, apperr.Wrap(apperr.ConfigErr, "invalid cron expression", err)
	}
	if cfg.DebounceDuration <= 0 {
		cfg.DebounceDuration = 5 * time.Second
	}
	return &Scheduler{task: task, cfg: cfg, sched: sched, stopChan: make(chan struct{})}, nil
}

// Start launches the background loop. It returns immediately; the loop
// runs until ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	slog.Info("ingest scheduler started", "cron", s.cfg.CronExpr)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	now := time.Now().UTC()
	next := s.sched.Next(now)

	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("ingest scheduler shutting down")
			return
		case <-s.stopChan:
			timer.Stop()
			slog.Info("ingest scheduler stopping")
			return
		case <-timer.C:
			s.runOnce(ctx)
			next = s.sched.Next(time.Now().UTC())
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		slog.Debug("ingest run already in progress, skipping fire")
		return
	}
	s.running = true
	s.mu.Unlock()

	started := time.Now()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.lastRun = time.Now().UTC()
		s.mu.Unlock()
	}()

	_, _, err := retryutil.Do(ctx, s.cfg.MaxRetries, s.cfg.Backoff,
		func(ctx context.Context, attempt int) (Result, error) {
			return s.task(ctx)
		})

	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		slog.Error("ingest run failed after retries", "error", err, "since_start", humanize.Time(started))
		return
	}
	slog.Info("ingest run completed", "duration", humanize.RelTime(started, time.Now(), "", ""))
}

// TriggerDebounced runs the task once after cfg.DebounceDuration,
// collapsing multiple rapid calls into a single run.
func (s *Scheduler) TriggerDebounced() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.cfg.DebounceDuration, func() {
		s.runOnce(context.Background())
	})
}

// Status summarizes the scheduler's health.
type Status struct {
	LastRun time.Time
	Running bool
	Healthy bool
	LastErr error
}

// GetStatus reports the scheduler's current health: unhealthy if no run
// has completed within two cron intervals (approximated as twice the gap
// between lastRun and the next scheduled fire after it).
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	healthy := true
	if !s.lastRun.IsZero() {
		expectedNext := s.sched.Next(s.lastRun)
		interval := expectedNext.Sub(s.lastRun)
		if interval > 0 && time.Since(s.lastRun) > 2*interval {
			healthy = false
		}
	}
	return Status{LastRun: s.lastRun, Running: s.running, Healthy: healthy, LastErr: s.lastErr}
}

// Stop signals the loop to exit and waits for it to finish, including any
// in-progress task run.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()

	s.mu.Lock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.mu.Unlock()
}
