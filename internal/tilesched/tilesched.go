// Package tilesched implements the bounded-concurrency tile job runner: a
// fixed-size worker pool that drives a TileWorker over a batch of TileJobs,
// retrying failed jobs with exponential backoff and logging progress
// periodically. Mutex-guarded state and slog progress lines generalize a
// single long-running goroutine into a bounded pool via golang.org/x/sync.
package tilesched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dankermu/digital-earth/internal/apperr"
	"github.com/dankermu/digital-earth/internal/retryutil"
)

// TileJob identifies one unit of rendering work.
type TileJob struct {
	RunID    string
	Variable string
	Level    int
	Time     time.Time
}

// Status is the terminal outcome of a TileJob.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Result carries the outcome of processing one TileJob.
type Result struct {
	Job      TileJob
	Status   Status
	Attempts int
	Error    string
	Metadata map[string]any
}

// TileWorker processes a single job, returning arbitrary metadata about
// what it produced (tile paths written, pixel counts, etc).
type TileWorker interface {
	Process(ctx context.Context, job TileJob) (map[string]any, error)
}

// Config bounds the scheduler's concurrency and retry behavior.
type Config struct {
	MaxWorkers       int
	MaxRetries       int
	Backoff          retryutil.Backoff
	ProgressLogEvery int
	// OnJobDone, if set, is called after each job completes (success or
	// failure), once per job, so a caller can drive a live progress
	// indicator without depending on the slog line cadence.
	OnJobDone func()
}

// Validate checks the scheduler's concurrency/retry bounds.
func (c Config) Validate() error {
	if c.MaxWorkers < 1 || c.MaxWorkers > 128 {
		return apperr.New(apperr.InvalidArgument, fmt.Sprintf("max_workers must be in [1, 128], got %d", c.MaxWorkers))
	}
	if c.MaxRetries < 1 {
		return apperr.New(apperr.InvalidArgument, fmt.Sprintf("max_retries must be >= 1, got %d", c.MaxRetries))
	}
	return nil
}

// Summary aggregates a completed Run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Duration  time.Duration
	Results   []Result
}

// Scheduler runs a batch of TileJobs against a TileWorker with bounded
// concurrency. There is no ordering guarantee across workers; cancellation
// of ctx prevents new jobs from starting but lets in-flight jobs finish.
type Scheduler struct {
	worker TileWorker
	cfg    Config
}

// New builds a Scheduler. cfg is validated eagerly so misconfiguration
// fails before any job runs.
func New(worker TileWorker, cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{worker: worker, cfg: cfg}, nil
}

// Run processes every job, returning once all have completed (successfully
// or not) or ctx is canceled before any further job can start.
func (s *Scheduler) Run(ctx context.Context, jobs []TileJob) (*Summary, error) {
	start := time.Now()

	sem := semaphore.NewWeighted(int64(s.cfg.MaxWorkers))
	group, groupCtx := errgroup.WithContext(ctx)

	results := make([]Result, len(jobs))
	var completed int
	var mu sync.Mutex

	for i, job := range jobs {
		i, job := i, job
		if err := sem.Acquire(groupCtx, 1); err != nil {
			break
		}
		group.Go(func() error {
			defer sem.Release(1)
			results[i] = s.runOne(ctx, job)

			mu.Lock()
			completed++
			n := completed
			mu.Unlock()

			if s.cfg.ProgressLogEvery > 0 && (n%s.cfg.ProgressLogEvery == 0 || n == len(jobs)) {
				slog.Info("tile scheduler progress", "completed", n, "total", len(jobs), "elapsed", humanize.Time(start))
			}
			if s.cfg.OnJobDone != nil {
				s.cfg.OnJobDone()
			}
			return nil
		})
	}
	_ = group.Wait()

	summary := &Summary{Total: len(jobs), Duration: time.Since(start), Results: results}
	for _, r := range results {
		if r.Status == StatusSuccess {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	slog.Info("tile scheduler run finished",
		"succeeded", summary.Succeeded, "failed", summary.Failed, "duration", humanize.RelTime(start, time.Now(), "", ""))
	return summary, nil
}

func (s *Scheduler) runOne(ctx context.Context, job TileJob) Result {
	metadata, attempts, err := retryutil.Do(ctx, s.cfg.MaxRetries, s.cfg.Backoff,
		func(ctx context.Context, attempt int) (map[string]any, error) {
			return s.worker.Process(ctx, job)
		})

	if err != nil {
		return Result{Job: job, Status: StatusFailed, Attempts: attempts, Error: err.Error()}
	}
	return Result{Job: job, Status: StatusSuccess, Attempts: attempts, Metadata: metadata}
}
