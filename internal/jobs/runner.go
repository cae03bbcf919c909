package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"policypulse/internal/types"
)

// RunnerStore defines the lock and history operations needed by the Runner.
type RunnerStore interface {
	// AcquireJobLock atomically claims the lock row, reclaiming it when
	// expired. Returns false when another worker holds it.
	AcquireJobLock(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)

	// StartJobRun inserts a running job_history row and returns its ID.
	StartJobRun(ctx context.Context, jobName string) (int64, error)

	// FinishJobRun records the run's final status, item count and error.
	FinishJobRun(ctx context.Context, id int64, status string, items int, jobErr error) error
}

// JobFunc executes one job run at the given reference time, returning the
// item count and a per-job summary for the ops API.
type JobFunc func(ctx context.Context, now time.Time) (items int, summary map[string]any, err error)

// registeredJob pairs a JobFunc with its tick interval.
type registeredJob struct {
	name     string
	interval time.Duration
	fn       JobFunc
}

// Runner owns the periodic execution of all registered jobs. Every run,
// scheduled or manual, goes through the same path: acquire the job lock,
// record a job_history row, execute, record the outcome. Locks are
// hour-bucketed with a TTL capped at the job's interval, so a crashed
// worker's lock expires before the next tick needs it.
type Runner struct {
	store    RunnerStore
	metrics  Metrics
	clock    types.Clock
	workerID string
	lockTTL  time.Duration
	jobs     map[string]registeredJob
	logger   *slog.Logger
}

// RunnerConfig holds the Runner tunables.
type RunnerConfig struct {
	WorkerID string        // identifies this process in job_locks
	LockTTL  time.Duration // defaults to 5 minutes
	Clock    types.Clock   // defaults to types.RealClock
}

// NewRunner creates a Runner with an empty registry.
func NewRunner(store RunnerStore, metrics Metrics, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:    store,
		metrics:  metrics,
		clock:    cfg.Clock,
		workerID: cfg.WorkerID,
		lockTTL:  cfg.LockTTL,
		jobs:     make(map[string]registeredJob),
		logger:   logger,
	}
}

// Register adds a job to the registry. interval is its periodic tick; jobs
// registered with a zero interval run on demand only.
func (r *Runner) Register(name string, interval time.Duration, fn JobFunc) {
	r.jobs[name] = registeredJob{name: name, interval: interval, fn: fn}
}

// RegisteredJobs returns the registered job names, sorted.
func (r *Runner) RegisteredJobs() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run starts one ticker loop per registered periodic job and blocks until
// ctx is cancelled. A failing run is logged and the loop keeps ticking.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, job := range r.jobs {
		if job.interval <= 0 {
			continue
		}
		job := job
		g.Go(func() error {
			return r.runLoop(ctx, job)
		})
	}

	return g.Wait()
}

// runLoop ticks one job at its interval. The first run happens immediately.
func (r *Runner) runLoop(ctx context.Context, job registeredJob) error {
	r.logger.InfoContext(ctx, "job loop started",
		"job", job.name,
		"interval", job.interval.String(),
	)

	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunJob(ctx, job.name, r.clock.Now()); err != nil {
			if !types.IsErrorCode(err, types.ErrCodeConflictJobRunning) {
				r.logger.ErrorContext(ctx, "job run failed",
					"job", job.name,
					"error", err,
				)
			}
		}

		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "job loop stopped", "job", job.name)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunJob executes one run of the named job at the given reference time,
// with lock and history bookkeeping. Returns ErrCodeNotFoundJob for an
// unregistered name and ErrCodeConflictJobRunning when another worker
// holds the lock.
func (r *Runner) RunJob(ctx context.Context, name string, now time.Time) (*JobResult, error) {
	job, ok := r.jobs[name]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundJob,
			fmt.Sprintf("unknown job %q", name), nil)
	}

	ttl := r.lockTTL
	if job.interval > 0 && job.interval < ttl {
		ttl = job.interval
	}

	lockID := fmt.Sprintf("%s:%s", name, now.Format("2006-01-02T15"))
	acquired, err := r.store.AcquireJobLock(ctx, lockID, r.workerID, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquiring lock for job %s: %w", name, err)
	}
	if !acquired {
		return nil, types.NewAppError(types.ErrCodeConflictJobRunning,
			fmt.Sprintf("job %s is locked by another worker", name), nil)
	}

	historyID, err := r.store.StartJobRun(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("starting job history for %s: %w", name, err)
	}

	started := r.clock.Now()
	items, summary, runErr := job.fn(ctx, now)
	duration := r.clock.Now().Sub(started)

	status := "success"
	if runErr != nil {
		status = "failed"
	}
	if err := r.store.FinishJobRun(ctx, historyID, status, items, runErr); err != nil {
		r.logger.ErrorContext(ctx, "failed to finish job history entry",
			"job", name,
			"history_id", historyID,
			"error", err,
		)
	}

	r.metrics.RecordJobRun(ctx, name, items, duration)

	if runErr != nil {
		return nil, fmt.Errorf("job %s: %w", name, runErr)
	}

	r.logger.InfoContext(ctx, "job run complete",
		"job", name,
		"items", items,
		"duration_ms", duration.Milliseconds(),
	)

	return &JobResult{
		Job:        name,
		Items:      items,
		DurationMS: duration.Milliseconds(),
		Summary:    summary,
	}, nil
}
