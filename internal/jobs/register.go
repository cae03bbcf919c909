package jobs

import (
	"context"
	"time"
)

// Pipeline bundles the job services for registration with a Runner.
type Pipeline struct {
	Scheduler  *ReminderScheduler
	Dispatcher *ReminderDispatcher
	Lifecycle  *LifecycleUpdater
	Scorer     *EngagementScorer
	Retention  *RetentionJob
	Archiver   *OutreachArchiver
	Metrics    Metrics
}

// Intervals holds the tick interval per job. Zero disables periodic runs
// for that job; it stays runnable on demand.
type Intervals struct {
	Schedule  time.Duration
	Dispatch  time.Duration
	Lifecycle time.Duration
	Scoring   time.Duration
	Retention time.Duration
	Archive   time.Duration
}

// RegisterPipeline registers the six pipeline jobs with the Runner,
// adapting each service's execute method to the JobFunc shape.
func RegisterPipeline(r *Runner, p Pipeline, iv Intervals) {
	metrics := p.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	r.Register(JobScheduleReminders, iv.Schedule, func(ctx context.Context, now time.Time) (int, map[string]any, error) {
		created, err := p.Scheduler.CreateDueReminders(ctx, now)
		if err != nil {
			return 0, nil, err
		}
		return created, map[string]any{"created": created}, nil
	})

	r.Register(JobDispatchReminders, iv.Dispatch, func(ctx context.Context, now time.Time) (int, map[string]any, error) {
		summary, err := p.Dispatcher.SendDueReminders(ctx, now)
		if err != nil {
			return 0, nil, err
		}
		metrics.RecordDispatch(ctx, summary)
		return summary.Sent + summary.Failed + summary.Skipped, map[string]any{
			"sent":    summary.Sent,
			"failed":  summary.Failed,
			"skipped": summary.Skipped,
		}, nil
	})

	r.Register(JobPolicyLifecycle, iv.Lifecycle, func(ctx context.Context, now time.Time) (int, map[string]any, error) {
		counts, err := p.Lifecycle.UpdateStatuses(ctx, now)
		if err != nil {
			return 0, nil, err
		}
		metrics.RecordLifecycle(ctx, counts)
		return counts.PendingRenewal + counts.Lapsed, map[string]any{
			"pending_renewal": counts.PendingRenewal,
			"lapsed":          counts.Lapsed,
		}, nil
	})

	r.Register(JobEngagementScoring, iv.Scoring, func(ctx context.Context, now time.Time) (int, map[string]any, error) {
		updated, err := p.Scorer.RecomputeScores(ctx, now)
		if err != nil {
			return updated, nil, err
		}
		return updated, map[string]any{"updated": updated}, nil
	})

	r.Register(JobRetentionOutreach, iv.Retention, func(ctx context.Context, now time.Time) (int, map[string]any, error) {
		sent, err := p.Retention.ProcessRetentionOutreach(ctx, now)
		if err != nil {
			return sent, nil, err
		}
		return sent, map[string]any{"sent": sent}, nil
	})

	r.Register(JobArchiveOutreach, iv.Archive, func(ctx context.Context, now time.Time) (int, map[string]any, error) {
		archived, err := p.Archiver.ArchiveOutreach(ctx, now)
		if err != nil {
			return archived, nil, err
		}
		return archived, map[string]any{"archived": archived}, nil
	})
}
