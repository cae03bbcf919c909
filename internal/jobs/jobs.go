// Package jobs implements the periodic jobs of the renewal pipeline: the
// reminder scheduler, the dispatcher, the policy lifecycle updater, the
// engagement scorer, the retention outreach job, and the outreach-log
// archiver. Each job is a service with explicit dependencies and an
// execution method taking `now time.Time` for deterministic runs; the
// Runner owns tickers, job locks, and job history.
package jobs

// Job names as recorded in job_locks and job_history. The Runner's registry
// and the ops API address jobs by these names.
const (
	JobScheduleReminders = "schedule_reminders"
	JobDispatchReminders = "dispatch_reminders"
	JobPolicyLifecycle   = "policy_lifecycle"
	JobEngagementScoring = "engagement_scoring"
	JobRetentionOutreach = "retention_outreach"
	JobArchiveOutreach   = "archive_outreach"
)

// JobNames lists every registered job in execution-priority order.
var JobNames = []string{
	JobScheduleReminders,
	JobDispatchReminders,
	JobPolicyLifecycle,
	JobEngagementScoring,
	JobRetentionOutreach,
	JobArchiveOutreach,
}

// ValidJobName reports whether name identifies a registered job.
func ValidJobName(name string) bool {
	for _, n := range JobNames {
		if n == name {
			return true
		}
	}
	return false
}

// JobResult summarizes one completed job run. Items is the headline count
// recorded in job_history; Summary carries the per-job breakdown returned
// by the ops API.
type JobResult struct {
	Job        string         `json:"job"`
	Items      int            `json:"items"`
	DurationMS int64          `json:"duration_ms"`
	Summary    map[string]any `json:"summary,omitempty"`
}
