package types

import "time"

// RenewalCandidate is a policy joined with its owning customer, as selected
// by the reminder scheduler and the retention job. Both need the customer's
// preferred channel and contact details alongside the policy row.
type RenewalCandidate struct {
	Policy   Policy
	Customer Customer
}

// DueReminder is a reminder joined with its policy and customer, as selected
// by the dispatcher. Carrying the joined rows lets the dispatcher build the
// channel payload without per-item lookups.
type DueReminder struct {
	Reminder Reminder
	Policy   Policy
	Customer Customer
}

// Payload builds the channel-agnostic message content for this reminder.
func (d *DueReminder) Payload(now time.Time) ReminderPayload {
	return ReminderPayload{
		CustomerName:  d.Customer.FullName,
		Contact:       d.Customer.Contact(d.Reminder.Channel),
		PolicyNumber:  d.Policy.PolicyNumber,
		PolicyType:    d.Policy.PolicyType,
		RenewalDate:   d.Policy.RenewalDate,
		RenewalAmount: d.Policy.RenewalAmount(),
		DaysRemaining: d.Policy.DaysUntilRenewal(now),
		ReferenceID:   d.Reminder.ID,
	}
}

// EngagementStats are the per-customer inputs to the engagement score.
type EngagementStats struct {
	CustomerID         string
	RecentInteractions int // interactions within the scoring window
	RenewedPolicies    int
	LapsedPolicies     int
}

// LifecycleCounts summarizes one policy lifecycle run.
type LifecycleCounts struct {
	PendingRenewal int `json:"pending_renewal"`
	Lapsed         int `json:"lapsed"`
}

// DispatchSummary summarizes one dispatcher run.
type DispatchSummary struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// JobRun is one job_history row, exposed by the ops API.
type JobRun struct {
	ID         int64      `json:"id" db:"id"`
	JobName    string     `json:"job_name" db:"job_name"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Status     string     `json:"status" db:"status"`
	ItemsCount int        `json:"items_count" db:"items_count"`
	Error      string     `json:"error,omitempty" db:"error"`
}
