package types

import (
	"fmt"
	"time"
)

// Customer holds the customer fields the renewal pipeline reads and writes.
// Account management (registration, contact updates) lives outside the core;
// only engagement_score and last_interaction are mutated here, and
// engagement_score is only ever recomputed wholesale by the engagement
// scorer, never partially patched.
type Customer struct {
	ID               string      `json:"id" db:"id"`
	FullName         string      `json:"full_name" db:"full_name"`
	Email            string      `json:"email" db:"email"`
	Phone            string      `json:"phone" db:"phone"`
	PreferredChannel ChannelType `json:"preferred_channel" db:"preferred_channel"`
	EngagementScore  float64     `json:"engagement_score" db:"engagement_score"` // 0-100
	LastInteraction  *time.Time  `json:"last_interaction,omitempty" db:"last_interaction"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}

// Contact returns the destination for the given channel: the email address
// for email, the phone number otherwise.
func (c *Customer) Contact(channel ChannelType) string {
	if channel == ChannelEmail {
		return c.Email
	}
	return c.Phone
}

// Policy is a single insurance policy. renewal_date >= start_date always
// holds; status transitions are monotonic except Renew, which advances the
// term dates forward one term and flips status to renewed. Policies are
// never hard-deleted by the pipeline.
type Policy struct {
	ID             string       `json:"id" db:"id"`
	CustomerID     string       `json:"customer_id" db:"customer_id"`
	PolicyNumber   string       `json:"policy_number" db:"policy_number"`
	PolicyType     PolicyType   `json:"policy_type" db:"policy_type"`
	CoverageAmount float64      `json:"coverage_amount" db:"coverage_amount"`
	PremiumAmount  float64      `json:"premium_amount" db:"premium_amount"`
	StartDate      time.Time    `json:"start_date" db:"start_date"`
	EndDate        time.Time    `json:"end_date" db:"end_date"`
	RenewalDate    time.Time    `json:"renewal_date" db:"renewal_date"`
	Status         PolicyStatus `json:"status" db:"status"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// RenewalAmount returns the premium due at the next renewal.
func (p *Policy) RenewalAmount() float64 {
	return p.PremiumAmount * RenewalRateIncrease
}

// DaysUntilRenewal returns whole days from now until renewal_date,
// negative once the renewal date has passed.
func (p *Policy) DaysUntilRenewal(now time.Time) int {
	return int(p.RenewalDate.Sub(now).Hours() / 24)
}

// Reminder is one intended renewal contact for a policy at a specific
// lead-time window. At most one reminder exists per (policy_id, window)
// pair; the scheduler enforces this with an existence check before insert,
// which is what makes overlapping scheduler ticks safe.
type Reminder struct {
	ID            string         `json:"id" db:"id"`
	PolicyID      string         `json:"policy_id" db:"policy_id"`
	Window        int            `json:"window" db:"window_days"` // lead days before renewal
	Channel       ChannelType    `json:"channel" db:"channel"`
	ScheduledDate time.Time      `json:"scheduled_date" db:"scheduled_date"`
	SentAt        *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty" db:"delivered_at"`
	Status        ReminderStatus `json:"status" db:"status"`
	ProviderMsgID string         `json:"provider_message_id,omitempty" db:"provider_message_id"`
	ErrorMessage  string         `json:"error_message,omitempty" db:"error_message"`
	RetryCount    int            `json:"retry_count" db:"retry_count"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// OutreachLog is an append-only audit record of a single outreach attempt.
// The retention job uses it to enforce the cool-down window. It records the
// attempt, not just successes: Delivered is true only for sent/skipped
// outcomes.
type OutreachLog struct {
	ID           string       `json:"id" db:"id"`
	CustomerID   string       `json:"customer_id" db:"customer_id"`
	PolicyID     string       `json:"policy_id,omitempty" db:"policy_id"`
	ReminderID   string       `json:"reminder_id,omitempty" db:"reminder_id"`
	OutreachType OutreachType `json:"outreach_type" db:"outreach_type"`
	Channel      ChannelType  `json:"channel" db:"channel"`
	Message      string       `json:"message" db:"message"`
	SentAt       time.Time    `json:"sent_at" db:"sent_at"`
	Delivered    bool         `json:"delivered" db:"delivered"`
	Opened       bool         `json:"opened" db:"opened"`
	Clicked      bool         `json:"clicked" db:"clicked"`
	Responded    bool         `json:"responded" db:"responded"`
}

// ReminderPayload is the channel-agnostic message content handed to the
// channel gateway. The dispatcher populates every field before invoking the
// gateway; channels only format, they never look data up.
type ReminderPayload struct {
	CustomerName  string
	Contact       string // email address or phone number, per channel
	PolicyNumber  string
	PolicyType    PolicyType
	RenewalDate   time.Time
	RenewalAmount float64
	DaysRemaining int
	ReferenceID   string // reminder or outreach-log ID for provider correlation
}

// Validate checks that the payload carries everything a channel needs.
func (p *ReminderPayload) Validate() error {
	if p.Contact == "" {
		return fmt.Errorf("reminder payload: contact is required")
	}
	if p.PolicyNumber == "" {
		return fmt.Errorf("reminder payload: policy number is required")
	}
	if p.RenewalDate.IsZero() {
		return fmt.Errorf("reminder payload: renewal date is required")
	}
	return nil
}

// DeliveryResult is the uniform outcome shape every channel returns.
type DeliveryResult struct {
	Status            DeliveryStatus
	ProviderMessageID string
	FailureReason     string
	Retryable         bool
}

// Failed reports whether the attempt counts against the retry ceiling.
// Both sent and skipped are soft successes to the dispatcher.
func (r *DeliveryResult) Failed() bool {
	return r.Status == DeliveryStatusFailed
}

// SenderIdentity identifies the configured From address for outbound email.
type SenderIdentity struct {
	Address string
	Name    string
}

// SendInput is the provider-level email send request.
type SendInput struct {
	To          string
	From        SenderIdentity
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string
}

// MessageInput is the provider-level text message send request, shared by
// the SMS and WhatsApp channels. To must already be in E.164 form.
type MessageInput struct {
	To          string
	Body        string
	ReferenceID string
}
