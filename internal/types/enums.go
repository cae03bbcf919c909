package types

// PolicyStatus represents the lifecycle state of an insurance policy.
type PolicyStatus string

const (
	PolicyStatusActive         PolicyStatus = "active"
	PolicyStatusPendingRenewal PolicyStatus = "pending_renewal"
	PolicyStatusRenewed        PolicyStatus = "renewed"
	PolicyStatusLapsed         PolicyStatus = "lapsed"
	PolicyStatusCancelled      PolicyStatus = "cancelled"
)

// PolicyType identifies the line of business for a policy.
type PolicyType string

const (
	PolicyTypeHealth   PolicyType = "health"
	PolicyTypeLife     PolicyType = "life"
	PolicyTypeMotor    PolicyType = "motor"
	PolicyTypeHome     PolicyType = "home"
	PolicyTypeTravel   PolicyType = "travel"
	PolicyTypeBusiness PolicyType = "business"
)

// ReminderStatus enumerates all valid states for a renewal reminder.
// These values MUST match the CHECK constraint on the reminders table.
type ReminderStatus string

const (
	ReminderStatusPending   ReminderStatus = "pending"
	ReminderStatusSent      ReminderStatus = "sent"
	ReminderStatusDelivered ReminderStatus = "delivered"
	ReminderStatusFailed    ReminderStatus = "failed"
	ReminderStatusCancelled ReminderStatus = "cancelled"
)

// ChannelType identifies a customer communication channel.
type ChannelType string

const (
	ChannelEmail    ChannelType = "email"
	ChannelSMS      ChannelType = "sms"
	ChannelWhatsApp ChannelType = "whatsapp"
)

// ValidChannel reports whether c is a recognized channel type.
func ValidChannel(c ChannelType) bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp:
		return true
	}
	return false
}

// DeliveryStatus is the normalized outcome of a single channel send attempt.
// "skipped" means the channel is not configured (missing provider credentials)
// and no attempt was made; it is distinct from "failed", where the provider
// was contacted and rejected or errored.
type DeliveryStatus string

const (
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusSkipped DeliveryStatus = "skipped"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// OutreachType categorizes entries in the outreach log.
type OutreachType string

const (
	OutreachReminder     OutreachType = "reminder"
	OutreachFollowUp     OutreachType = "follow_up"
	OutreachRetention    OutreachType = "retention"
	OutreachConfirmation OutreachType = "confirmation"
)

// DefaultReminderWindows is the standard set of lead-time windows, in days
// before renewal_date, at which reminders are generated.
var DefaultReminderWindows = []int{30, 15, 7, 1}

// Pipeline constants. These match the configuration defaults in
// internal/config and the CHECK constraints in the schema.
const (
	// MaxReminderRetries is the ceiling on dispatch attempts for a single
	// reminder before it is permanently failed.
	MaxReminderRetries = 3

	// RenewalHorizonDays is how far before renewal_date an active policy
	// transitions to pending_renewal.
	RenewalHorizonDays = 30

	// RetentionOutreachHorizonDays bounds how close to renewal a
	// pending_renewal policy must be to qualify for retention outreach.
	RetentionOutreachHorizonDays = 7

	// RetentionCooldownDays is the minimum gap between two retention
	// contacts for the same (customer, policy) pair.
	RetentionCooldownDays = 3

	// RenewalRateIncrease is the multiplier applied to the current premium
	// when quoting or executing a renewal.
	RenewalRateIncrease = 1.03
)
