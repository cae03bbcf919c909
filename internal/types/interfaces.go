package types

import (
	"context"
	"time"
)

// Validator is implemented by entities to self-validate.
type Validator interface {
	Validate() error
}

// MessageKind selects which message a channel renders for a payload.
// The payload shape is identical across kinds; only the wording differs.
type MessageKind string

const (
	MessageRenewalReminder     MessageKind = "renewal_reminder"
	MessageRetention           MessageKind = "retention"
	MessageRenewalConfirmation MessageKind = "renewal_confirmation"
)

// Channel is the contract every delivery channel implements. Channels are
// stateless beyond their shared provider client and are safe to use from
// concurrent job invocations.
//
// Send renders a channel-appropriate message for the payload and delivers
// it. Implementations return a DeliveryResult for provider-level outcomes
// (including rejections) and an error only for failures before or during
// transmission that produced no result; the gateway maps both into the
// uniform sent/skipped/failed outcome.
type Channel interface {
	// Type returns the channel identifier ("email", "sms", "whatsapp").
	Type() ChannelType

	// Configured reports whether the provider credentials for this channel
	// are present. Unconfigured channels yield a skipped outcome.
	Configured() bool

	// Send renders and delivers the message.
	Send(ctx context.Context, kind MessageKind, payload ReminderPayload) (*DeliveryResult, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }
