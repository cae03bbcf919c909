package external

import (
	"context"

	"policypulse/internal/types"
)

// ---------------------------------------------------------------------------
// Email Integration (SendGrid)
// ---------------------------------------------------------------------------

// EmailProvider abstracts interactions with the email delivery service.
// Implementations transmit pre-rendered email content (Subject, BodyHTML,
// BodyText).
type EmailProvider interface {
	// Send transmits an email with pre-rendered content.
	// Returns the provider's message ID for tracking and correlation.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}

// EmailVerifier authenticates inbound email provider webhooks. SendGrid
// signs Event Webhook posts with ECDSA; the verifier checks the signature
// before any event is trusted.
type EmailVerifier interface {
	// Verify checks that signature is valid for timestamp+payload under the
	// given public key. Returns (false, nil) for a well-formed but invalid
	// signature; an error means verification could not be attempted.
	Verify(payload []byte, signature string, timestamp string, publicKey string) (bool, error)
}

// ---------------------------------------------------------------------------
// Text Messaging Integration (Twilio)
// ---------------------------------------------------------------------------

// MessagingProvider abstracts interactions with the SMS/WhatsApp delivery
// service. The same provider backs both channels; the channel layer supplies
// addressing (E.164 numbers, whatsapp: prefixes) and pre-rendered text.
type MessagingProvider interface {
	// SendSMS transmits a plain text message to an E.164 phone number.
	// Returns the provider's message SID for tracking and correlation.
	SendSMS(ctx context.Context, input types.MessageInput) (providerMsgID string, err error)

	// SendWhatsApp transmits a message over WhatsApp. The input's To must be
	// an E.164 phone number; the provider applies channel addressing.
	SendWhatsApp(ctx context.Context, input types.MessageInput) (providerMsgID string, err error)
}
