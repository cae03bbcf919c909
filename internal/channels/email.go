package channels

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"policypulse/internal/external"
	"policypulse/internal/types"
)

// EmailChannel delivers messages via an external EmailProvider (SendGrid).
// Rendering happens client-side through the shared Renderer.
type EmailChannel struct {
	provider external.EmailProvider
	renderer *Renderer
	from     types.SenderIdentity
	logger   *slog.Logger
}

// EmailChannelConfig holds the dependencies needed to create an EmailChannel.
type EmailChannelConfig struct {
	Provider external.EmailProvider // nil when SendGrid is not configured
	Renderer *Renderer
	From     types.SenderIdentity
	Logger   *slog.Logger
}

// NewEmailChannel creates a new EmailChannel with the given dependencies.
func NewEmailChannel(cfg EmailChannelConfig) *EmailChannel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailChannel{
		provider: cfg.Provider,
		renderer: cfg.Renderer,
		from:     cfg.From,
		logger:   logger,
	}
}

// Type returns the channel type identifier for email.
func (e *EmailChannel) Type() types.ChannelType {
	return types.ChannelEmail
}

// Configured reports whether an email provider was wired in.
func (e *EmailChannel) Configured() bool {
	return e.provider != nil
}

// Send renders the message kind for the payload and transmits it. Provider
// rejections of the recipient itself (suppression list) come back as a
// terminal failed result; transient provider failures return an error so
// the caller's retry ladder applies.
func (e *EmailChannel) Send(ctx context.Context, kind types.MessageKind, payload types.ReminderPayload) (*types.DeliveryResult, error) {
	e.logger.Info("attempting email delivery",
		"dest", RedactEmail(payload.Contact),
		"kind", string(kind),
		"reference_id", payload.ReferenceID,
	)

	if err := payload.Validate(); err != nil {
		return nil, err
	}
	if !strings.Contains(payload.Contact, "@") {
		return &types.DeliveryResult{
			Status:        types.DeliveryStatusFailed,
			FailureReason: "invalid_email_address",
			Retryable:     false,
		}, nil
	}

	rendered, err := e.renderer.Render(kind, payload)
	if err != nil {
		return nil, err
	}

	msgID, err := e.provider.Send(ctx, types.SendInput{
		To:          payload.Contact,
		From:        e.from,
		Subject:     rendered.Subject,
		BodyHTML:    rendered.BodyHTML,
		BodyText:    rendered.BodyText,
		ReferenceID: payload.ReferenceID,
	})
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeEmailBlocked {
			// Suppression-listed recipient. Retrying the same address
			// cannot succeed.
			e.logger.Warn("recipient blocked by provider",
				"dest", RedactEmail(payload.Contact),
				"reference_id", payload.ReferenceID,
			)
			return &types.DeliveryResult{
				Status:        types.DeliveryStatusFailed,
				FailureReason: "address_blocked",
				Retryable:     false,
			}, nil
		}
		return nil, err
	}

	return &types.DeliveryResult{
		Status:            types.DeliveryStatusSent,
		ProviderMessageID: msgID,
		Retryable:         false,
	}, nil
}

// RedactEmail masks an email address for safe logging by replacing all but
// the first character of the local part with asterisks. For example,
// "john@gmail.com" becomes "j***@gmail.com".
//
// If the email does not contain an "@" symbol, the entire string is masked
// to prevent accidental PII exposure in logs.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}

	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 {
		// No @ sign - mask the entire string.
		return "***"
	}

	local := parts[0]
	domain := parts[1]

	if len(local) == 0 {
		return "***@" + domain
	}

	// Keep the first character, replace the rest with "***".
	return string(local[0]) + "***@" + domain
}

// Compile-time assertion that EmailChannel implements types.Channel.
var _ types.Channel = (*EmailChannel)(nil)
