package channels

import (
	"context"
	"errors"
	"log/slog"

	"policypulse/internal/external"
	"policypulse/internal/types"
)

// SMSChannel delivers messages as plain text via an external
// MessagingProvider (Twilio).
type SMSChannel struct {
	provider      external.MessagingProvider
	renderer      *Renderer
	defaultPrefix string
	logger        *slog.Logger
}

// SMSChannelConfig holds the dependencies needed to create an SMSChannel.
type SMSChannelConfig struct {
	Provider      external.MessagingProvider // nil when Twilio is not configured
	Renderer      *Renderer
	DefaultPrefix string // country prefix for bare national numbers
	Logger        *slog.Logger
}

// NewSMSChannel creates a new SMSChannel with the given dependencies.
func NewSMSChannel(cfg SMSChannelConfig) *SMSChannel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SMSChannel{
		provider:      cfg.Provider,
		renderer:      cfg.Renderer,
		defaultPrefix: cfg.DefaultPrefix,
		logger:        logger,
	}
}

// Type returns the channel type identifier for SMS.
func (s *SMSChannel) Type() types.ChannelType {
	return types.ChannelSMS
}

// Configured reports whether a messaging provider was wired in.
func (s *SMSChannel) Configured() bool {
	return s.provider != nil
}

// Send renders the short text for the payload and transmits it. Recipient
// rejections (bad number, unsubscribed) come back as a terminal failed
// result; transient provider failures return an error.
func (s *SMSChannel) Send(ctx context.Context, kind types.MessageKind, payload types.ReminderPayload) (*types.DeliveryResult, error) {
	s.logger.Info("attempting sms delivery",
		"dest", RedactPhone(payload.Contact),
		"kind", string(kind),
		"reference_id", payload.ReferenceID,
	)

	if err := payload.Validate(); err != nil {
		return nil, err
	}

	to, err := NormalizePhone(payload.Contact, s.defaultPrefix)
	if err != nil {
		return &types.DeliveryResult{
			Status:        types.DeliveryStatusFailed,
			FailureReason: "invalid_phone_number",
			Retryable:     false,
		}, nil
	}

	rendered, err := s.renderer.Render(kind, payload)
	if err != nil {
		return nil, err
	}

	msgID, err := s.provider.SendSMS(ctx, types.MessageInput{
		To:          to,
		Body:        rendered.ShortText,
		ReferenceID: payload.ReferenceID,
	})
	if err != nil {
		if result := terminalMessagingResult(err); result != nil {
			s.logger.Warn("recipient rejected by provider",
				"dest", RedactPhone(to),
				"reference_id", payload.ReferenceID,
			)
			return result, nil
		}
		return nil, err
	}

	return &types.DeliveryResult{
		Status:            types.DeliveryStatusSent,
		ProviderMessageID: msgID,
		Retryable:         false,
	}, nil
}

// terminalMessagingResult maps recipient-level provider errors to a
// non-retryable failed result and returns nil otherwise.
func terminalMessagingResult(err error) *types.DeliveryResult {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeRecipientInvalid {
		return &types.DeliveryResult{
			Status:        types.DeliveryStatusFailed,
			FailureReason: "recipient_rejected",
			Retryable:     false,
		}
	}
	return nil
}

// RedactPhone masks a phone number for safe logging, keeping only the last
// four digits. For example, "+919876543210" becomes "********3210".
func RedactPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	masked := make([]byte, len(phone)-4)
	for i := range masked {
		masked[i] = '*'
	}
	return string(masked) + phone[len(phone)-4:]
}

// Compile-time assertion that SMSChannel implements types.Channel.
var _ types.Channel = (*SMSChannel)(nil)
