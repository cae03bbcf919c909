package channels

import (
	"context"
	"log/slog"

	"policypulse/internal/external"
	"policypulse/internal/types"
)

// WhatsAppChannel delivers messages over WhatsApp via an external
// MessagingProvider (Twilio). It shares the provider client and phone
// normalization with the SMS channel; only the transport endpoint and the
// rendered text differ.
type WhatsAppChannel struct {
	provider      external.MessagingProvider
	renderer      *Renderer
	defaultPrefix string
	logger        *slog.Logger
}

// WhatsAppChannelConfig holds the dependencies needed to create a
// WhatsAppChannel.
type WhatsAppChannelConfig struct {
	Provider      external.MessagingProvider // nil when Twilio is not configured
	Renderer      *Renderer
	DefaultPrefix string
	Logger        *slog.Logger
}

// NewWhatsAppChannel creates a new WhatsAppChannel with the given
// dependencies.
func NewWhatsAppChannel(cfg WhatsAppChannelConfig) *WhatsAppChannel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsAppChannel{
		provider:      cfg.Provider,
		renderer:      cfg.Renderer,
		defaultPrefix: cfg.DefaultPrefix,
		logger:        logger,
	}
}

// Type returns the channel type identifier for WhatsApp.
func (w *WhatsAppChannel) Type() types.ChannelType {
	return types.ChannelWhatsApp
}

// Configured reports whether a messaging provider was wired in.
func (w *WhatsAppChannel) Configured() bool {
	return w.provider != nil
}

// Send renders the message text for the payload and transmits it over
// WhatsApp. Recipient rejections (no WhatsApp account, opt-out) come back
// as a terminal failed result; transient provider failures return an error.
func (w *WhatsAppChannel) Send(ctx context.Context, kind types.MessageKind, payload types.ReminderPayload) (*types.DeliveryResult, error) {
	w.logger.Info("attempting whatsapp delivery",
		"dest", RedactPhone(payload.Contact),
		"kind", string(kind),
		"reference_id", payload.ReferenceID,
	)

	if err := payload.Validate(); err != nil {
		return nil, err
	}

	to, err := NormalizePhone(payload.Contact, w.defaultPrefix)
	if err != nil {
		return &types.DeliveryResult{
			Status:        types.DeliveryStatusFailed,
			FailureReason: "invalid_phone_number",
			Retryable:     false,
		}, nil
	}

	rendered, err := w.renderer.Render(kind, payload)
	if err != nil {
		return nil, err
	}

	msgID, err := w.provider.SendWhatsApp(ctx, types.MessageInput{
		To:          to,
		Body:        rendered.ShortText,
		ReferenceID: payload.ReferenceID,
	})
	if err != nil {
		if result := terminalMessagingResult(err); result != nil {
			w.logger.Warn("recipient rejected by provider",
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

// Compile-time assertion that WhatsAppChannel implements types.Channel.
var _ types.Channel = (*WhatsAppChannel)(nil)
