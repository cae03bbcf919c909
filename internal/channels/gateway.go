package channels

import (
	"context"
	"log/slog"

	"policypulse/internal/types"
)

// Gateway routes a delivery to the channel matching the customer's
// preference and normalizes every outcome into a DeliveryResult. Callers
// never branch on channel-specific errors: an unknown channel is a terminal
// failure, an unconfigured channel is a skip, a channel error is a failure
// carrying the error message and retryability.
type Gateway struct {
	channels map[types.ChannelType]types.Channel
	logger   *slog.Logger
}

// NewGateway creates a Gateway over the given channels, keyed by their
// Type(). Later channels with a duplicate type override earlier ones.
func NewGateway(logger *slog.Logger, chans ...types.Channel) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	registry := make(map[types.ChannelType]types.Channel, len(chans))
	for _, ch := range chans {
		registry[ch.Type()] = ch
	}

	return &Gateway{
		channels: registry,
		logger:   logger,
	}
}

// Channel returns the registered channel for the given type, or nil.
func (g *Gateway) Channel(ct types.ChannelType) types.Channel {
	return g.channels[ct]
}

// Deliver sends the message kind over the given channel type. The returned
// result is always non-nil:
//
//   - unknown channel type: failed, not retryable
//   - channel not configured: skipped (treated as success by callers so an
//     intentionally disabled channel never clogs the retry ladder)
//   - provider rejection or transport error: failed, with Retryable set by
//     the channel's classification
//   - otherwise: sent, with the provider message ID
func (g *Gateway) Deliver(ctx context.Context, ct types.ChannelType, kind types.MessageKind, payload types.ReminderPayload) *types.DeliveryResult {
	ch, ok := g.channels[ct]
	if !ok {
		g.logger.Error("delivery requested for unknown channel",
			"channel", string(ct),
			"reference_id", payload.ReferenceID,
		)
		return &types.DeliveryResult{
			Status:        types.DeliveryStatusFailed,
			FailureReason: "unknown_channel",
			Retryable:     false,
		}
	}

	if !ch.Configured() {
		g.logger.Warn("channel not configured, skipping delivery",
			"channel", string(ct),
			"reference_id", payload.ReferenceID,
		)
		return &types.DeliveryResult{
			Status:        types.DeliveryStatusSkipped,
			FailureReason: "channel_not_configured",
		}
	}

	result, err := ch.Send(ctx, kind, payload)
	if err != nil {
		g.logger.Error("channel delivery failed",
			"channel", string(ct),
			"kind", string(kind),
			"reference_id", payload.ReferenceID,
			"error", err.Error(),
		)
		return &types.DeliveryResult{
			Status:        types.DeliveryStatusFailed,
			FailureReason: err.Error(),
			Retryable:     true,
		}
	}

	return result
}
