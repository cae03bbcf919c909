package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"policypulse/internal/types"
)

// SendGrid Event Webhook signature headers. SendGrid reuses the Twilio
// header names for its signed event webhooks.
const (
	sendGridSignatureHeader = "X-Twilio-Email-Event-Webhook-Signature"
	sendGridTimestampHeader = "X-Twilio-Email-Event-Webhook-Timestamp"
)

// maxEventPayloadBytes bounds the webhook body read. SendGrid batches
// events but caps batches well under this.
const maxEventPayloadBytes = 1 << 20

// sendGridEvent is one entry of a SendGrid Event Webhook batch. SendGrid
// flattens custom_args into the event object, so the reference_id set at
// send time comes back as a top-level field.
type sendGridEvent struct {
	Event       string `json:"event"`
	ReferenceID string `json:"reference_id"`
	SGMessageID string `json:"sg_message_id"`
}

type eventIngestResponse struct {
	Received int `json:"received"`
	Applied  int `json:"applied"`
}

// handleSendGridEvents ingests SendGrid delivery and engagement events.
// The ECDSA signature is verified before anything in the body is trusted.
// Events without a reference_id cannot be correlated to a reminder and are
// counted but not applied; per-event store failures are logged and skipped
// so one bad event never makes the provider retry the whole batch.
func (s *Server) handleSendGridEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.emailEvents == nil {
		Error(w, r, types.NewAppError(types.ErrCodeChannelNotConfigured,
			"email event ingestion is not configured", nil))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventPayloadBytes))
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"failed to read request body", err))
		return
	}

	signature := r.Header.Get(sendGridSignatureHeader)
	timestamp := r.Header.Get(sendGridTimestampHeader)
	if signature == "" || timestamp == "" {
		Error(w, r, types.NewAppError(types.ErrCodeUnauthorizedSignature,
			"missing webhook signature headers", nil))
		return
	}

	valid, err := s.emailEvents.Verifier.Verify(body, signature, timestamp, s.emailEvents.PublicKey)
	if err != nil || !valid {
		if err != nil {
			s.logger.WarnContext(ctx, "webhook signature verification error", "error", err)
		}
		Error(w, r, types.NewAppError(types.ErrCodeUnauthorizedSignature,
			"invalid webhook signature", err))
		return
	}

	var events []sendGridEvent
	if err := json.Unmarshal(body, &events); err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"malformed event payload", err))
		return
	}

	applied := 0
	for _, ev := range events {
		if ev.ReferenceID == "" {
			continue
		}
		if s.applyEmailEvent(ctx, ev) {
			applied++
		}
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: eventIngestResponse{
		Received: len(events),
		Applied:  applied,
	}})
}

// applyEmailEvent maps one provider event onto reminder and outreach state.
// A click implies the message was opened.
func (s *Server) applyEmailEvent(ctx context.Context, ev sendGridEvent) bool {
	var (
		touched bool
		err     error
	)

	switch ev.Event {
	case "delivered":
		touched, err = s.store.MarkReminderDelivered(ctx, ev.ReferenceID, s.clock.Now())
	case "open":
		var n int
		n, err = s.store.RecordOutreachEngagement(ctx, ev.ReferenceID, true, false)
		touched = n > 0
	case "click":
		var n int
		n, err = s.store.RecordOutreachEngagement(ctx, ev.ReferenceID, true, true)
		touched = n > 0
	default:
		return false
	}

	if err != nil {
		s.logger.WarnContext(ctx, "failed to apply email event",
			"event", ev.Event,
			"reference_id", ev.ReferenceID,
			"error", err)
		return false
	}
	return touched
}
