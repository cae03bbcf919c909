package channels

import (
	"context"
	"errors"
	"strings"
	"testing"

	"policypulse/internal/types"
)

// mockEmailProvider implements external.EmailProvider for testing.
type mockEmailProvider struct {
	sendCalled bool
	sendInput  types.SendInput
	sendMsgID  string
	sendErr    error
}

func (m *mockEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	m.sendCalled = true
	m.sendInput = input
	if m.sendErr != nil {
		return "", m.sendErr
	}
	return m.sendMsgID, nil
}

func newTestEmailChannel(provider *mockEmailProvider, t *testing.T) *EmailChannel {
	cfg := EmailChannelConfig{
		Renderer: newTestRenderer(t),
		From: types.SenderIdentity{
			Address: "reminders@policypulse.io",
			Name:    "PolicyPulse Reminders",
		},
		Logger: newTestLogger(),
	}
	if provider != nil {
		cfg.Provider = provider
	}
	return NewEmailChannel(cfg)
}

// --- EmailChannel Tests ---

func TestEmailChannelType(t *testing.T) {
	ch := newTestEmailChannel(&mockEmailProvider{}, t)
	if ch.Type() != types.ChannelEmail {
		t.Errorf("Type() = %v, want %v", ch.Type(), types.ChannelEmail)
	}
}

func TestEmailChannelConfigured(t *testing.T) {
	if ch := newTestEmailChannel(&mockEmailProvider{}, t); !ch.Configured() {
		t.Error("Configured() = false with a provider wired in")
	}
	if ch := newTestEmailChannel(nil, t); ch.Configured() {
		t.Error("Configured() = true without a provider")
	}
}

func TestEmailChannelSendSuccess(t *testing.T) {
	provider := &mockEmailProvider{sendMsgID: "sg_msg_123"}
	ch := newTestEmailChannel(provider, t)

	result, err := ch.Send(context.Background(), types.MessageRenewalReminder, testPayload())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if result.Status != types.DeliveryStatusSent {
		t.Errorf("Status = %v, want %v", result.Status, types.DeliveryStatusSent)
	}
	if result.ProviderMessageID != "sg_msg_123" {
		t.Errorf("ProviderMessageID = %q, want %q", result.ProviderMessageID, "sg_msg_123")
	}

	if !provider.sendCalled {
		t.Fatal("provider.Send was not called")
	}
	if provider.sendInput.To != "asha@example.com" {
		t.Errorf("sendInput.To = %q, want asha@example.com", provider.sendInput.To)
	}
	if provider.sendInput.From.Address != "reminders@policypulse.io" {
		t.Errorf("sendInput.From.Address = %q", provider.sendInput.From.Address)
	}
	if provider.sendInput.Subject != "Your motor policy POL-2026-0001 renews in 15 days" {
		t.Errorf("sendInput.Subject = %q", provider.sendInput.Subject)
	}
	if provider.sendInput.ReferenceID != "rem_001" {
		t.Errorf("sendInput.ReferenceID = %q, want rem_001", provider.sendInput.ReferenceID)
	}
	if !strings.Contains(provider.sendInput.BodyText, "Asha Verma") {
		t.Error("sendInput.BodyText missing customer name")
	}
}

func TestEmailChannelSendInvalidAddress(t *testing.T) {
	provider := &mockEmailProvider{}
	ch := newTestEmailChannel(provider, t)

	payload := testPayload()
	payload.Contact = "not-an-email"

	result, err := ch.Send(context.Background(), types.MessageRenewalReminder, payload)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if result.Status != types.DeliveryStatusFailed {
		t.Errorf("Status = %v, want %v", result.Status, types.DeliveryStatusFailed)
	}
	if result.FailureReason != "invalid_email_address" {
		t.Errorf("FailureReason = %q, want invalid_email_address", result.FailureReason)
	}
	if result.Retryable {
		t.Error("Retryable = true for a malformed address")
	}
	if provider.sendCalled {
		t.Error("provider.Send should not be called for a malformed address")
	}
}

func TestEmailChannelSendBlockedRecipient(t *testing.T) {
	provider := &mockEmailProvider{
		sendErr: types.NewAppError(types.ErrCodeEmailBlocked, "recipient suppressed", nil),
	}
	ch := newTestEmailChannel(provider, t)

	result, err := ch.Send(context.Background(), types.MessageRenewalReminder, testPayload())
	if err != nil {
		t.Fatalf("Send() error = %v, want terminal result", err)
	}

	if result.Status != types.DeliveryStatusFailed {
		t.Errorf("Status = %v, want %v", result.Status, types.DeliveryStatusFailed)
	}
	if result.FailureReason != "address_blocked" {
		t.Errorf("FailureReason = %q, want address_blocked", result.FailureReason)
	}
	if result.Retryable {
		t.Error("Retryable = true for a suppression-listed recipient")
	}
}

func TestEmailChannelSendTransientError(t *testing.T) {
	provider := &mockEmailProvider{
		sendErr: types.NewAppError(types.ErrCodeUpstreamUnavailable, "sendgrid returned 503", nil),
	}
	ch := newTestEmailChannel(provider, t)

	result, err := ch.Send(context.Background(), types.MessageRenewalReminder, testPayload())
	if err == nil {
		t.Fatalf("Send() error = nil, result = %+v, want error", result)
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Errorf("error = %v, want code %s", err, types.ErrCodeUpstreamUnavailable)
	}
}

func TestEmailChannelSendMissingPayloadFields(t *testing.T) {
	ch := newTestEmailChannel(&mockEmailProvider{}, t)

	payload := testPayload()
	payload.PolicyNumber = ""

	if _, err := ch.Send(context.Background(), types.MessageRenewalReminder, payload); err == nil {
		t.Error("Send() expected validation error for missing policy number")
	}
}

// --- RedactEmail Tests ---

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"john@gmail.com", "j***@gmail.com"},
		{"a@b.co", "a***@b.co"},
		{"@example.com", "***@example.com"},
		{"no-at-sign", "***"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := RedactEmail(tt.email); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}
}
