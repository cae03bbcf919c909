package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"policypulse/internal/types"
)

// Overridable in tests via SendGridClientConfig.BaseURL.
const sendGridAPIBase = "https://api.sendgrid.com"

// SendGridClientConfig configures a SendGridClient.
type SendGridClientConfig struct {
	APIKey  string
	BaseURL string
	Logger  *slog.Logger
}

// SendGridClient implements EmailProvider against the SendGrid v3 Mail Send
// API. Calls go through the package Transport, so breaker state, retries,
// and upstream error codes behave the same as for every other provider.
type SendGridClient struct {
	transport *Transport
	apiKey    string
	baseURL   string
	logger    *slog.Logger
}

var _ EmailProvider = (*SendGridClient)(nil)

// NewSendGridClient builds a client with the production transport: two
// retries, short waits. Keep the httpClient timeout tight; the dispatcher
// sends inline.
func NewSendGridClient(httpClient *http.Client, cfg SendGridClientConfig) *SendGridClient {
	transport := NewTransport(
		httpClient,
		"sendgrid",
		RetryConfig{MaxRetries: 2, MinWait: 500 * time.Millisecond, MaxWait: 5 * time.Second},
		"PolicyPulse/1.0",
	)
	return NewSendGridClientWithTransport(transport, cfg)
}

// NewSendGridClientWithTransport injects a caller-built Transport, which is
// how tests disable retries and control the breaker.
func NewSendGridClientWithTransport(transport *Transport, cfg SendGridClientConfig) *SendGridClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridClient{
		transport: transport,
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// Send posts one mail/send request and returns the provider message ID
// from the X-Message-Id header. SendGrid answers 202 on acceptance.
//
// 403 means the recipient is suppressed and maps to email_blocked, which
// the dispatcher treats as non-retryable; 429 and 5xx are retried by the
// transport before surfacing as upstream codes.
func (s *SendGridClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	body, err := json.Marshal(mailPayloadFrom(input))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to marshal SendGrid mail payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to create SendGrid mail send request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.transport.Do(req)
	if err != nil {
		return "", providerError(err, types.ErrCodeUpstreamEmailProvider, "Send: SendGrid request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return resp.Header.Get("X-Message-Id"), nil
	}
	return "", s.sendGridError(resp)
}

// sendGridMailPayload is the v3 mail/send request body.
type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	// custom_args round-trip through the Event Webhook, correlating
	// provider events back to reminders.
	CustomArgs map[string]string `json:"custom_args,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// mailPayloadFrom maps the domain send input onto the wire payload.
// SendGrid requires text/plain before text/html when both are present.
func mailPayloadFrom(input types.SendInput) sendGridMailPayload {
	p := sendGridMailPayload{
		Personalizations: []sendGridPersonalization{
			{To: []sendGridAddress{{Email: input.To}}},
		},
		From:    sendGridAddress{Email: input.From.Address, Name: input.From.Name},
		Subject: input.Subject,
	}
	if input.BodyText != "" {
		p.Content = append(p.Content, sendGridContent{Type: "text/plain", Value: input.BodyText})
	}
	if input.BodyHTML != "" {
		p.Content = append(p.Content, sendGridContent{Type: "text/html", Value: input.BodyHTML})
	}
	if input.ReferenceID != "" {
		p.CustomArgs = map[string]string{"reference_id": input.ReferenceID}
	}
	return p
}

// sendGridError reads SendGrid's error body ({"errors":[{"message":...}]})
// and maps the status onto a domain code.
func (s *SendGridClient) sendGridError(resp *http.Response) error {
	message := fmt.Sprintf("status %d", resp.StatusCode)
	if body, err := io.ReadAll(resp.Body); err == nil && len(body) > 0 {
		var parsed struct {
			Errors []struct {
				Message string `json:"message"`
			} `json:"errors"`
		}
		if json.Unmarshal(body, &parsed) == nil && len(parsed.Errors) > 0 {
			message = parsed.Errors[0].Message
		} else {
			message = string(body)
		}
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		// Recipient is on a suppression list.
		return types.NewAppError(types.ErrCodeEmailBlocked,
			fmt.Sprintf("Send: SendGrid blocked delivery: %s", message), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			"Send: SendGrid rate limit exceeded", nil)
	case resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("Send: SendGrid server error: %s", message), nil)
	default:
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("Send: SendGrid error (%d): %s", resp.StatusCode, message), nil)
	}
}

// providerError passes Transport AppErrors through unchanged (they already
// carry the right upstream code) and wraps anything else under the given
// provider code.
func providerError(err error, code types.ErrorCode, context string) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(code, fmt.Sprintf("%s: %v", context, err), err)
}
