package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"policypulse/internal/types"
)

// twilioAPIBase is the default Twilio API base URL.
// Overridable in tests via TwilioClientConfig.BaseURL.
const twilioAPIBase = "https://api.twilio.com"

// Twilio error codes that indicate the recipient address itself is bad.
// These are permanent failures; retrying the same number cannot succeed.
const (
	twilioErrInvalidTo      = 21211
	twilioErrNotMobile      = 21614
	twilioErrUnsubscribed   = 21610
	twilioErrNoWhatsApp     = 63003
	twilioErrWhatsAppOptOut = 63024
)

// TwilioClientConfig holds the configuration for creating a TwilioClient.
type TwilioClientConfig struct {
	AccountSID   string
	AuthToken    string
	SMSFrom      string // E.164 sender number for SMS
	WhatsAppFrom string // E.164 sender number for WhatsApp (without prefix)
	BaseURL      string // Override for testing; defaults to twilioAPIBase
	Logger       *slog.Logger
}

// TwilioClient implements MessagingProvider by making direct HTTP calls to
// the Twilio Messages API through Transport. One client serves both SMS and
// WhatsApp; Twilio routes on the whatsapp: address prefix.
type TwilioClient struct {
	base         *Transport
	accountSID   string
	authToken    string
	smsFrom      string
	whatsAppFrom string
	baseURL      string
	logger       *slog.Logger
}

// NewTwilioClient creates a new TwilioClient.
func NewTwilioClient(
	httpClient *http.Client,
	cfg TwilioClientConfig,
) *TwilioClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = twilioAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewTransport(
		httpClient,
		"twilio",
		RetryConfig{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"PolicyPulse/1.0",
		WithSleep(time.Sleep),
	)

	return &TwilioClient{
		base:         base,
		accountSID:   cfg.AccountSID,
		authToken:    cfg.AuthToken,
		smsFrom:      cfg.SMSFrom,
		whatsAppFrom: cfg.WhatsAppFrom,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		logger:       logger,
	}
}

// NewTwilioClientWithTransport creates a TwilioClient with a pre-configured
// Transport. This is useful for testing when you want to control the
// Transport configuration (e.g., disable retries).
func NewTwilioClientWithTransport(
	base *Transport,
	cfg TwilioClientConfig,
) *TwilioClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = twilioAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &TwilioClient{
		base:         base,
		accountSID:   cfg.AccountSID,
		authToken:    cfg.AuthToken,
		smsFrom:      cfg.SMSFrom,
		whatsAppFrom: cfg.WhatsAppFrom,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		logger:       logger,
	}
}

// ---------------------------------------------------------------------------
// MessagingProvider Implementation
// ---------------------------------------------------------------------------

// SendSMS transmits a plain text message via Twilio's Messages API and
// returns the message SID on success.
func (t *TwilioClient) SendSMS(ctx context.Context, input types.MessageInput) (string, error) {
	return t.sendMessage(ctx, "SendSMS", input.To, t.smsFrom, input)
}

// SendWhatsApp transmits a message over the WhatsApp channel. Twilio
// addresses WhatsApp endpoints as "whatsapp:+<E.164>".
func (t *TwilioClient) SendWhatsApp(ctx context.Context, input types.MessageInput) (string, error) {
	to := "whatsapp:" + input.To
	from := "whatsapp:" + t.whatsAppFrom
	return t.sendMessage(ctx, "SendWhatsApp", to, from, input)
}

// sendMessage POSTs to /2010-04-01/Accounts/{SID}/Messages.json with a
// form-encoded body and basic auth, per Twilio's REST conventions.
func (t *TwilioClient) sendMessage(ctx context.Context, operation, to, from string, input types.MessageInput) (string, error) {
	params := url.Values{}
	params.Set("To", to)
	params.Set("From", from)
	params.Set("Body", input.Body)

	reqURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, t.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(params.Encode()))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("%s: failed to create Twilio request", operation),
			err,
		)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.accountSID, t.authToken)

	resp, err := t.base.Do(req)
	if err != nil {
		return "", t.wrapTwilioError(operation, err)
	}
	defer resp.Body.Close()

	// Twilio returns 201 Created with the message resource on success.
	if resp.StatusCode == http.StatusCreated {
		var msg twilioMessageResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&msg); decodeErr != nil {
			return "", types.NewAppError(
				types.ErrCodeUpstreamMessagingProvider,
				fmt.Sprintf("%s: failed to decode Twilio response", operation),
				decodeErr,
			)
		}
		return msg.SID, nil
	}

	return "", t.handleErrorResponse(resp, operation)
}

// ---------------------------------------------------------------------------
// Response Types
// ---------------------------------------------------------------------------

// twilioMessageResponse is the subset of the Twilio message resource the
// pipeline cares about.
type twilioMessageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// twilioErrorResponse represents the JSON error body returned by Twilio.
type twilioErrorResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// handleErrorResponse reads a Twilio error response and maps it to a
// types.AppError:
//   - recipient-level error codes -> types.ErrCodeRecipientInvalid
//   - other 4xx -> types.ErrCodeUpstreamMessagingProvider
func (t *TwilioClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamMessagingProvider,
			fmt.Sprintf("%s: Twilio returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var twErr twilioErrorResponse
	errMsg := ""
	if jsonErr := json.Unmarshal(body, &twErr); jsonErr == nil && twErr.Message != "" {
		errMsg = twErr.Message
	} else {
		errMsg = string(body)
	}

	switch twErr.Code {
	case twilioErrInvalidTo, twilioErrNotMobile, twilioErrUnsubscribed,
		twilioErrNoWhatsApp, twilioErrWhatsAppOptOut:
		return types.NewAppError(
			types.ErrCodeRecipientInvalid,
			fmt.Sprintf("%s: Twilio rejected recipient (%d): %s", operation, twErr.Code, errMsg),
			nil,
		)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Twilio rate limit exceeded", operation),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Twilio server error: %s", operation, errMsg),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamMessagingProvider,
			fmt.Sprintf("%s: Twilio error (%d): %s", operation, resp.StatusCode, errMsg),
			nil,
		)
	}
}

// wrapTwilioError wraps a Transport transport error with context.
func (t *TwilioClient) wrapTwilioError(operation string, err error) error {
	// AppErrors from Transport (circuit breaker, retries exhausted) already
	// carry the right error code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamMessagingProvider,
		fmt.Sprintf("%s: Twilio request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Interface Compliance
// ---------------------------------------------------------------------------

// Compile-time assertion that TwilioClient satisfies MessagingProvider.
var _ MessagingProvider = (*TwilioClient)(nil)
