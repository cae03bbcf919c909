// Package external is the anti-corruption layer between the renewal
// pipeline and its delivery providers. Every outbound HTTP call goes
// through a Transport that applies circuit breaking, bounded retries
// with jittered backoff, trace propagation, and mapping of transport
// failures onto domain error codes.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"policypulse/internal/types"

	"github.com/sony/gobreaker/v2"
)

// RetryConfig bounds the retry behavior of a Transport.
type RetryConfig struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryConfig suits interactive provider calls: three retries
// between half a second and ten seconds of backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// Transport wraps an *http.Client with a circuit breaker and retry loop.
// The SendGrid and Twilio clients hold one Transport each, so a failing
// provider trips only its own breaker.
type Transport struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	retry   RetryConfig
	agent   string
	sleep   func(time.Duration)
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithSleep replaces the inter-retry sleep. Tests pass a no-op.
func WithSleep(fn func(time.Duration)) TransportOption {
	return func(t *Transport) {
		t.sleep = fn
	}
}

// WithBreaker substitutes a caller-owned circuit breaker, for sharing one
// across clients or for driving breaker state in tests.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) TransportOption {
	return func(t *Transport) {
		t.breaker = cb
	}
}

// NewTransport builds a Transport whose breaker trips after five
// consecutive failures and probes again after thirty seconds.
func NewTransport(httpClient *http.Client, name string, retry RetryConfig, userAgent string, opts ...TransportOption) *Transport {
	t := &Transport{
		client: httpClient,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil
			},
		}),
		retry: retry,
		agent: userAgent,
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Do sends the request through the breaker, retrying 429 and 5xx
// responses (honoring Retry-After) up to the configured ceiling. Any
// other response comes back as-is with its body open for the caller.
// Exhausted retries and an open breaker surface as AppErrors with
// upstream error codes.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	if traceID := types.GetRequestID(req.Context()); traceID != "" {
		req.Header.Set("X-B3-TraceId", traceID)
	}
	if t.agent != "" {
		req.Header.Set("User-Agent", t.agent)
	}

	// Buffer the body up front so every attempt can replay it.
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
				"failed to buffer request body", err)
		}
	}

	attempts := 1 + t.retry.MaxRetries
	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := t.breaker.Execute(func() (*http.Response, error) {
			return t.send(req)
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		// A response the breaker rejected but that is not retryable
		// (should not happen with send's classification) goes back to
		// the caller untouched.
		if resp != nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		last := attempt == attempts-1
		if resp != nil {
			if last {
				lastResp = resp
			} else {
				resp.Body.Close()
			}
		}
		if !last {
			t.sleep(t.backoff(attempt, resp))
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, t.toAppError(lastResp, lastErr)
}

// send performs one attempt. Rate-limit and server-error statuses are
// returned as errors so they count against the breaker and trigger the
// retry loop.
func (t *Transport) send(req *http.Request) (*http.Response, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	if retryableStatus(resp.StatusCode) {
		return resp, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}
	return resp, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// backoff picks the wait before the next attempt: the Retry-After header
// when the provider sent one, otherwise exponential backoff with full
// jitter, clamped to [MinWait, MaxWait].
func (t *Transport) backoff(attempt int, resp *http.Response) time.Duration {
	if wait, ok := retryAfterWait(resp); ok {
		return t.clamp(wait)
	}

	ceiling := float64(t.retry.MinWait) * math.Pow(2, float64(attempt))
	if limit := float64(t.retry.MaxWait); ceiling > limit {
		ceiling = limit
	}
	floor := float64(t.retry.MinWait)
	if ceiling <= floor {
		return t.retry.MinWait
	}
	return time.Duration(floor + rand.Float64()*(ceiling-floor))
}

// retryAfterWait reads the Retry-After header in either of its two
// forms, delta-seconds or an HTTP-date.
func retryAfterWait(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(header); err == nil {
		return time.Until(at), true
	}
	return 0, false
}

func (t *Transport) clamp(wait time.Duration) time.Duration {
	if wait < t.retry.MinWait {
		return t.retry.MinWait
	}
	if wait > t.retry.MaxWait {
		return t.retry.MaxWait
	}
	return wait
}

// toAppError translates the final transport failure into a domain error.
func (t *Transport) toAppError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			"circuit breaker is open; upstream service unavailable", err)
	}
	if resp != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			return types.NewAppError(types.ErrCodeUpstreamRateLimited,
				"upstream rate limit exceeded", err)
		}
		if resp.StatusCode >= 500 {
			return types.NewAppError(types.ErrCodeUpstreamUnavailable,
				fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
		}
	}
	return types.NewAppError(types.ErrCodeInternalUnexpected,
		"upstream request failed", err)
}
