package external

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"policypulse/internal/types"
)

func noopSleep(time.Duration) {}

// countingHandler serves scripted status codes in order, then repeats the
// last one. It records each request body it sees.
type countingHandler struct {
	mu       sync.Mutex
	statuses []int
	calls    int
	bodies   []string
	headers  []http.Header
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	h.bodies = append(h.bodies, string(body))
	h.headers = append(h.headers, r.Header.Clone())

	idx := h.calls
	if idx >= len(h.statuses) {
		idx = len(h.statuses) - 1
	}
	h.calls++
	w.WriteHeader(h.statuses[idx])
}

func (h *countingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func newTestTransport(retries int, opts ...TransportOption) *Transport {
	opts = append([]TransportOption{WithSleep(noopSleep)}, opts...)
	return NewTransport(
		&http.Client{Timeout: 5 * time.Second},
		"test-transport",
		RetryConfig{MaxRetries: retries, MinWait: time.Millisecond, MaxWait: 10 * time.Millisecond},
		"PolicyPulse-Test/1.0",
		opts...,
	)
}

func TestTransportSuccessPassesResponseThrough(t *testing.T) {
	h := &countingHandler{statuses: []int{http.StatusOK}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	tr := newTestTransport(3)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := tr.Do(req)
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if h.callCount() != 1 {
		t.Errorf("calls = %d, want 1", h.callCount())
	}
}

func TestTransportInjectsHeaders(t *testing.T) {
	h := &countingHandler{statuses: []int{http.StatusOK}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	tr := newTestTransport(0)
	testCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ctx := types.WithRequestID(testCtx, "req-trace-1")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := tr.Do(req)
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	resp.Body.Close()

	got := h.headers[0]
	if got.Get("X-B3-TraceId") != "req-trace-1" {
		t.Errorf("trace header = %q", got.Get("X-B3-TraceId"))
	}
	if got.Get("User-Agent") != "PolicyPulse-Test/1.0" {
		t.Errorf("user agent = %q", got.Get("User-Agent"))
	}
}

func TestTransportNoTraceHeaderWithoutRequestID(t *testing.T) {
	h := &countingHandler{statuses: []int{http.StatusOK}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	tr := newTestTransport(0)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := tr.Do(req)
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	resp.Body.Close()

	if v := h.headers[0].Get("X-B3-TraceId"); v != "" {
		t.Errorf("unexpected trace header %q", v)
	}
}

func TestTransportRetriesServerErrorsUntilSuccess(t *testing.T) {
	h := &countingHandler{statuses: []int{http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusOK}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	tr := newTestTransport(3)
	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"n":1}`))
	resp, err := tr.Do(req)
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if h.callCount() != 3 {
		t.Errorf("calls = %d, want 3", h.callCount())
	}
	// The body is replayed on every attempt.
	for i, b := range h.bodies {
		if b != `{"n":1}` {
			t.Errorf("attempt %d body = %q", i, b)
		}
	}
}

func TestTransportExhaustedRetriesMapsStatus(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   types.ErrorCode
	}{
		{"rate limited", http.StatusTooManyRequests, types.ErrCodeUpstreamRateLimited},
		{"server error", http.StatusBadGateway, types.ErrCodeUpstreamUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &countingHandler{statuses: []int{tc.status}}
			srv := httptest.NewServer(h)
			defer srv.Close()

			tr := newTestTransport(2)
			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			_, err := tr.Do(req)
			if err == nil {
				t.Fatal("expected error after exhausted retries")
			}
			if !types.IsErrorCode(err, tc.code) {
				t.Errorf("error = %v, want code %s", err, tc.code)
			}
			if h.callCount() != 3 {
				t.Errorf("calls = %d, want 3 (1 + 2 retries)", h.callCount())
			}
		})
	}
}

func TestTransportClientErrorNotRetried(t *testing.T) {
	h := &countingHandler{statuses: []int{http.StatusBadRequest}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	tr := newTestTransport(3)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := tr.Do(req)
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 passed through", resp.StatusCode)
	}
	if h.callCount() != 1 {
		t.Errorf("calls = %d, want 1", h.callCount())
	}
}

func TestTransportHonorsRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var slept []time.Duration
	tr := NewTransport(
		&http.Client{Timeout: 5 * time.Second},
		"test-retry-after",
		RetryConfig{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: 10 * time.Second},
		"",
		WithSleep(func(d time.Duration) { slept = append(slept, d) }),
	)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := tr.Do(req); err == nil {
		t.Fatal("expected error")
	}

	if len(slept) != 1 || slept[0] != 7*time.Second {
		t.Errorf("slept %v, want [7s]", slept)
	}
}

func TestTransportRetryAfterClampedToMaxWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var slept []time.Duration
	tr := NewTransport(
		&http.Client{Timeout: 5 * time.Second},
		"test-clamp",
		RetryConfig{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: 2 * time.Second},
		"",
		WithSleep(func(d time.Duration) { slept = append(slept, d) }),
	)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := tr.Do(req); err == nil {
		t.Fatal("expected error")
	}

	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Errorf("slept %v, want [2s]", slept)
	}
}

func TestTransportBackoffGrowsWithinBounds(t *testing.T) {
	tr := NewTransport(
		&http.Client{},
		"test-backoff",
		RetryConfig{MaxRetries: 5, MinWait: 100 * time.Millisecond, MaxWait: time.Second},
		"",
		WithSleep(noopSleep),
	)

	for attempt := 0; attempt < 6; attempt++ {
		got := tr.backoff(attempt, nil)
		if got < 100*time.Millisecond || got > time.Second {
			t.Errorf("backoff(%d) = %v, want within [100ms, 1s]", attempt, got)
		}
	}
}

func TestTransportBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	h := &countingHandler{statuses: []int{http.StatusInternalServerError}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	// No retries, so each Do is one breaker-counted failure. The breaker
	// trips after more than five consecutive failures.
	tr := newTestTransport(0)
	var lastErr error
	for i := 0; i < 8; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		_, lastErr = tr.Do(req)
	}

	if !types.IsErrorCode(lastErr, types.ErrCodeUpstreamRateLimited) {
		t.Errorf("error = %v, want breaker-open rate limited code", lastErr)
	}
	if h.callCount() >= 8 {
		t.Errorf("calls = %d, breaker never interrupted traffic", h.callCount())
	}
}

func TestTransportNetworkErrorMapsTointernal(t *testing.T) {
	tr := newTestTransport(1)
	// Unroutable port on localhost.
	req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:1", nil)
	_, err := tr.Do(req)
	if err == nil {
		t.Fatal("expected error")
	}
	if !types.IsErrorCode(err, types.ErrCodeInternalUnexpected) {
		t.Errorf("error = %v, want internal_unexpected_error", err)
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxRetries != 3 || cfg.MinWait != 500*time.Millisecond || cfg.MaxWait != 10*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
