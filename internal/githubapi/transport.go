package githubapi

import (
	"net/http"
	"sync"
	"time"
)

// RetryConfig configures transient-failure retries on hosting-API calls.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// OnRateHeaders, when set, receives the parsed rate-limit headers of
	// every response. The runtime points this at the rate-limit gauges.
	OnRateHeaders func(RateLimitHeaders)
}

// RetryTransport retries transient hosting-API failures with exponential
// backoff. Requests that fail with 4xx classifications pass through
// untouched; retrying an Unauthorized call with the same credential is
// never correct.
type RetryTransport struct {
	Base  http.RoundTripper
	Retry RetryConfig
	// Sleep is injected for testability.
	Sleep func(time.Duration)

	mu          sync.Mutex
	lastHeaders RateLimitHeaders
}

// NewRetryTransport wraps a base transport with retry behavior.
func NewRetryTransport(base http.RoundTripper, retry RetryConfig) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &RetryTransport{
		Base:  base,
		Retry: retry,
		Sleep: time.Sleep,
	}
}

// RoundTrip executes a request, retrying transport errors and transient statuses.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	for attempt := 1; attempt <= t.Retry.MaxAttempts; attempt++ {
		nextReq := req.Clone(req.Context())
		resp, err := t.Base.RoundTrip(nextReq)
		if err != nil {
			lastErr = err
			if attempt == t.Retry.MaxAttempts {
				return nil, lastErr
			}
			t.Sleep(backoffForAttempt(t.Retry, attempt))
			continue
		}

		t.observeHeaders(ParseRateLimitHeaders(resp.Header, resp.StatusCode))

		if isTransientStatus(resp.StatusCode) && attempt < t.Retry.MaxAttempts {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			t.Sleep(backoffForAttempt(t.Retry, attempt))
			continue
		}

		lastResp = resp
		return lastResp, nil
	}

	return lastResp, lastErr
}

// LastRateHeaders reports the most recently observed rate-limit headers.
func (t *RetryTransport) LastRateHeaders() RateLimitHeaders {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastHeaders
}

func (t *RetryTransport) observeHeaders(headers RateLimitHeaders) {
	t.mu.Lock()
	t.lastHeaders = headers
	t.mu.Unlock()

	if t.Retry.OnRateHeaders != nil {
		t.Retry.OnRateHeaders(headers)
	}
}

func isTransientStatus(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode <= 599
}

func backoffForAttempt(retry RetryConfig, attempt int) time.Duration {
	backoff := retry.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if retry.MaxBackoff > 0 && backoff > retry.MaxBackoff {
			return retry.MaxBackoff
		}
	}
	if retry.MaxBackoff > 0 && backoff > retry.MaxBackoff {
		return retry.MaxBackoff
	}
	return backoff
}
