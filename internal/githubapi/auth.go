// Package githubapi builds authenticated, rate-limit-aware GitHub API
// clients and exposes the typed fetches the aggregator consumes.
package githubapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"
)

// InstallationAuthConfig configures GitHub App installation authentication,
// used when the shared service credential is a GitHub App rather than a token.
type InstallationAuthConfig struct {
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	Timeout        time.Duration
	Retry          RetryConfig
	BaseTransport  http.RoundTripper
}

// NewTokenHTTPClient creates an HTTP client authenticated with a bearer
// token. The transport chain waits out secondary rate limits and retries
// transient failures before the auth layer sees them.
func NewTokenHTTPClient(token string, timeout time.Duration, retry RetryConfig) (*http.Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("token is required")
	}

	waiter, err := newRateLimitedTransport(nil, retry)
	if err != nil {
		return nil, err
	}

	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &http.Client{
		Transport: &oauth2.Transport{
			Base:   waiter,
			Source: source,
		},
		Timeout: timeout,
	}, nil
}

// NewInstallationHTTPClient creates an authenticated HTTP client for one
// GitHub App installation.
func NewInstallationHTTPClient(cfg InstallationAuthConfig) (*http.Client, error) {
	if cfg.AppID <= 0 {
		return nil, fmt.Errorf("app id must be > 0")
	}
	if cfg.InstallationID <= 0 {
		return nil, fmt.Errorf("installation id must be > 0")
	}
	if strings.TrimSpace(cfg.PrivateKeyPath) == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	waiter, err := newRateLimitedTransport(cfg.BaseTransport, cfg.Retry)
	if err != nil {
		return nil, err
	}

	transport, err := ghinstallation.NewKeyFromFile(waiter, cfg.AppID, cfg.InstallationID, cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("create github app transport: %w", err)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}, nil
}

func newRateLimitedTransport(base http.RoundTripper, retry RetryConfig) (http.RoundTripper, error) {
	retrying := NewRetryTransport(base, retry)
	waiter, err := github_ratelimit.NewRateLimitWaiter(retrying, github_ratelimit.WithSingleSleepLimit(time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("create rate limit waiter: %w", err)
	}
	return waiter, nil
}

// NewRESTClient creates a go-github client with optional API base URL override.
func NewRESTClient(httpClient *http.Client, apiBaseURL string) (*github.Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	client := github.NewClient(httpClient)
	trimmedBaseURL := strings.TrimSpace(apiBaseURL)
	if trimmedBaseURL == "" {
		return client, nil
	}

	parsedURL, err := url.Parse(trimmedBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse github api base url: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("parse github api base url: missing scheme or host")
	}
	if !strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path += "/"
	}

	client.BaseURL = parsedURL
	return client, nil
}
