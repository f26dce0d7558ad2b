// Package notify delivers sync-completion messages over the channels a
// user has enabled. Every channel is best-effort; callers decide how to
// record failures.
package notify

import (
	"context"
	"net/http"
	"time"
)

// Channel delivers a plain-text message to one destination.
type Channel interface {
	// Name identifies the channel in logs and metrics.
	Name() string
	// ValidateDestination reports whether dest is acceptable for this
	// channel. Send is never called with a destination that fails
	// validation.
	ValidateDestination(dest string) bool
	Send(ctx context.Context, dest string, text string) error
}

const defaultHTTPTimeout = 10 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}
