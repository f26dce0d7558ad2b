package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/Ad1tya-007/prodlines/internal/apperror"
)

var slackWebhookPattern = regexp.MustCompile(`^https://hooks\.slack\.com/services/[A-Za-z0-9/_-]+$`)

// SlackChannel posts messages to a Slack incoming webhook.
type SlackChannel struct {
	httpClient *http.Client
	// baseURLOverride redirects requests in tests.
	baseURLOverride string
}

// NewSlackChannel creates a Slack channel with the given request timeout.
func NewSlackChannel(timeout time.Duration) *SlackChannel {
	return &SlackChannel{httpClient: newHTTPClient(timeout)}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) ValidateDestination(dest string) bool {
	return slackWebhookPattern.MatchString(dest)
}

func (c *SlackChannel) Send(ctx context.Context, dest string, text string) error {
	if !c.ValidateDestination(dest) {
		return apperror.InvalidDestination("slack", dest)
	}
	url := dest
	if c.baseURLOverride != "" {
		url = c.baseURLOverride
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("encoding slack payload: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building slack request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("posting to slack webhook: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", response.StatusCode)
	}
	return nil
}
