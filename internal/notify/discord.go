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

var discordWebhookPattern = regexp.MustCompile(`^https://(discord\.com|discordapp\.com)/api/webhooks/[0-9]+/[A-Za-z0-9_-]+$`)

// DiscordChannel posts messages to a Discord webhook.
type DiscordChannel struct {
	httpClient      *http.Client
	baseURLOverride string
}

// NewDiscordChannel creates a Discord channel with the given request
// timeout.
func NewDiscordChannel(timeout time.Duration) *DiscordChannel {
	return &DiscordChannel{httpClient: newHTTPClient(timeout)}
}

func (c *DiscordChannel) Name() string { return "discord" }

func (c *DiscordChannel) ValidateDestination(dest string) bool {
	return discordWebhookPattern.MatchString(dest)
}

func (c *DiscordChannel) Send(ctx context.Context, dest string, text string) error {
	if !c.ValidateDestination(dest) {
		return apperror.InvalidDestination("discord", dest)
	}
	url := dest
	if c.baseURLOverride != "" {
		url = c.baseURLOverride
	}

	payload, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return fmt.Errorf("encoding discord payload: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building discord request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("posting to discord webhook: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned status %d", response.StatusCode)
	}
	return nil
}
