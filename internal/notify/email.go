package notify

import (
	"context"
	"strings"
)

// EmailSender abstracts the outbound mail provider. The process does not
// speak SMTP itself; deployments inject whatever relay they run.
type EmailSender interface {
	SendEmail(ctx context.Context, to string, subject string, body string) error
}

// EmailChannel delivers messages through an injected EmailSender.
type EmailChannel struct {
	sender  EmailSender
	subject string
}

// NewEmailChannel creates an email channel. sender may be nil, in which
// case every destination is rejected and the channel is effectively off.
func NewEmailChannel(sender EmailSender) *EmailChannel {
	return &EmailChannel{sender: sender, subject: "Repository stats updated"}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) ValidateDestination(dest string) bool {
	if c.sender == nil {
		return false
	}
	at := strings.Index(dest, "@")
	return at > 0 && at < len(dest)-1 && !strings.ContainsAny(dest, " \t\n")
}

func (c *EmailChannel) Send(ctx context.Context, dest string, text string) error {
	return c.sender.SendEmail(ctx, dest, c.subject, text)
}
