package actions

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/flow"
)

// Sender is the outbound mail port. The real transport (SMTP, an email
// API) lives outside this module.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SendEmail delivers a templated email through the injected sender.
// Delivery failures are retryable: mail infrastructure hiccups resolve
// themselves more often than not.
type SendEmail struct {
	Sender Sender
}

func (a *SendEmail) Execute(ctx context.Context, config map[string]any, _ flow.ContextView) flow.NodeResult {
	to, _ := config["to"].(string)
	subject, _ := config["subject"].(string)
	body, _ := config["body"].(string)
	if to == "" {
		return flow.Failure("send_email: recipient is empty", false)
	}

	if err := a.Sender.Send(ctx, to, subject, body); err != nil {
		return flow.Failure(fmt.Sprintf("send_email: %v", err), true)
	}
	return flow.Success(map[string]any{"sent": true, "to": to})
}

func (a *SendEmail) Schema() []flow.ConfigField {
	return []flow.ConfigField{
		{Name: "to", Type: "text", Label: "To", Required: true},
		{Name: "subject", Type: "text", Label: "Subject", Required: true},
		{Name: "body", Type: "textarea", Label: "Body"},
	}
}
