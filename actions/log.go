// Package actions ships the built-in workflow actions: logging, email,
// webhook delivery and CRM sync. They double as reference
// implementations of the flow.Action and flow.Integration contracts.
package actions

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/meikuraledutech/flow"
)

// Log writes the configured message to the application log. The message
// is a template, so "{{submission.email}} signed up" works as expected.
type Log struct {
	Logger zerolog.Logger
}

func (a *Log) Execute(_ context.Context, config map[string]any, _ flow.ContextView) flow.NodeResult {
	message, _ := config["message"].(string)
	level, _ := config["level"].(string)

	evt := a.Logger.Info()
	if level == "warn" {
		evt = a.Logger.Warn()
	}
	evt.Msg(message)

	return flow.Success(map[string]any{"logged": true})
}

func (a *Log) Schema() []flow.ConfigField {
	return []flow.ConfigField{
		{Name: "message", Type: "text", Label: "Message", Required: true},
		{Name: "level", Type: "select", Label: "Level"},
	}
}
