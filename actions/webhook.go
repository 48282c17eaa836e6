package actions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/meikuraledutech/flow"
)

// Webhook POSTs the configured payload as JSON to an external endpoint.
// It is an integration: every delivery attempt lands in the sync ledger
// and 5xx/network failures are retried with backoff. 4xx responses are
// not retried — the request won't get better on its own.
type Webhook struct {
	Client *http.Client
}

func (a *Webhook) IntegrationID() string { return "webhook" }

func (a *Webhook) Execute(ctx context.Context, config map[string]any, _ flow.ContextView) flow.NodeResult {
	url, _ := config["url"].(string)
	if url == "" {
		return flow.Failure("webhook: url is empty", false)
	}

	payload := config["payload"]
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return flow.Failure(fmt.Sprintf("webhook: encode payload: %v", err), false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return flow.Failure(fmt.Sprintf("webhook: build request: %v", err), false)
	}
	req.Header.Set("Content-Type", "application/json")

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return flow.Failure(fmt.Sprintf("webhook: %v", err), true)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return flow.Success(map[string]any{"status_code": resp.StatusCode})
	case resp.StatusCode >= 500:
		return flow.Failure(fmt.Sprintf("webhook: endpoint returned %d", resp.StatusCode), true)
	default:
		return flow.Failure(fmt.Sprintf("webhook: endpoint returned %d", resp.StatusCode), false)
	}
}

func (a *Webhook) Schema() []flow.ConfigField {
	return []flow.ConfigField{
		{Name: "url", Type: "text", Label: "URL", Required: true},
		{Name: "payload", Type: "json", Label: "Payload"},
	}
}
