package actions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flow"
)

type fakeSender struct {
	to, subject, body string
	err               error
}

func (s *fakeSender) Send(_ context.Context, to, subject, body string) error {
	s.to, s.subject, s.body = to, subject, body
	return s.err
}

func TestSendEmail(t *testing.T) {
	sender := &fakeSender{}
	a := &SendEmail{Sender: sender}

	res := a.Execute(context.Background(), map[string]any{
		"to": "ada@example.com", "subject": "hi", "body": "welcome",
	}, nil)
	require.Equal(t, flow.ResultSuccess, res.Status)
	assert.Equal(t, "ada@example.com", sender.to)
	assert.Equal(t, "hi", sender.subject)

	res = a.Execute(context.Background(), map[string]any{"subject": "hi"}, nil)
	require.Equal(t, flow.ResultFailure, res.Status)
	assert.False(t, res.Retryable, "empty recipient will not improve on retry")

	sender.err = errors.New("smtp connect refused")
	res = a.Execute(context.Background(), map[string]any{"to": "x@example.com"}, nil)
	require.Equal(t, flow.ResultFailure, res.Status)
	assert.True(t, res.Retryable)
}

func TestWebhookDelivery(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := &Webhook{Client: srv.Client()}
	res := a.Execute(context.Background(), map[string]any{
		"url":     srv.URL,
		"payload": map[string]any{"email": "ada@example.com"},
	}, nil)

	require.Equal(t, flow.ResultSuccess, res.Status)
	assert.Equal(t, 200, res.Output["status_code"])
	assert.Equal(t, "ada@example.com", received["email"])
	assert.Equal(t, "webhook", a.IntegrationID())
}

func TestWebhookStatusCodeHandling(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		retryable bool
	}{
		{"server error retries", http.StatusBadGateway, true},
		{"client error does not retry", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			a := &Webhook{Client: srv.Client()}
			res := a.Execute(context.Background(), map[string]any{"url": srv.URL}, nil)
			require.Equal(t, flow.ResultFailure, res.Status)
			assert.Equal(t, tt.retryable, res.Retryable)
		})
	}
}

func TestWebhookConnectionFailureIsRetryable(t *testing.T) {
	a := &Webhook{}
	res := a.Execute(context.Background(), map[string]any{"url": "http://127.0.0.1:1/nope"}, nil)
	require.Equal(t, flow.ResultFailure, res.Status)
	assert.True(t, res.Retryable)
}

func TestWebhookRequiresURL(t *testing.T) {
	a := &Webhook{}
	res := a.Execute(context.Background(), map[string]any{}, nil)
	require.Equal(t, flow.ResultFailure, res.Status)
	assert.False(t, res.Retryable)
}

type fakeCRM struct {
	fields map[string]any
	err    error
}

func (c *fakeCRM) UpsertContact(_ context.Context, fields map[string]any) (string, error) {
	c.fields = fields
	return "crm-9", c.err
}

func TestCRMSync(t *testing.T) {
	crm := &fakeCRM{}
	a := &CRMSync{Client: crm}
	assert.Equal(t, "crm", a.IntegrationID())

	res := a.Execute(context.Background(), map[string]any{
		"fields": map[string]any{"email": "ada@example.com"},
	}, nil)
	require.Equal(t, flow.ResultSuccess, res.Status)
	assert.Equal(t, "crm-9", res.Output["external_id"])
	assert.Equal(t, "ada@example.com", crm.fields["email"])

	res = a.Execute(context.Background(), map[string]any{}, nil)
	require.Equal(t, flow.ResultFailure, res.Status)
	assert.False(t, res.Retryable)

	crm.err = errors.New("rate limited")
	res = a.Execute(context.Background(), map[string]any{
		"fields": map[string]any{"email": "x@example.com"},
	}, nil)
	require.Equal(t, flow.ResultFailure, res.Status)
	assert.True(t, res.Retryable)
}

func TestCRMSyncCustomIntegrationID(t *testing.T) {
	a := &CRMSync{Client: &fakeCRM{}, ID: "hubspot"}
	assert.Equal(t, "hubspot", a.IntegrationID())
}

func TestLogAction(t *testing.T) {
	a := &Log{Logger: zerolog.Nop()}
	res := a.Execute(context.Background(), map[string]any{"message": "hello"}, nil)
	require.Equal(t, flow.ResultSuccess, res.Status)
	assert.Equal(t, true, res.Output["logged"])
}
