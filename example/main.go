package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/rs/zerolog"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/actions"
	"github.com/meikuraledutech/flow/engine"
	"github.com/meikuraledutech/flow/memory"
)

// recordingCRM stands in for a real CRM client.
type recordingCRM struct{ upserts int }

func (c *recordingCRM) UpsertContact(_ context.Context, fields map[string]any) (string, error) {
	c.upserts++
	return fmt.Sprintf("crm-contact-%d", c.upserts), nil
}

func main() {
	ctx := context.Background()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	store := memory.New()
	crm := &recordingCRM{}

	registry := flow.NewRegistry()
	if err := registry.Register("log", &actions.Log{Logger: logger}); err != nil {
		log.Fatalf("register log action: %v", err)
	}
	if err := registry.Register("crm_sync", &actions.CRMSync{Client: crm}); err != nil {
		log.Fatalf("register crm_sync action: %v", err)
	}
	registry.Freeze()

	eng, err := engine.New(engine.Config{
		Workflows:  store,
		Executions: store,
		Ledger:     store,
		Registry:   registry,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	// start → condition(age > 18) → [true: crm_sync → end]
	//                               [false: log → end]
	w := &flow.Workflow{
		ID:     "adult-signup",
		Name:   "Adult signup",
		Status: flow.WorkflowActive,
		Nodes: []flow.Node{
			{ID: "start", Type: flow.NodeStart},
			{ID: "check-age", Type: flow.NodeCondition, Config: map[string]any{
				"conditions": []any{
					map[string]any{"field": "submission.age", "operator": "greater_than", "value": 18},
				},
			}},
			{ID: "sync", Type: flow.NodeAction, ActionID: "crm_sync", Config: map[string]any{
				"fields": map[string]any{"email": "{{submission.email}}", "age": "{{submission.age}}"},
			}},
			{ID: "note", Type: flow.NodeAction, ActionID: "log", Config: map[string]any{
				"message": "submission {{submission.email}} skipped: under age",
			}},
			{ID: "end", Type: flow.NodeEnd},
		},
		Edges: []flow.Edge{
			{FromNodeID: "start", ToNodeID: "check-age"},
			{FromNodeID: "check-age", ToNodeID: "sync", OutputIndex: 0},
			{FromNodeID: "check-age", ToNodeID: "note", OutputIndex: 1},
			{FromNodeID: "sync", ToNodeID: "end"},
			{FromNodeID: "note", ToNodeID: "end"},
		},
	}
	if _, err := store.SaveWorkflow(ctx, w); err != nil {
		log.Fatalf("save workflow: %v", err)
	}

	for _, submission := range []map[string]any{
		{"email": "ada@example.com", "age": 33},
		{"email": "kid@example.com", "age": 10},
	} {
		execID, err := eng.StartExecution(ctx, "adult-signup", fmt.Sprint(submission["email"]), submission)
		if err != nil {
			log.Fatalf("trigger: %v", err)
		}

		e, _ := store.GetExecution(ctx, execID)
		fmt.Printf("\nexecution %s finished as %s, path:\n", execID, e.Status)
		for _, h := range e.History {
			fmt.Printf("  %-10s %-9s output=%d %s\n", h.NodeID, h.Status, h.OutputIndex, h.Message)
		}
	}

	records, _ := store.History(ctx, "ada@example.com")
	fmt.Println("\nsync ledger for ada@example.com:")
	for _, r := range records {
		fmt.Printf("  attempt %d via %s: %s (external_id=%s)\n",
			r.AttemptNumber, r.IntegrationID, r.Status, r.ExternalID)
	}
}
