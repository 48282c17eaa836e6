package actions

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/flow"
)

// CRMClient is the port to an external CRM. UpsertContact returns the
// CRM's id for the contact, recorded in the ledger as external_id.
type CRMClient interface {
	UpsertContact(ctx context.Context, fields map[string]any) (string, error)
}

// CRMSync pushes submission fields to a CRM contact. Integration
// semantics: attempts are ledgered, failures retried with backoff, and
// an already-synced submission is never sent twice.
type CRMSync struct {
	Client CRMClient
	ID     string // integration id, e.g. "hubspot"; defaults to "crm"
}

func (a *CRMSync) IntegrationID() string {
	if a.ID != "" {
		return a.ID
	}
	return "crm"
}

func (a *CRMSync) Execute(ctx context.Context, config map[string]any, _ flow.ContextView) flow.NodeResult {
	fields, _ := config["fields"].(map[string]any)
	if len(fields) == 0 {
		return flow.Failure("crm_sync: no fields configured", false)
	}

	externalID, err := a.Client.UpsertContact(ctx, fields)
	if err != nil {
		return flow.Failure(fmt.Sprintf("crm_sync: %v", err), true)
	}
	return flow.Success(map[string]any{"external_id": externalID})
}

func (a *CRMSync) Schema() []flow.ConfigField {
	return []flow.ConfigField{
		{Name: "fields", Type: "mapping", Label: "Contact fields", Required: true},
	}
}
