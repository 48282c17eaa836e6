package flow

import "context"

// ConfigField describes one parameter of an action's configuration.
// Consumed by the builder UI only — the engine never inspects schemas.
type ConfigField struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Label         string `json:"label"`
	Required      bool   `json:"required"`
	ConditionalOn string `json:"conditional_on,omitempty"`
}

// Action is the contract every workflow action implements. Execute
// receives the node config with all string values already resolved
// against the execution context, plus a read-only context view.
// Implementations are treated as untrusted black boxes: they may be
// slow, may fail, and may panic — the engine contains all of it.
type Action interface {
	Execute(ctx context.Context, config map[string]any, view ContextView) NodeResult
	Schema() []ConfigField
}

// Integration marks an action that syncs to an external system (CRM,
// spreadsheet, webhook). The engine wraps integration dispatch with
// retry/backoff and records every attempt in the sync ledger under the
// returned id. External systems are not naturally idempotent, so a
// prior success short-circuits re-dispatch.
type Integration interface {
	Action
	IntegrationID() string
}
