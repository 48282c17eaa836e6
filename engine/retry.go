package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/meikuraledutech/flow"
)

// Suspend reasons recorded in history. The scheduler treats both the
// same way; the engine distinguishes a served delay from a retry wait.
const (
	reasonScheduledDelay = "scheduled delay"
	reasonRetry          = "retry"
)

// runIntegration wraps an integration action with the sync ledger and
// the retry/backoff discipline. Every attempt appends one ledger row;
// retryable failures below the attempt budget suspend the execution
// through the same waiting channel as delay nodes.
func (e *Engine) runIntegration(ctx context.Context, exec *flow.Execution, node *flow.Node, integ flow.Integration, config map[string]any, cstore *flow.Context) flow.NodeResult {
	integrationID := integ.IntegrationID()
	attempt := exec.AttemptCounters[node.ID] + 1

	// Duplicate suppression: a prior success means the external system
	// already has the data. Record the skip and short-circuit.
	prior, err := e.ledger.LatestStatus(ctx, exec.SubmissionID, integrationID)
	if err != nil {
		e.log.Warn().Err(err).Str("execution_id", exec.ID).Str("integration_id", integrationID).
			Msg("ledger lookup failed, dispatching without duplicate suppression")
	} else if prior != nil && prior.Status == flow.SyncSuccess {
		e.recordSync(ctx, exec, integrationID, flow.SyncRecord{
			Status:        flow.SyncSkipped,
			ExternalID:    prior.ExternalID,
			AttemptNumber: attempt,
		})
		return flow.Success(map[string]any{"external_id": prior.ExternalID, "skipped": true})
	}

	res := e.invoke(ctx, integ, config, cstore)

	switch res.Status {
	case flow.ResultSuccess:
		externalID, _ := res.Output["external_id"].(string)
		e.recordSync(ctx, exec, integrationID, flow.SyncRecord{
			Status:        flow.SyncSuccess,
			ExternalID:    externalID,
			AttemptNumber: attempt,
		})
		return res

	case flow.ResultFailure:
		e.recordSync(ctx, exec, integrationID, flow.SyncRecord{
			Status:        flow.SyncFailed,
			ErrorMessage:  res.Message,
			AttemptNumber: attempt,
		})
		if !res.Retryable {
			return res
		}
		return e.backoff(exec, node.ID, res)

	default:
		return res
	}
}

// backoff applies the exponential retry schedule for one node of one
// execution: attempt n waits base * 2^n. Counters are scoped to the
// execution and reset naturally when a workflow is re-triggered for a
// new submission. An exhausted budget returns the original failure
// unmodified and the execution fails.
func (e *Engine) backoff(exec *flow.Execution, nodeID string, failure flow.NodeResult) flow.NodeResult {
	attempts := exec.AttemptCounters[nodeID]
	if attempts >= e.retry.MaxAttempts {
		return failure
	}
	delay := e.retry.BaseDelay << attempts
	if exec.AttemptCounters == nil {
		exec.AttemptCounters = make(map[string]int)
	}
	exec.AttemptCounters[nodeID] = attempts + 1

	e.log.Info().Str("execution_id", exec.ID).Str("node_id", nodeID).
		Int("attempt", attempts+1).Dur("delay", delay).Msg("retry scheduled")
	return flow.Waiting(delay, reasonRetry)
}

func (e *Engine) recordSync(ctx context.Context, exec *flow.Execution, integrationID string, r flow.SyncRecord) {
	r.ID = uuid.NewString()
	r.SubmissionID = exec.SubmissionID
	r.IntegrationID = integrationID
	r.SyncedAt = e.clock.Now()
	if _, err := e.ledger.Record(ctx, &r); err != nil {
		// Ledger writes are best effort: a failed audit row must not
		// fail the node.
		e.log.Error().Err(err).Str("execution_id", exec.ID).
			Str("integration_id", integrationID).Msg("sync ledger append failed")
	}
}
