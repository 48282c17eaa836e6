package flow

import "time"

// ResultStatus tags the outcome of one node dispatch.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
	ResultWaiting ResultStatus = "waiting"
)

// NodeResult is the tagged outcome of executing one node. The engine
// switches exhaustively on Status; the remaining fields are meaningful
// only for their status:
//
//	Success — Output, OutputIndex (condition branch selection)
//	Failure — Message, Retryable
//	Waiting — ResumeAfter, Reason
//
// Only action and delay nodes may return Waiting; condition nodes only
// ever return Success carrying the chosen OutputIndex.
type NodeResult struct {
	Status      ResultStatus   `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	OutputIndex int            `json:"output_index,omitempty"`
	Message     string         `json:"message,omitempty"`
	Retryable   bool           `json:"retryable,omitempty"`
	ResumeAfter time.Duration  `json:"resume_after,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// Success returns a successful result carrying the node's outputs.
func Success(output map[string]any) NodeResult {
	return NodeResult{Status: ResultSuccess, Output: output}
}

// Branch returns a successful condition result selecting an output edge.
func Branch(outputIndex int) NodeResult {
	return NodeResult{Status: ResultSuccess, OutputIndex: outputIndex}
}

// Failure returns a failed result. Retryable failures are re-attempted
// with exponential backoff for integration actions.
func Failure(message string, retryable bool) NodeResult {
	return NodeResult{Status: ResultFailure, Message: message, Retryable: retryable}
}

// Waiting suspends the execution and schedules a resume at the same
// node after the given delay.
func Waiting(resumeAfter time.Duration, reason string) NodeResult {
	return NodeResult{Status: ResultWaiting, ResumeAfter: resumeAfter, Reason: reason}
}
