package flow

import "time"

// NodeType identifies the behavior of a node in a workflow graph.
type NodeType string

const (
	NodeStart     NodeType = "start"
	NodeEnd       NodeType = "end"
	NodeCondition NodeType = "condition"
	NodeAction    NodeType = "action"
	NodeDelay     NodeType = "delay"
)

// WorkflowStatus is the lifecycle state of a workflow definition.
// Only active workflows may be triggered.
type WorkflowStatus string

const (
	WorkflowDraft    WorkflowStatus = "draft"
	WorkflowActive   WorkflowStatus = "active"
	WorkflowArchived WorkflowStatus = "archived"
)

// Position is builder canvas metadata. The engine ignores it.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Node represents one step in a workflow graph.
// ActionID is set only for action nodes and selects a Registry entry.
// Config holds parameter name → value; string values may contain
// {{path}} templates resolved against the execution context.
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	ActionID string         `json:"action_id,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
	Position Position       `json:"position,omitempty"`
}

// Edge represents a directed connection between two nodes.
// OutputIndex selects which logical output of the source node the edge
// follows: 0 is the default/true branch, 1 the false/else branch of a
// condition node.
type Edge struct {
	ID          string `json:"id,omitempty"`
	FromNodeID  string `json:"from_node_id"`
	ToNodeID    string `json:"to_node_id"`
	OutputIndex int    `json:"output_index"`
}

// Workflow is an ordered collection of nodes and edges plus metadata.
// Definitions are snapshotted when an execution starts, so in-flight
// executions never observe concurrent edits.
type Workflow struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    WorkflowStatus `json:"status"`
	Nodes     []Node         `json:"nodes"`
	Edges     []Edge         `json:"edges"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

// Node returns the node with the given id, or nil.
func (w *Workflow) Node(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}
