package flow

import "fmt"

// Violation names one broken structural invariant found by Validate.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func violation(rule, format string, args ...any) Violation {
	return Violation{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// Graph is an indexed, read-only view over a workflow snapshot.
// Built once per snapshot; all methods are pure lookups.
type Graph struct {
	workflow *Workflow
	nodes    map[string]*Node
	outgoing map[string]map[int]string // from node id → output index → to node id
	incoming map[string]int            // to node id → incoming edge count
	start    *Node
}

// NewGraph indexes a workflow snapshot. It does not validate; call
// Validate before executing.
func NewGraph(w *Workflow) *Graph {
	g := &Graph{
		workflow: w,
		nodes:    make(map[string]*Node, len(w.Nodes)),
		outgoing: make(map[string]map[int]string, len(w.Nodes)),
		incoming: make(map[string]int),
	}
	for i := range w.Nodes {
		n := &w.Nodes[i]
		g.nodes[n.ID] = n
		if n.Type == NodeStart && g.start == nil {
			g.start = n
		}
	}
	for _, e := range w.Edges {
		out, ok := g.outgoing[e.FromNodeID]
		if !ok {
			out = make(map[int]string)
			g.outgoing[e.FromNodeID] = out
		}
		if _, taken := out[e.OutputIndex]; !taken {
			out[e.OutputIndex] = e.ToNodeID
		}
		g.incoming[e.ToNodeID]++
	}
	return g
}

// Start returns the start node, or nil if the workflow has none.
func (g *Graph) Start() *Node { return g.start }

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node { return g.nodes[id] }

// NextNode resolves the outgoing edge of a node for the given output
// index. Returns "" if no such edge exists.
func (g *Graph) NextNode(nodeID string, outputIndex int) string {
	return g.outgoing[nodeID][outputIndex]
}

// Validate checks the structural invariants of the workflow and returns
// every violation found rather than stopping at the first. A nil
// registry skips action resolvability (used on save, before actions are
// known); the engine passes its registry for the pre-execution check.
func (g *Graph) Validate(reg *Registry) []Violation {
	var out []Violation

	starts := 0
	ends := 0
	seen := make(map[string]bool, len(g.workflow.Nodes))
	for _, n := range g.workflow.Nodes {
		if seen[n.ID] {
			out = append(out, violation("unique-node-id", "duplicate node id %q", n.ID))
		}
		seen[n.ID] = true
		switch n.Type {
		case NodeStart:
			starts++
			if g.incoming[n.ID] > 0 {
				out = append(out, violation("start-no-incoming", "start node %q has incoming edges", n.ID))
			}
		case NodeEnd:
			ends++
			if len(g.outgoing[n.ID]) > 0 {
				out = append(out, violation("end-no-outgoing", "end node %q has outgoing edges", n.ID))
			}
		case NodeAction:
			if n.ActionID == "" {
				out = append(out, violation("action-id-required", "action node %q has no action_id", n.ID))
			} else if reg != nil {
				if _, ok := reg.Resolve(n.ActionID); !ok {
					out = append(out, violation("action-resolvable", "action node %q references unknown action %q", n.ID, n.ActionID))
				}
			}
		case NodeCondition, NodeDelay:
		default:
			out = append(out, violation("known-node-type", "node %q has unknown type %q", n.ID, n.Type))
		}
	}
	if starts != 1 {
		out = append(out, violation("single-start", "workflow must have exactly one start node, found %d", starts))
	}
	if ends == 0 {
		out = append(out, violation("end-required", "workflow has no end node"))
	}

	indexTaken := make(map[string]map[int]bool)
	for _, e := range g.workflow.Edges {
		if e.FromNodeID == e.ToNodeID {
			out = append(out, violation("no-self-loop", "edge %q → %q is a self-loop", e.FromNodeID, e.ToNodeID))
		}
		if !seen[e.FromNodeID] {
			out = append(out, violation("edge-endpoints", "edge references unknown from node %q", e.FromNodeID))
		}
		if !seen[e.ToNodeID] {
			out = append(out, violation("edge-endpoints", "edge references unknown to node %q", e.ToNodeID))
		}
		taken, ok := indexTaken[e.FromNodeID]
		if !ok {
			taken = make(map[int]bool)
			indexTaken[e.FromNodeID] = taken
		}
		if taken[e.OutputIndex] {
			out = append(out, violation("one-edge-per-output", "node %q has two edges for output index %d", e.FromNodeID, e.OutputIndex))
		}
		taken[e.OutputIndex] = true
	}

	if g.start != nil && ends > 0 && !g.endReachable() {
		out = append(out, violation("end-reachable", "no end node is reachable from start node %q", g.start.ID))
	}

	if id := g.findCycle(); id != "" {
		out = append(out, violation("cycle-detected", "workflow contains a cycle through node %q", id))
	}

	return out
}

// findCycle returns the id of a node on a directed cycle, or "". Every
// edge participates regardless of output index: a loop only one
// condition branch can re-enter would still pin the interpreter, so it
// is rejected before execution.
func (g *Graph) findCycle() string {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(g.nodes))
	var walk func(id string) string
	walk = func(id string) string {
		state[id] = visiting
		for _, to := range g.outgoing[id] {
			switch state[to] {
			case visiting:
				return to
			case done:
			default:
				if hit := walk(to); hit != "" {
					return hit
				}
			}
		}
		state[id] = done
		return ""
	}
	for id := range g.nodes {
		if state[id] == 0 {
			if hit := walk(id); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// endReachable walks from the start node over every output edge.
func (g *Graph) endReachable() bool {
	visited := make(map[string]bool)
	stack := []string{g.start.ID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		if n := g.nodes[id]; n != nil && n.Type == NodeEnd {
			return true
		}
		for _, to := range g.outgoing[id] {
			stack = append(stack, to)
		}
	}
	return false
}
