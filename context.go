package flow

import (
	"fmt"
	"regexp"
	"strconv"
)

// ContextView is the read-only variable environment handed to actions.
type ContextView interface {
	// Get looks up a dotted-path key. Returns false if unset.
	Get(path string) (any, bool)
	// Resolve substitutes every {{path}} token in the template.
	// Unresolved paths become the empty string, never an error.
	Resolve(template string) string
}

var templatePattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Context is the mutable variable environment of one execution:
// submission fields, node outputs, and system values, keyed by dotted
// paths. Keys are write-once per execution; only control-flow internals
// may override. Not safe for concurrent use — an execution is advanced
// by exactly one worker at a time.
type Context struct {
	values map[string]any
}

// NewContext returns an empty environment.
func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

// ContextFromSnapshot restores an environment persisted across a
// suspend. The snapshot is copied.
func ContextFromSnapshot(snapshot map[string]any) *Context {
	c := NewContext()
	for k, v := range snapshot {
		c.values[k] = v
	}
	return c
}

// Seed flattens a payload under a root key: nested maps become dotted
// paths ("submission.address.city"), everything else is stored as-is.
// Seeding overrides silently; it runs once, before any node writes.
func (c *Context) Seed(root string, payload map[string]any) {
	for k, v := range payload {
		key := root + "." + k
		if nested, ok := v.(map[string]any); ok {
			c.Seed(key, nested)
			continue
		}
		c.values[key] = v
	}
}

// Set writes a key. Returns ErrDuplicateKey if a prior node already
// wrote it — a later node must never silently clobber an earlier one.
func (c *Context) Set(key string, value any) error {
	if _, exists := c.values[key]; exists {
		return fmt.Errorf("flow: set %q: %w", key, ErrDuplicateKey)
	}
	c.values[key] = value
	return nil
}

// SetOverride writes a key unconditionally. Reserved for control-flow
// internals such as loop counters and system values.
func (c *Context) SetOverride(key string, value any) {
	c.values[key] = value
}

// SetOutputs records a node's output mapping under "<nodeID>.<key>".
// Re-dispatch of the same node (retry, resume) may rewrite its own
// outputs, so these writes are overrides.
func (c *Context) SetOutputs(nodeID string, outputs map[string]any) {
	for k, v := range outputs {
		c.values[nodeID+"."+k] = v
	}
}

// Get looks up a dotted-path key.
func (c *Context) Get(path string) (any, bool) {
	v, ok := c.values[path]
	return v, ok
}

// Resolve substitutes every {{path}} token in the template with the
// string form of the value at that path. Missing paths substitute the
// empty string: templating degrades, it never aborts a workflow.
func (c *Context) Resolve(template string) string {
	return templatePattern.ReplaceAllStringFunc(template, func(token string) string {
		path := templatePattern.FindStringSubmatch(token)[1]
		v, ok := c.values[path]
		if !ok {
			return ""
		}
		return Stringify(v)
	})
}

// Snapshot returns a copy of the full environment for persistence.
func (c *Context) Snapshot() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Stringify renders a context value for template substitution.
// Floats drop the trailing ".0" JSON decoding gives whole numbers.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}
