package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWriteOnce(t *testing.T) {
	c := NewContext()

	require.NoError(t, c.Set("email", "a@example.com"))

	err := c.Set("email", "b@example.com")
	require.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, "a@example.com", c.Resolve("{{email}}"))

	c.SetOverride("email", "b@example.com")
	assert.Equal(t, "b@example.com", c.Resolve("{{email}}"))
}

func TestResolveMissingPathDegradesToEmptyString(t *testing.T) {
	c := NewContext()
	assert.Equal(t, "", c.Resolve("{{missing.path}}"))
	assert.Equal(t, "before  after", c.Resolve("before {{missing.path}} after"))
}

func TestResolveSubstitutesValues(t *testing.T) {
	c := NewContext()
	c.SetOverride("submission.name", "Ada")
	c.SetOverride("submission.age", float64(21))
	c.SetOverride("submission.subscribed", true)

	assert.Equal(t, "Ada is 21", c.Resolve("{{submission.name}} is {{submission.age}}"))
	assert.Equal(t, "subscribed: true", c.Resolve("subscribed: {{submission.subscribed}}"))
	assert.Equal(t, "Ada", c.Resolve("{{ submission.name }}"), "whitespace inside braces is tolerated")
	assert.Equal(t, "no tokens here", c.Resolve("no tokens here"))
}

func TestSeedFlattensNestedPayload(t *testing.T) {
	c := NewContext()
	c.Seed("submission", map[string]any{
		"email": "a@example.com",
		"address": map[string]any{
			"city": "Berlin",
			"geo":  map[string]any{"lat": 52.5},
		},
	})

	v, ok := c.Get("submission.email")
	require.True(t, ok)
	assert.Equal(t, "a@example.com", v)

	v, ok = c.Get("submission.address.city")
	require.True(t, ok)
	assert.Equal(t, "Berlin", v)

	assert.Equal(t, "52.5", c.Resolve("{{submission.address.geo.lat}}"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.Set("a", "1"))
	require.NoError(t, c.Set("b", float64(2)))

	snap := c.Snapshot()
	snap["a"] = "mutated"

	// Snapshot is a copy, not a view.
	assert.Equal(t, "1", c.Resolve("{{a}}"))

	restored := ContextFromSnapshot(c.Snapshot())
	assert.Equal(t, "1", restored.Resolve("{{a}}"))
	assert.Equal(t, "2", restored.Resolve("{{b}}"))
	require.ErrorIs(t, restored.Set("a", "x"), ErrDuplicateKey)
}

func TestSetOutputsAllowsNodeRewrite(t *testing.T) {
	c := NewContext()
	c.SetOutputs("sync", map[string]any{"external_id": "crm-1"})
	// A retried node may rewrite its own outputs.
	c.SetOutputs("sync", map[string]any{"external_id": "crm-2"})
	assert.Equal(t, "crm-2", c.Resolve("{{sync.external_id}}"))
}
