package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldResolutionOrder(t *testing.T) {
	alert := &Alert{
		Name:        "HighCPU",
		Severity:    "critical",
		Attributes:  map[string]any{"env": "prod"},
		Labels:      map[string]string{"env": "staging", "team": "platform"},
		Annotations: map[string]string{"runbook": "https://wiki/runbook"},
		Payload: map[string]any{
			"team": "payload-team",
			"meta": map[string]any{"region": "eu"},
		},
	}

	v, ok := alert.Field("name")
	require.True(t, ok)
	assert.Equal(t, "HighCPU", v)

	// Attributes win over Labels.
	v, ok = alert.Field("env")
	require.True(t, ok)
	assert.Equal(t, "prod", v)

	// Labels win over Payload.
	v, ok = alert.Field("team")
	require.True(t, ok)
	assert.Equal(t, "platform", v)

	v, ok = alert.Field("runbook")
	require.True(t, ok)
	assert.Equal(t, "https://wiki/runbook", v)

	// Dot-path descent into the payload.
	v, ok = alert.Field("meta.region")
	require.True(t, ok)
	assert.Equal(t, "eu", v)

	_, ok = alert.Field("nope")
	assert.False(t, ok)
}

func TestFieldFlatKeyWinsOverNestedDescent(t *testing.T) {
	alert := &Alert{
		Payload: map[string]any{
			"meta.region": "flat",
			"meta":        map[string]any{"region": "nested"},
		},
	}

	v, ok := alert.Field("meta.region")
	require.True(t, ok)
	assert.Equal(t, "flat", v)
}

func TestStringFieldMissingIsEmpty(t *testing.T) {
	alert := &Alert{Name: "x"}
	assert.Equal(t, "", alert.StringField("missing"))
	assert.Equal(t, "", alert.StringField("severity"))
}

func TestStringFieldJoinsSources(t *testing.T) {
	alert := &Alert{Source: []string{"a", "b"}}
	assert.Equal(t, "a,b", alert.StringField("source"))
}

func TestFieldMapSourceSemantics(t *testing.T) {
	alert := &Alert{
		Name:   "HighCPU",
		Source: []string{"host-1", "host-2"},
	}

	m := alert.FieldMap()
	assert.Equal(t, "host-1", m["source"], "source must be the first element")
	assert.Equal(t, []string{"host-1", "host-2"}, m["sources"])

	empty := &Alert{Name: "x"}
	assert.Equal(t, "", empty.FieldMap()["source"])
}

func TestCloneIsDeep(t *testing.T) {
	alert := &Alert{
		Name:        "HighCPU",
		Source:      []string{"host-1"},
		Labels:      map[string]string{"team": "platform"},
		Annotations: map[string]string{"note": "orig"},
		Attributes:  map[string]any{"env": "prod"},
		Payload: map[string]any{
			"meta": map[string]any{"region": "eu"},
		},
	}

	c := alert.Clone()
	c.Source[0] = "other"
	c.Labels["team"] = "other"
	c.Annotations["note"] = "other"
	c.Attributes["env"] = "other"
	c.Payload["meta"].(map[string]any)["region"] = "us"

	assert.Equal(t, "host-1", alert.Source[0])
	assert.Equal(t, "platform", alert.Labels["team"])
	assert.Equal(t, "orig", alert.Annotations["note"])
	assert.Equal(t, "prod", alert.Attributes["env"])
	assert.Equal(t, "eu", alert.Payload["meta"].(map[string]any)["region"])
}

func TestSetAttributeInitializesMap(t *testing.T) {
	alert := &Alert{}
	alert.SetAttribute("service", "checkout")
	assert.Equal(t, "checkout", alert.Attributes["service"])
}
