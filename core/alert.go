package core

import (
	"fmt"
	"strings"
	"time"
)

// Alert statuses as delivered by the ingestion layer. The pipeline treats
// status as an opaque string; these constants exist for tests and defaults.
const (
	AlertStatusFiring   = "firing"
	AlertStatusResolved = "resolved"
)

// Alert is the normalized record flowing through the enrichment pipeline.
// It is mutable while the pipeline runs and must be treated as immutable
// once handed downstream.
type Alert struct {
	ID          string            `json:"id"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Name        string            `json:"name"`
	Status      string            `json:"status"`
	Severity    string            `json:"severity"`
	Source      []string          `json:"source"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`

	// Attributes holds fields derived by mapping and extraction rules.
	// Kept separate from Labels/Annotations so enrichment never clobbers
	// provider-supplied metadata.
	Attributes map[string]any `json:"attributes,omitempty"`

	// Payload is the untouched provider body. The pipeline reads it for
	// fingerprinting and field resolution but never mutates it.
	Payload map[string]any `json:"payload,omitempty"`

	ProviderType string    `json:"provider_type,omitempty"`
	ProviderID   string    `json:"provider_id,omitempty"`
	ReceivedAt   time.Time `json:"received_at,omitempty"`
}

// Field resolves a dot-path against the alert. Resolution order: built-in
// fields, Attributes, Labels, Annotations, then a nested descent into
// Payload. Returns false when the path resolves to nothing.
func (a *Alert) Field(path string) (any, bool) {
	switch path {
	case "id":
		return a.ID, a.ID != ""
	case "fingerprint":
		return a.Fingerprint, a.Fingerprint != ""
	case "name":
		return a.Name, a.Name != ""
	case "status":
		return a.Status, a.Status != ""
	case "severity":
		return a.Severity, a.Severity != ""
	case "provider_type":
		return a.ProviderType, a.ProviderType != ""
	case "provider_id":
		return a.ProviderID, a.ProviderID != ""
	case "source":
		if len(a.Source) == 0 {
			return nil, false
		}
		return a.Source, true
	}

	if v, ok := a.Attributes[path]; ok {
		return v, true
	}
	if v, ok := a.Labels[path]; ok {
		return v, true
	}
	if v, ok := a.Annotations[path]; ok {
		return v, true
	}
	return lookupPath(a.Payload, path)
}

// StringField resolves a dot-path and renders the value as a string.
// Missing fields render as the empty string, never an error; the
// fingerprint calculator depends on this.
func (a *Alert) StringField(path string) string {
	v, ok := a.Field(path)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// SetAttribute records an enrichment-derived field on the alert.
func (a *Alert) SetAttribute(key string, value any) {
	if a.Attributes == nil {
		a.Attributes = make(map[string]any)
	}
	a.Attributes[key] = value
}

// FieldMap flattens the alert into the evaluation map used by templates
// and boolean expressions. `source` is exposed as the first element of the
// source sequence; the full sequence is available as `sources`.
func (a *Alert) FieldMap() map[string]any {
	m := make(map[string]any, 8+len(a.Labels)+len(a.Annotations)+len(a.Attributes))
	for k, v := range a.Payload {
		m[k] = v
	}
	for k, v := range a.Labels {
		m[k] = v
	}
	for k, v := range a.Annotations {
		m[k] = v
	}
	for k, v := range a.Attributes {
		m[k] = v
	}
	m["id"] = a.ID
	m["name"] = a.Name
	m["status"] = a.Status
	m["severity"] = a.Severity
	if a.Fingerprint != "" {
		m["fingerprint"] = a.Fingerprint
	}
	if a.ProviderType != "" {
		m["provider_type"] = a.ProviderType
	}
	if a.ProviderID != "" {
		m["provider_id"] = a.ProviderID
	}
	m["sources"] = a.Source
	if len(a.Source) > 0 {
		m["source"] = a.Source[0]
	} else {
		m["source"] = ""
	}
	return m
}

// Clone returns a deep copy of the alert. The orchestrator snapshots the
// inbound alert so an aborted enrichment can hand back the pre-enrichment
// form with an error marker.
func (a *Alert) Clone() *Alert {
	c := *a
	c.Source = append([]string(nil), a.Source...)
	c.Labels = copyStringMap(a.Labels)
	c.Annotations = copyStringMap(a.Annotations)
	if a.Attributes != nil {
		c.Attributes = make(map[string]any, len(a.Attributes))
		for k, v := range a.Attributes {
			c.Attributes[k] = v
		}
	}
	if a.Payload != nil {
		c.Payload = copyAnyMap(a.Payload)
	}
	return &c
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = copyAnyMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// lookupPath descends a nested string-keyed map by dot-path. A flat key
// containing dots wins over a nested descent when both exist.
func lookupPath(m map[string]any, path string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
