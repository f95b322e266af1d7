package core

import "time"

// WildcardValue is the mapping-row sentinel that matches any alert value
// for its field.
const WildcardValue = "*"

// Mapping rule types. Manual rules carry operator-entered rows; topology
// rules carry rows derived from an external topology source.
const (
	MappingRuleTypeCSV      = "csv"
	MappingRuleTypeTopology = "topology"
)

// MappingRule is a tenant-defined lookup table. Matchers is a list of
// alternative matcher groups: every field in a group must match a row
// (AND), any group may win (OR). Rows live in storage, ordered by
// position; row values may use WildcardValue as a catch-all.
type MappingRule struct {
	ID       string `json:"id" validate:"required"`
	TenantID string `json:"tenant_id" validate:"required"`
	Name     string `json:"name"`
	Type     string `json:"type" validate:"oneof=csv topology"`

	// Priority orders rule evaluation within a tenant, higher first.
	// Ties break by creation order.
	Priority int `json:"priority"`

	Matchers [][]string `json:"matchers" validate:"required,min=1,dive,min=1"`

	// IsMultiLevel rules resolve many candidate values for a single field
	// in one pass; the resulting sub-object is attached to the alert
	// under NewPropertyName.
	IsMultiLevel    bool   `json:"is_multi_level"`
	NewPropertyName string `json:"new_property_name,omitempty"`

	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MappingRow is a single lookup-table row. Values maps field name to the
// expected alert value (or WildcardValue); fields beyond the matcher
// fields are the enrichment attributes merged into the alert on match.
type MappingRow struct {
	RuleID   string            `json:"rule_id"`
	Position int               `json:"position"`
	Values   map[string]string `json:"values"`
}

// EnrichmentValues returns the row attributes that are not matcher fields
// for the given group.
func (r *MappingRow) EnrichmentValues(group []string) map[string]string {
	matcher := make(map[string]bool, len(group))
	for _, f := range group {
		matcher[f] = true
	}
	out := make(map[string]string)
	for k, v := range r.Values {
		if !matcher[k] {
			out[k] = v
		}
	}
	return out
}
