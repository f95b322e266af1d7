package core

import "time"

// ExtractionRule derives new alert attributes by applying a regex with
// named capture groups to a templated source string, optionally gated by
// a boolean condition. Pre rules run before mapping enrichment, post
// rules after.
type ExtractionRule struct {
	ID       string `json:"id" validate:"required"`
	TenantID string `json:"tenant_id" validate:"required"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`

	// Attribute is a template naming the alert field(s) to extract from,
	// e.g. "{{ name }}". A value without template markers cannot be
	// rendered and makes the rule a no-op.
	Attribute string `json:"attribute" validate:"required"`

	// Regex must carry named capture groups; each group becomes an alert
	// attribute on match. Syntax is validated at definition time.
	Regex string `json:"regex" validate:"required"`

	// Condition is an optional boolean expression over alert fields.
	// A condition referencing a field absent from the alert means the
	// rule does not apply.
	Condition string `json:"condition,omitempty"`

	Pre       bool      `json:"pre"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
