package core

import "time"

// BlackoutRule suppresses matching alerts while its time window is open.
// The window is [StartTime, EndTime] when EndTime is set, otherwise
// [StartTime, StartTime+DurationSeconds].
type BlackoutRule struct {
	ID       string `json:"id" validate:"required"`
	TenantID string `json:"tenant_id" validate:"required"`
	Name     string `json:"name"`

	// CELQuery is a boolean expression over alert fields. `source`
	// evaluates as the first element of the alert's source sequence.
	CELQuery string `json:"cel_query" validate:"required"`

	StartTime       time.Time  `json:"start_time" validate:"required"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds int64      `json:"duration_seconds,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveAt reports whether the rule's suppression window covers the given
// instant. Disabled rules are never active.
func (r *BlackoutRule) ActiveAt(now time.Time) bool {
	if !r.Enabled || now.Before(r.StartTime) {
		return false
	}
	if r.EndTime != nil {
		return !now.After(*r.EndTime)
	}
	if r.DurationSeconds > 0 {
		return !now.After(r.StartTime.Add(time.Duration(r.DurationSeconds) * time.Second))
	}
	// Open-ended window.
	return true
}
