package core

import "time"

// HourlyBucketCount is the size of the duplicate distribution ring buffer.
const HourlyBucketCount = 24

// DeduplicationRule selects which alert fields form the deduplication
// fingerprint. Rules are scoped to (tenant, provider_type, optional
// provider_id); exactly one rule is effective per inbound alert, chosen by
// specificity: provider_id rule > provider_type rule > tenant default.
type DeduplicationRule struct {
	ID           string `json:"id" validate:"required"`
	TenantID     string `json:"tenant_id" validate:"required"`
	ProviderType string `json:"provider_type" validate:"required"`
	ProviderID   string `json:"provider_id,omitempty"`

	// FingerprintFields are hashed in declared order when
	// FullDeduplication is false. Missing fields serialize as empty
	// strings rather than aborting.
	FingerprintFields []string `json:"fingerprint_fields"`

	// FullDeduplication hashes the entire canonicalized payload minus
	// IgnoreFields instead of FingerprintFields.
	FullDeduplication bool     `json:"full_deduplication"`
	IgnoreFields      []string `json:"ignore_fields,omitempty"`

	// IsDefault marks the system-generated fallback rule, created lazily
	// on the first alert from an unseen provider type. At most one per
	// (tenant, provider_type), enforced by a unique index.
	IsDefault bool `json:"is_default"`

	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Specificity orders candidate rules during resolution. Higher wins.
func (r *DeduplicationRule) Specificity() int {
	switch {
	case r.ProviderID != "":
		return 2
	case !r.IsDefault:
		return 1
	default:
		return 0
	}
}

// DeduplicationStats holds the live counters for one dedup rule.
type DeduplicationStats struct {
	RuleID             string `json:"rule_id"`
	Ingested           int64  `json:"ingested"`
	UniqueFingerprints int64  `json:"unique_fingerprints_seen"`

	// HourlyDuplicates counts duplicates observed in each of the last 24
	// hours. Index is hour-of-epoch modulo 24; buckets older than the
	// window read as zero.
	HourlyDuplicates [HourlyBucketCount]int64 `json:"hourly_duplicates"`
}

// DedupRatio is the percentage of ingested alerts that were duplicates.
// Always within [0, 100]; zero when nothing has been ingested.
func (s *DeduplicationStats) DedupRatio() float64 {
	if s.Ingested == 0 {
		return 0
	}
	ratio := float64(s.Ingested-s.UniqueFingerprints) / float64(s.Ingested) * 100
	if ratio < 0 {
		return 0
	}
	return ratio
}
