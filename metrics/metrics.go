// Package metrics exposes Prometheus instrumentation for the enrichment
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AlertsEnriched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertpipe_alerts_enriched_total",
			Help: "Total number of alerts processed by the enrichment pipeline",
		},
		[]string{"status"},
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertpipe_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by blackout rules",
		},
	)

	RuleEvalFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertpipe_rule_eval_failures_total",
			Help: "Total number of per-rule evaluation failures",
		},
		[]string{"kind", "mode"},
	)

	EvaluationBudgetExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertpipe_evaluation_budget_exceeded_total",
			Help: "Total number of regex or expression evaluations cut off by their execution budget",
		},
		[]string{"engine"},
	)

	StatsUpdateFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertpipe_stats_update_failures_total",
			Help: "Total number of non-fatal deduplication statistics update failures",
		},
	)

	DefaultRulesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertpipe_default_dedup_rules_created_total",
			Help: "Total number of lazily created default deduplication rules",
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertpipe_artifact_cache_lookups_total",
			Help: "Compiled-artifact cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	EnrichmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alertpipe_enrichment_duration_seconds",
			Help:    "Time taken to run one alert through the full pipeline",
			Buckets: prometheus.DefBuckets,
		},
	)
)
