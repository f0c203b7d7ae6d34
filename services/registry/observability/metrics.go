// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the registry.
//
// # Description
//
// Metrics cover the mutation path end to end:
//   - Mutation counters (by operation and outcome)
//   - Mutation latency histograms
//   - Retry attempts triggered by transient store failures
//   - Cascade plan sizes and applied step counts
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "lineage"

// Subsystem for registry metrics
const registrySubsystem = "registry"

// RegistryMetrics holds all Prometheus metrics for the registry service.
//
// # Fields
//
//   - MutationsTotal: Counter of mutations by operation and outcome
//   - MutationDurationSeconds: Histogram of mutation latency
//   - RetriesTotal: Counter of transient-failure retries by operation
//   - ConflictsTotal: Counter of optimistic version-guard rejections
//   - CascadeStepsTotal: Counter of cascade plan steps applied
//   - CascadePlanSize: Histogram of planned step counts per cascade
//
// # Thread Safety
//
// All operations are thread-safe.
type RegistryMetrics struct {
	// MutationsTotal counts mutations by operation and outcome.
	// Labels: op (create, update, delete, apply_plan), outcome
	// (success, conflict, invalid, not_found, error)
	MutationsTotal *prometheus.CounterVec

	// MutationDurationSeconds measures mutation latency.
	// Labels: op
	MutationDurationSeconds *prometheus.HistogramVec

	// RetriesTotal counts retry attempts after transient store errors.
	// Labels: op
	RetriesTotal *prometheus.CounterVec

	// ConflictsTotal counts version-guard rejections.
	ConflictsTotal prometheus.Counter

	// CascadeStepsTotal counts cascade steps applied.
	CascadeStepsTotal prometheus.Counter

	// CascadePlanSize measures how many steps each cascade plan carries.
	CascadePlanSize prometheus.Histogram
}

// DefaultMetrics is the singleton instance of RegistryMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *RegistryMetrics

var initOnce sync.Once

// InitMetrics initializes and registers the default metrics instance.
// Safe to call more than once; registration happens exactly once and
// later calls return the existing instance.
func InitMetrics() *RegistryMetrics {
	initOnce.Do(func() {
		DefaultMetrics = &RegistryMetrics{
			MutationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: registrySubsystem,
					Name:      "mutations_total",
					Help:      "Total mutations by operation and outcome",
				},
				[]string{"op", "outcome"},
			),

			MutationDurationSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: registrySubsystem,
					Name:      "mutation_duration_seconds",
					Help:      "Mutation latency in seconds",
					Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
				},
				[]string{"op"},
			),

			RetriesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: registrySubsystem,
					Name:      "retries_total",
					Help:      "Retry attempts triggered by transient store errors",
				},
				[]string{"op"},
			),

			ConflictsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: registrySubsystem,
					Name:      "conflicts_total",
					Help:      "Optimistic version-guard rejections",
				},
			),

			CascadeStepsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: registrySubsystem,
					Name:      "cascade_steps_total",
					Help:      "Cascade plan steps applied",
				},
			),

			CascadePlanSize: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: registrySubsystem,
					Name:      "cascade_plan_size",
					Help:      "Steps per cascade plan",
					Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
				},
			),
		}
	})
	return DefaultMetrics
}

// =============================================================================
// Label Values
// =============================================================================

// Op labels a mutation operation for metrics.
type Op string

const (
	OpCreate    Op = "create"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpApplyPlan Op = "apply_plan"
)

// Outcome labels how a mutation ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeConflict Outcome = "conflict"
	OutcomeInvalid  Outcome = "invalid"
	OutcomeNotFound Outcome = "not_found"
	OutcomeError    Outcome = "error"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordMutation records one completed mutation with its latency.
func (m *RegistryMetrics) RecordMutation(op Op, outcome Outcome, seconds float64) {
	m.MutationsTotal.WithLabelValues(string(op), string(outcome)).Inc()
	m.MutationDurationSeconds.WithLabelValues(string(op)).Observe(seconds)
	if outcome == OutcomeConflict {
		m.ConflictsTotal.Inc()
	}
}

// RecordRetry records one retry attempt for op.
func (m *RegistryMetrics) RecordRetry(op Op) {
	m.RetriesTotal.WithLabelValues(string(op)).Inc()
}

// RecordCascade records a planned and applied cascade.
func (m *RegistryMetrics) RecordCascade(planned, applied int) {
	m.CascadePlanSize.Observe(float64(planned))
	m.CascadeStepsTotal.Add(float64(applied))
}
