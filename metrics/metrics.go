// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package metrics holds the Prometheus instruments of the voting core.
//
// A nil *Metrics is valid and records nothing, so packages can be used
// without a registry in tests and tools.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	votesAdmitted    prometheus.Counter
	votesRejected    *prometheus.CounterVec
	auditAppends     prometheus.Counter
	tamperDetected   prometheus.Counter
	finalizeDuration prometheus.Histogram
	anchors          prometheus.Counter
	externalRetries  *prometheus.CounterVec
	artifactBytes    prometheus.Counter
}

// New registers the instruments with registry. It returns nil when registry
// is nil.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		return nil
	}
	factory := promauto.With(registry)
	return &Metrics{
		votesAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "verivote_votes_admitted_total",
			Help: "Total number of votes accepted",
		}),
		votesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verivote_votes_rejected_total",
			Help: "Total number of votes rejected, by reason code",
		}, []string{"code"}),
		auditAppends: factory.NewCounter(prometheus.CounterOpts{
			Name: "verivote_audit_appends_total",
			Help: "Total number of audit log entries written",
		}),
		tamperDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "verivote_tamper_detected_total",
			Help: "Total number of audit verifications that found tampering",
		}),
		finalizeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "verivote_finalize_duration_seconds",
			Help:    "Time spent finalizing a poll",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		anchors: factory.NewCounter(prometheus.CounterOpts{
			Name: "verivote_anchors_total",
			Help: "Total number of results anchored on chain",
		}),
		externalRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verivote_external_retries_total",
			Help: "Total number of retried calls to external services",
		}, []string{"service"}),
		artifactBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "verivote_artifact_bytes_total",
			Help: "Total bytes published to content storage",
		}),
	}
}

func (m *Metrics) VoteAdmitted() {
	if m == nil {
		return
	}
	m.votesAdmitted.Inc()
}

func (m *Metrics) VoteRejected(code string) {
	if m == nil {
		return
	}
	m.votesRejected.WithLabelValues(code).Inc()
}

func (m *Metrics) AuditAppended() {
	if m == nil {
		return
	}
	m.auditAppends.Inc()
}

func (m *Metrics) TamperDetected() {
	if m == nil {
		return
	}
	m.tamperDetected.Inc()
}

func (m *Metrics) ObserveFinalize(d time.Duration) {
	if m == nil {
		return
	}
	m.finalizeDuration.Observe(d.Seconds())
}

func (m *Metrics) Anchored() {
	if m == nil {
		return
	}
	m.anchors.Inc()
}

// ExternalRetry counts a retried call to service ("storage" or "chain").
func (m *Metrics) ExternalRetry(service string) {
	if m == nil {
		return
	}
	m.externalRetries.WithLabelValues(service).Inc()
}

func (m *Metrics) ArtifactPublished(size int) {
	if m == nil {
		return
	}
	m.artifactBytes.Add(float64(size))
}
