// Package metrics provides Prometheus-compatible metrics for the
// attestation engine.
package metrics

import (
	"sync"
	"time"
)

// AttestMetrics holds all attestation-specific metrics.
type AttestMetrics struct {
	registry *Registry

	// Counters
	RoundsTotal         *Counter
	RoundsVerified      *Counter
	RoundsRejected      *Counter
	ChallengesIssued    *Counter
	RepliesMalformed    *Counter
	ErrorsTotal         *Counter

	// Gauges
	LastConfidence  *Gauge
	LastRoundTs     *Gauge
	UptimeSeconds   *Gauge
	LedgerSizeBytes *Gauge

	// Histograms
	RoundDuration     *Histogram
	WorkloadDuration  *Histogram
	LedgerQueryTime   *Histogram

	// Lazily registered per-reason and per-check counters.
	mu            sync.Mutex
	rejectReasons map[string]*Counter
	checkFailures map[string]*Counter
}

// startTime records when metrics were initialized.
var startTime = time.Now()

// NewAttestMetrics creates and registers all attestation metrics.
func NewAttestMetrics(registry *Registry) *AttestMetrics {
	if registry == nil {
		registry = Default()
	}

	m := &AttestMetrics{
		registry:      registry,
		rejectReasons: make(map[string]*Counter),
		checkFailures: make(map[string]*Counter),

		// Counters
		RoundsTotal: registry.RegisterCounter(
			"rounds_total",
			"Total number of attestation rounds evaluated",
			nil,
		),
		RoundsVerified: registry.RegisterCounter(
			"rounds_verified_total",
			"Total number of rounds with a VERIFIED verdict",
			nil,
		),
		RoundsRejected: registry.RegisterCounter(
			"rounds_rejected_total",
			"Total number of rounds with a REJECTED verdict",
			nil,
		),
		ChallengesIssued: registry.RegisterCounter(
			"challenges_issued_total",
			"Total number of challenges issued",
			nil,
		),
		RepliesMalformed: registry.RegisterCounter(
			"malformed_responses_total",
			"Total number of responses rejected by schema validation",
			nil,
		),
		ErrorsTotal: registry.RegisterCounter(
			"errors_total",
			"Total number of errors",
			nil,
		),

		// Gauges
		LastConfidence: registry.RegisterGauge(
			"last_confidence",
			"Confidence score of the most recent round",
			nil,
		),
		LastRoundTs: registry.RegisterGauge(
			"last_round_timestamp",
			"Unix timestamp of the most recent round",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Number of seconds the engine has been running",
			nil,
		),
		LedgerSizeBytes: registry.RegisterGauge(
			"ledger_size_bytes",
			"Size of the nonce ledger database in bytes",
			nil,
		),

		// Histograms
		RoundDuration: registry.RegisterHistogram(
			"round_duration_seconds",
			"Duration of full attestation rounds in seconds",
			nil,
			[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		),
		WorkloadDuration: registry.RegisterHistogram(
			"workload_duration_seconds",
			"Duration of individual challenge workloads in seconds",
			nil,
			DurationBuckets,
		),
		LedgerQueryTime: registry.RegisterHistogram(
			"ledger_query_duration_seconds",
			"Duration of nonce ledger queries in seconds",
			nil,
			DurationBuckets,
		),
	}

	return m
}

// RoundCompleted records a finished round with its verdict and score.
func (m *AttestMetrics) RoundCompleted(verdict string, confidence int, d time.Duration) {
	m.RoundsTotal.Inc()
	if verdict == "VERIFIED" {
		m.RoundsVerified.Inc()
	} else {
		m.RoundsRejected.Inc()
	}
	m.LastConfidence.Set(int64(confidence))
	m.LastRoundTs.Set(time.Now().Unix())
	m.RoundDuration.ObserveDuration(d)
}

// RoundRejected records the reason for a rejected round. Totals are
// already counted by RoundCompleted.
func (m *AttestMetrics) RoundRejected(reason string) {
	m.mu.Lock()
	c, ok := m.rejectReasons[reason]
	if !ok {
		c = m.registry.RegisterCounter(
			"rejections_"+reason+"_total",
			"Rounds rejected with reason "+reason,
			nil,
		)
		m.rejectReasons[reason] = c
	}
	m.mu.Unlock()
	c.Inc()
}

// CheckFailed records a validator failure, keyed by check name.
func (m *AttestMetrics) CheckFailed(name string) {
	m.mu.Lock()
	c, ok := m.checkFailures[name]
	if !ok {
		c = m.registry.RegisterCounter(
			"check_failures_"+name+"_total",
			"Failures of the "+name+" validator",
			nil,
		)
		m.checkFailures[name] = c
	}
	m.mu.Unlock()
	c.Inc()
}

// ChallengeIssued records an issued challenge.
func (m *AttestMetrics) ChallengeIssued() {
	m.ChallengesIssued.Inc()
}

// MalformedResponse records a response that failed schema validation.
func (m *AttestMetrics) MalformedResponse() {
	m.RepliesMalformed.Inc()
}

// RecordWorkload records the duration of a single workload.
func (m *AttestMetrics) RecordWorkload(d time.Duration) {
	m.WorkloadDuration.ObserveDuration(d)
}

// StartLedgerTimer returns a timer for ledger queries.
func (m *AttestMetrics) StartLedgerTimer() *HistogramTimer {
	return m.LedgerQueryTime.Timer()
}

// RecordError records an error.
func (m *AttestMetrics) RecordError() {
	m.ErrorsTotal.Inc()
}

// SetLedgerSize sets the ledger database size.
func (m *AttestMetrics) SetLedgerSize(bytes int64) {
	m.LedgerSizeBytes.Set(bytes)
}

// UpdateUptime updates the uptime metric.
func (m *AttestMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}

// Snapshot returns a snapshot of key metrics.
func (m *AttestMetrics) Snapshot() map[string]interface{} {
	m.UpdateUptime()
	return map[string]interface{}{
		"rounds_total":          m.RoundsTotal.Value(),
		"rounds_verified_total": m.RoundsVerified.Value(),
		"rounds_rejected_total": m.RoundsRejected.Value(),
		"challenges_issued":     m.ChallengesIssued.Value(),
		"malformed_responses":   m.RepliesMalformed.Value(),
		"errors_total":          m.ErrorsTotal.Value(),
		"last_confidence":       m.LastConfidence.Value(),
		"uptime_seconds":        m.UptimeSeconds.Value(),
		"round_avg_seconds":     m.RoundDuration.Mean(),
	}
}

// Global attestation metrics instance.
var defaultAttestMetrics *AttestMetrics

// GetMetrics returns the global attestation metrics instance.
func GetMetrics() *AttestMetrics {
	if defaultAttestMetrics == nil {
		defaultAttestMetrics = NewAttestMetrics(Default())
	}
	return defaultAttestMetrics
}

// InitMetrics initializes the global attestation metrics with a custom registry.
func InitMetrics(registry *Registry) *AttestMetrics {
	defaultAttestMetrics = NewAttestMetrics(registry)
	return defaultAttestMetrics
}
