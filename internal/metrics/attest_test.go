package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRoundCompleted(t *testing.T) {
	m := NewAttestMetrics(NewRegistry("rustchain", "test"))

	m.RoundCompleted("VERIFIED", 93, 2*time.Second)
	m.RoundCompleted("REJECTED", 10, time.Second)
	m.RoundCompleted("REJECTED", 0, time.Second)

	if got := m.RoundsTotal.Value(); got != 3 {
		t.Errorf("rounds_total = %d, want 3", got)
	}
	if got := m.RoundsVerified.Value(); got != 1 {
		t.Errorf("rounds_verified_total = %d, want 1", got)
	}
	if got := m.RoundsRejected.Value(); got != 2 {
		t.Errorf("rounds_rejected_total = %d, want 2", got)
	}
	if got := m.LastConfidence.Value(); got != 0 {
		t.Errorf("last_confidence = %d, want 0 (most recent round)", got)
	}
	if got := m.RoundDuration.Count(); got != 3 {
		t.Errorf("round_duration count = %d, want 3", got)
	}
}

func TestRoundRejected_PerReasonCounters(t *testing.T) {
	reg := NewRegistry("rustchain", "test")
	m := NewAttestMetrics(reg)

	m.RoundRejected("replay_detected")
	m.RoundRejected("replay_detected")
	m.RoundRejected("timeout_exceeded")

	if c := reg.GetCounter("rejections_replay_detected_total"); c == nil || c.Value() != 2 {
		t.Errorf("replay rejection counter = %v, want 2", c)
	}
	if c := reg.GetCounter("rejections_timeout_exceeded_total"); c == nil || c.Value() != 1 {
		t.Errorf("timeout rejection counter = %v, want 1", c)
	}

	// Reason counters must not touch the round totals; those belong to
	// RoundCompleted.
	if got := m.RoundsRejected.Value(); got != 0 {
		t.Errorf("rounds_rejected_total = %d, want 0", got)
	}
}

func TestCheckFailed(t *testing.T) {
	reg := NewRegistry("rustchain", "test")
	m := NewAttestMetrics(reg)

	m.CheckFailed("clock_jitter")
	m.CheckFailed("clock_jitter")
	m.CheckFailed("cache_ratio")

	if c := reg.GetCounter("check_failures_clock_jitter_total"); c == nil || c.Value() != 2 {
		t.Errorf("clock_jitter failure counter = %v, want 2", c)
	}
	if c := reg.GetCounter("check_failures_cache_ratio_total"); c == nil || c.Value() != 1 {
		t.Errorf("cache_ratio failure counter = %v, want 1", c)
	}
}

func TestSnapshot(t *testing.T) {
	m := NewAttestMetrics(NewRegistry("rustchain", "test"))
	m.ChallengeIssued()
	m.RoundCompleted("VERIFIED", 100, time.Second)

	snap := m.Snapshot()
	if snap["rounds_total"].(uint64) != 1 {
		t.Errorf("snapshot rounds_total = %v, want 1", snap["rounds_total"])
	}
	if snap["challenges_issued"].(uint64) != 1 {
		t.Errorf("snapshot challenges_issued = %v, want 1", snap["challenges_issued"])
	}
}

func TestPrometheusExposition(t *testing.T) {
	reg := NewRegistry("rustchain", "")
	m := NewAttestMetrics(reg)
	m.RoundCompleted("VERIFIED", 88, time.Second)
	m.RoundRejected("replay_detected")

	rr := httptest.NewRecorder()
	reg.HTTPHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	body := rr.Body.String()
	for _, want := range []string{
		"rustchain_rounds_total 1",
		"rustchain_rounds_verified_total 1",
		"rustchain_last_confidence 88",
		"rustchain_rejections_replay_detected_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
