package attest

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record verdicts.
const (
	VerdictVerified = "VERIFIED"
	VerdictRejected = "REJECTED"
)

// RecordVersion tags the record format.
const RecordVersion = 1

// DefaultThreshold is the minimum confidence for a VERIFIED verdict.
const DefaultThreshold = 50

// AttestationRecord is the round's final, signable artifact. Field order
// is the canonical serialization order: the signature covers the JSON
// encoding of everything above it.
type AttestationRecord struct {
	Version   int       `json:"version"`
	RoundID   uint64    `json:"round_id"`
	TargetID  string    `json:"target_id"`
	Timestamp time.Time `json:"timestamp"`

	BootstrapMode bool                `json:"bootstrap_mode"`
	Params        ChallengeParameters `json:"params"`

	// HardwareProfile is the device's self-description as submitted.
	// Zero-valued when the response never reached validation.
	HardwareProfile HardwareProfile `json:"hardware_profile"`

	Checks     []CheckResult `json:"checks"`
	Confidence int           `json:"confidence"`
	Verdict    string        `json:"verdict"`
	Rejection  *Rejection    `json:"rejection,omitempty"`

	// Informational metadata, not verdict inputs.
	ArchClass      string  `json:"arch_class,omitempty"`
	AntiquityTier  string  `json:"antiquity_tier,omitempty"`
	EntropyQuality float64 `json:"entropy_quality"`
	SourceName     string  `json:"source_name,omitempty"`

	// Signature is Ed25519 over CanonicalBytes, hex-encoded. Empty when
	// no signing key is configured.
	Signature string `json:"signature"`
	PublicKey string `json:"public_key,omitempty"`
}

// Aggregate folds check results into a record. Pure and idempotent: the
// same inputs always produce byte-identical records. The record timestamp
// is the response's collection time, not the aggregation time.
func Aggregate(c *Challenge, r *Response, results []CheckResult, threshold int) *AttestationRecord {
	confidence := 100
	proofPassed := false
	for _, res := range results {
		confidence += res.ScoreDelta
		if res.Name == "proof_of_execution" && res.Passed {
			proofPassed = true
		}
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	rec := &AttestationRecord{
		Version:       RecordVersion,
		RoundID:       c.RoundID,
		TargetID:      c.TargetID,
		Timestamp:     time.Now().UTC(),
		BootstrapMode: c.BootstrapMode,
		Params:        c.Params,
		Checks:        results,
		Confidence:    confidence,
	}

	if r != nil {
		if !r.CollectedAt.IsZero() {
			rec.Timestamp = r.CollectedAt.UTC()
		}
		rec.HardwareProfile = r.Profile
		rec.ArchClass = r.Profile.ArchClass
		rec.EntropyQuality = ShannonEntropy(SamplesToBytes(r.Samples[WorkloadClockJitter]))
	}

	switch {
	case !proofPassed:
		rec.Verdict = VerdictRejected
		rec.Rejection = &Rejection{Reason: ReasonProofFail}
	case confidence < threshold:
		rec.Verdict = VerdictRejected
		rec.Rejection = &Rejection{
			Reason: ReasonLowScore,
			Detail: fmt.Sprintf("confidence %d below threshold %d", confidence, threshold),
		}
	default:
		rec.Verdict = VerdictVerified
	}
	return rec
}

// Rejected builds the record for a round that never reached validation:
// replayed nonce, malformed response, expired challenge. Confidence is
// zero and no checks are reported.
func Rejected(c *Challenge, reason, detail string) *AttestationRecord {
	return &AttestationRecord{
		Version:       RecordVersion,
		RoundID:       c.RoundID,
		TargetID:      c.TargetID,
		Timestamp:     time.Now().UTC(),
		BootstrapMode: c.BootstrapMode,
		Params:        c.Params,
		Checks:        []CheckResult{},
		Confidence:    0,
		Verdict:       VerdictRejected,
		Rejection:     &Rejection{Reason: reason, Detail: detail},
	}
}

// CanonicalBytes returns the deterministic signing payload: the record
// encoded as JSON with the signature fields blanked. Struct field order
// fixes the byte layout; there are no maps in the record.
func (rec *AttestationRecord) CanonicalBytes() ([]byte, error) {
	clone := *rec
	clone.Signature = ""
	clone.PublicKey = ""
	b, err := json.Marshal(&clone)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// Encode serializes the record for output.
func (rec *AttestationRecord) Encode() ([]byte, error) {
	return json.MarshalIndent(rec, "", "  ")
}

// DecodeRecord parses a serialized record.
func DecodeRecord(data []byte) (*AttestationRecord, error) {
	var rec AttestationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}
