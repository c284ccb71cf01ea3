package attest

import "errors"

// Rejection classes. Fatal ones terminate the round with a REJECTED record;
// the rest degrade individual checks without aborting.
var (
	// ErrReplayedNonce means a (round, nonce) pair was presented twice.
	// Fatal: the round is rejected regardless of measurement quality.
	ErrReplayedNonce = errors.New("attest: nonce already consumed")

	// ErrMalformedResponse means the response failed structural validation
	// (schema violation, nonce echo mismatch, wrong round). Fatal.
	ErrMalformedResponse = errors.New("attest: malformed response")

	// ErrTimeoutExceeded means the workload did not finish inside the
	// round's timing window. Converted to a failed proof_of_execution.
	ErrTimeoutExceeded = errors.New("attest: timing window exceeded")

	// ErrCollectionUnavailable means a capability could not produce samples
	// on this platform. Non-fatal: the affected check degrades.
	ErrCollectionUnavailable = errors.New("attest: collection unavailable")

	// ErrChallengeExpired means the challenge nonce aged past its TTL
	// before a response arrived.
	ErrChallengeExpired = errors.New("attest: challenge expired")
)

// Rejection explains why a round produced a REJECTED record.
type Rejection struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Rejection reason strings, stable across releases (they end up in records
// and in the replay ledger).
const (
	ReasonReplay    = "replay_detected"
	ReasonMalformed = "malformed_response"
	ReasonTimeout   = "timeout_exceeded"
	ReasonExpired   = "challenge_expired"
	ReasonLowScore  = "confidence_below_threshold"
	ReasonProofFail = "proof_of_execution_failed"
)
