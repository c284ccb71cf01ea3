package attest

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// WorkloadKind names one timing workload. The set is closed: validators
// are bound to kinds one-to-one (anti_emulation_scan consumes the profile
// instead of samples and has no workload).
type WorkloadKind string

const (
	WorkloadClockJitter       WorkloadKind = "clock_jitter"
	WorkloadCacheRatio        WorkloadKind = "cache_ratio"
	WorkloadMemoryPattern     WorkloadKind = "memory_pattern"
	WorkloadInstructionJitter WorkloadKind = "instruction_jitter"
	WorkloadThermalDelta      WorkloadKind = "thermal_delta"
	WorkloadProofOfExecution  WorkloadKind = "proof_of_execution"
)

// Workloads lists every kind in execution order. Thermal runs last: it
// measures drift induced by the load the earlier workloads generated.
var Workloads = []WorkloadKind{
	WorkloadClockJitter,
	WorkloadCacheRatio,
	WorkloadMemoryPattern,
	WorkloadInstructionJitter,
	WorkloadProofOfExecution,
	WorkloadThermalDelta,
}

// Challenge is one attestation round's work order. Nonce is single-use;
// the store enforces that across restarts.
type Challenge struct {
	RoundID       uint64              `json:"round_id"`
	TargetID      string              `json:"target_id"`
	Params        ChallengeParameters `json:"params"`
	Nonce         [32]byte            `json:"-"`
	NonceHex      string              `json:"nonce"`
	IssuedAt      time.Time           `json:"issued_at"`
	ExpiresAt     time.Time           `json:"expires_at"`
	BootstrapMode bool                `json:"bootstrap_mode"`
}

// GenerateChallenge derives parameters from the previous block hash and
// target identity, and attaches a fresh random nonce. Parameters are
// deterministic; the nonce is not.
func GenerateChallenge(roundID uint64, prevBlockHash []byte, targetID string, ttl time.Duration) (*Challenge, error) {
	seed, bootstrap := DeriveSeed(prevBlockHash, targetID)
	params, err := DeriveParameters(seed)
	if err != nil {
		return nil, fmt.Errorf("derive parameters: %w", err)
	}

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	now := time.Now().UTC()
	return &Challenge{
		RoundID:       roundID,
		TargetID:      targetID,
		Params:        params,
		Nonce:         nonce,
		NonceHex:      hex.EncodeToString(nonce[:]),
		IssuedAt:      now,
		ExpiresAt:     now.Add(ttl),
		BootstrapMode: bootstrap,
	}, nil
}

// Expired reports whether the challenge aged past its TTL at the given
// instant.
func (c *Challenge) Expired(at time.Time) bool {
	return at.After(c.ExpiresAt)
}

// ProofSeed computes the head of the proof chain:
// digest_0 = SHA256(nonce || round_id).
func ProofSeed(nonce [32]byte, roundID uint64) [32]byte {
	h := sha256.New()
	h.Write(nonce[:])
	var rid [8]byte
	binary.BigEndian.PutUint64(rid[:], roundID)
	h.Write(rid[:])

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// ComputeProof runs the iterated SHA-256 chain over the challenge nonce:
// digest_i = SHA256(digest_{i-1}) starting from ProofSeed. The chain is
// strictly sequential, so there is no shortcut past doing the work:
// completing it inside the timing window is the proof.
func ComputeProof(nonce [32]byte, roundID uint64, rounds int) [32]byte {
	digest := ProofSeed(nonce, roundID)
	for i := 1; i < rounds; i++ {
		digest = sha256.Sum256(digest[:])
	}
	return digest
}
