// Package attest implements the hardware attestation engine: block-seeded
// mutating challenges, timing workloads, statistical validation, and
// aggregation into signed attestation records.
//
// The core insight: genuine silicon leaks timing side effects that emulators
// and VMs reproduce poorly. Cache hierarchies have real latency cliffs,
// clocks have real jitter, pipelines stall on real branch mispredictions.
// A challenge whose parameters mutate with every block denies adversaries
// the chance to precompute plausible-looking responses.
package attest

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Parameter bounds. A derived value always lands in [min, max] inclusive.
const (
	MinCacheStride    = 32 // bytes
	MaxCacheStride    = 512
	MinCacheIters     = 128
	MaxCacheIters     = 1024
	MinMemoryBlockKB  = 256
	MaxMemoryBlockKB  = 8192
	MinPipelineDepth  = 500
	MaxPipelineDepth  = 5000
	MinHashRounds     = 500
	MaxHashRounds     = 5000
	MinJitterPercent  = 3
	MaxJitterPercent  = 10
)

// derivationInfo versions the HKDF expansion. Changing any parameter
// derivation rule requires bumping this string.
const derivationInfo = "rustchain-attest-params-v1"

// bootstrapSeedLabel produces the fixed seed used before any block exists.
const bootstrapSeedLabel = "rustchain-attest-bootstrap-v1"

// ChallengeParameters are the per-round workload knobs. Every field is
// derived deterministically from the round seed; two verifiers holding the
// same block hash and target ID derive identical parameters.
type ChallengeParameters struct {
	// CacheStride is the step size for cache-walk accesses, in bytes.
	CacheStride int `json:"cache_stride"`

	// CacheIterations is the number of full buffer walks per cache level.
	CacheIterations int `json:"cache_iterations"`

	// MemoryBlockKB sizes the buffer for the random-stride memory walk.
	MemoryBlockKB int `json:"memory_block_kb"`

	// PipelineDepth is the inner-loop length for instruction workloads.
	PipelineDepth int `json:"pipeline_depth"`

	// HashRounds is the SHA-256 chain length for proof_of_execution.
	HashRounds int `json:"hash_rounds"`

	// JitterMinPercent is the minimum clock jitter CV a genuine device
	// must show, in tenths of a percent (3 means CV >= 0.0003).
	JitterMinPercent int `json:"jitter_min_percent"`

	// MemoryPatternSeed seeds the xorshift stride generator for the
	// memory workload. Raw bytes from the derivation stream.
	MemoryPatternSeed uint64 `json:"memory_pattern_seed"`
}

// DeriveSeed computes the round seed from the previous block hash and the
// target's identity. An empty block hash selects bootstrap mode: the seed
// is fixed and well-known, so first-round parameters are predictable by
// design until the chain produces a block.
func DeriveSeed(prevBlockHash []byte, targetID string) (seed [32]byte, bootstrap bool) {
	if len(prevBlockHash) == 0 {
		h := sha256.New()
		h.Write([]byte(bootstrapSeedLabel))
		h.Write([]byte(targetID))
		copy(seed[:], h.Sum(nil))
		return seed, true
	}
	h := sha256.New()
	h.Write(prevBlockHash)
	h.Write([]byte(targetID))
	copy(seed[:], h.Sum(nil))
	return seed, false
}

// DeriveParameters expands a round seed into challenge parameters. Each
// parameter consumes a disjoint region of the HKDF-SHA256 output stream,
// so no two parameters share entropy and flipping any seed bit perturbs
// the whole set.
func DeriveParameters(seed [32]byte) (ChallengeParameters, error) {
	r := hkdf.New(sha256.New, seed[:], nil, []byte(derivationInfo))

	var stream [32]byte
	if _, err := io.ReadFull(r, stream[:]); err != nil {
		return ChallengeParameters{}, fmt.Errorf("expand parameter stream: %w", err)
	}

	p := ChallengeParameters{
		CacheStride:       rangedInt(stream[0:4], MinCacheStride, MaxCacheStride),
		CacheIterations:   rangedInt(stream[4:8], MinCacheIters, MaxCacheIters),
		MemoryBlockKB:     rangedInt(stream[8:12], MinMemoryBlockKB, MaxMemoryBlockKB),
		PipelineDepth:     rangedInt(stream[12:16], MinPipelineDepth, MaxPipelineDepth),
		HashRounds:        rangedInt(stream[16:20], MinHashRounds, MaxHashRounds),
		JitterMinPercent:  rangedInt(stream[20:24], MinJitterPercent, MaxJitterPercent),
		MemoryPatternSeed: binary.BigEndian.Uint64(stream[24:32]),
	}
	return p, nil
}

// rangedInt maps 4 raw bytes into [min, max] inclusive.
func rangedInt(raw []byte, min, max int) int {
	v := binary.BigEndian.Uint32(raw)
	span := uint32(max - min + 1)
	return min + int(v%span)
}

// MinJitterCV converts JitterMinPercent into a coefficient-of-variation
// floor for the clock_jitter check.
func (p ChallengeParameters) MinJitterCV() float64 {
	return float64(p.JitterMinPercent) / 10000.0
}

// TimingWindow returns how long a genuine device may take to run the full
// workload set. The window scales with workload complexity so a heavy
// parameter draw does not penalize slow-but-real hardware.
func (p ChallengeParameters) TimingWindow() time.Duration {
	base := 2 * time.Second
	cache := time.Duration(p.CacheIterations*p.CacheStride/256) * time.Millisecond
	mem := time.Duration(p.MemoryBlockKB/16) * time.Millisecond
	cpu := time.Duration((p.PipelineDepth+p.HashRounds)/10) * time.Millisecond
	return base + cache + mem + cpu
}

// Validate rejects parameter sets outside the derivation bounds. A response
// quoting out-of-range parameters was not derived from any valid seed.
func (p ChallengeParameters) Validate() error {
	checks := []struct {
		name     string
		v, lo, hi int
	}{
		{"cache_stride", p.CacheStride, MinCacheStride, MaxCacheStride},
		{"cache_iterations", p.CacheIterations, MinCacheIters, MaxCacheIters},
		{"memory_block_kb", p.MemoryBlockKB, MinMemoryBlockKB, MaxMemoryBlockKB},
		{"pipeline_depth", p.PipelineDepth, MinPipelineDepth, MaxPipelineDepth},
		{"hash_rounds", p.HashRounds, MinHashRounds, MaxHashRounds},
		{"jitter_min_percent", p.JitterMinPercent, MinJitterPercent, MaxJitterPercent},
	}
	for _, c := range checks {
		if c.v < c.lo || c.v > c.hi {
			return fmt.Errorf("%s %d outside [%d, %d]: %w", c.name, c.v, c.lo, c.hi, ErrMalformedResponse)
		}
	}
	return nil
}
