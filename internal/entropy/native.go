// Package entropy collects timing side effects from the device under
// test. The native source runs real busy loops against real caches and
// clocks; nothing here is simulated. Platform-specific probing (DMI,
// hostnamed, TPM) lives in the profile_* files.
package entropy

import (
	"context"
	"crypto/sha256"
	"fmt"
	"runtime"
	"time"

	"github.com/Scottcjn/Rustchain-sub002/internal/attest"
)

// Sample counts per workload. The validators depend on the layout (equal
// thirds for cache and instruction samples, equal halves for thermal), so
// these are constants rather than parameters.
const (
	clockSamples       = 200
	clockBurstHashes   = 64
	cacheRepsPerLevel  = 10
	memoryWalkSamples  = 64
	memoryAccessCount  = 4096
	instrRepsPerPath   = 30
	thermalHalfSamples = 50
	proofSegment       = 100
)

// Cache-level buffer sizes. Sized to land inside L1, inside L2, and past
// L3 on essentially all hardware made this century.
const (
	l1BufferBytes = 8 << 10
	l2BufferBytes = 128 << 10
	l3BufferBytes = 4 << 20
)

// sink defeats dead-code elimination of the workload loops.
var sink uint64

// NativeSource implements attest.Source by running workloads on the local
// machine.
type NativeSource struct {
	classifier Classifier
	probes     ProbeOptions
}

// Classifier assigns an architecture class to a CPU model string.
type Classifier interface {
	Classify(cpuModel string) string
}

// NewNativeSource builds a source with every platform probe enabled. The
// classifier may be nil, leaving the arch class blank in profiles.
func NewNativeSource(classifier Classifier) *NativeSource {
	return &NativeSource{classifier: classifier, probes: DefaultProbeOptions()}
}

// ConfigureProbes replaces the platform probe gates.
func (s *NativeSource) ConfigureProbes(opts ProbeOptions) {
	s.probes = opts
}

// Name implements attest.Source.
func (s *NativeSource) Name() string {
	return "native/" + runtime.GOOS + "-" + runtime.GOARCH
}

// Available implements attest.Source. Every workload kind runs on every
// platform; only profile probing is platform-conditional.
func (s *NativeSource) Available(kind attest.WorkloadKind) bool {
	switch kind {
	case attest.WorkloadClockJitter,
		attest.WorkloadCacheRatio,
		attest.WorkloadMemoryPattern,
		attest.WorkloadInstructionJitter,
		attest.WorkloadThermalDelta,
		attest.WorkloadProofOfExecution:
		return true
	}
	return false
}

// Collect implements attest.Source.
func (s *NativeSource) Collect(ctx context.Context, kind attest.WorkloadKind, c *attest.Challenge) (attest.WorkloadResult, error) {
	if err := ctx.Err(); err != nil {
		return attest.WorkloadResult{}, err
	}
	switch kind {
	case attest.WorkloadClockJitter:
		return s.collectClockJitter(ctx)
	case attest.WorkloadCacheRatio:
		return s.collectCacheRatio(ctx, c.Params)
	case attest.WorkloadMemoryPattern:
		return s.collectMemoryPattern(ctx, c.Params)
	case attest.WorkloadInstructionJitter:
		return s.collectInstructionJitter(ctx, c.Params)
	case attest.WorkloadThermalDelta:
		return s.collectThermalDelta(ctx)
	case attest.WorkloadProofOfExecution:
		return s.collectProof(ctx, c)
	}
	return attest.WorkloadResult{}, fmt.Errorf("workload %q: %w", kind, attest.ErrCollectionUnavailable)
}

// collectClockJitter times fixed SHA-256 bursts back to back. On genuine
// silicon the per-burst duration wobbles with interrupts, frequency
// scaling, and cache state; a paravirtual clock hands back suspiciously
// round numbers.
func (s *NativeSource) collectClockJitter(ctx context.Context) (attest.WorkloadResult, error) {
	samples := make([]float64, 0, clockSamples)
	var buf [32]byte

	for i := 0; i < clockSamples; i++ {
		if i%32 == 0 {
			if err := ctx.Err(); err != nil {
				return attest.WorkloadResult{}, err
			}
		}
		start := time.Now()
		for j := 0; j < clockBurstHashes; j++ {
			buf = sha256.Sum256(buf[:])
		}
		samples = append(samples, float64(time.Since(start)))
	}
	sink += uint64(buf[0])
	return attest.WorkloadResult{Samples: samples}, nil
}

// collectCacheRatio walks three buffers sized for L1, L2, and past-L3 and
// reports mean nanoseconds per access, level-major. The stride comes from
// the challenge so precomputed traces do not transfer between rounds.
func (s *NativeSource) collectCacheRatio(ctx context.Context, params attest.ChallengeParameters) (attest.WorkloadResult, error) {
	sizes := []int{l1BufferBytes, l2BufferBytes, l3BufferBytes}
	samples := make([]float64, 0, len(sizes)*cacheRepsPerLevel)

	for _, size := range sizes {
		buf := make([]byte, size)
		// Touch every page before timing so faults don't pollute L1 runs.
		for i := 0; i < size; i += 4096 {
			buf[i] = byte(i)
		}

		for rep := 0; rep < cacheRepsPerLevel; rep++ {
			if err := ctx.Err(); err != nil {
				return attest.WorkloadResult{}, err
			}
			accesses := 0
			start := time.Now()
			for it := 0; it < params.CacheIterations; it++ {
				for off := 0; off < size; off += params.CacheStride {
					sink += uint64(buf[off])
					accesses++
				}
			}
			elapsed := time.Since(start)
			samples = append(samples, float64(elapsed)/float64(accesses))
		}
	}
	return attest.WorkloadResult{Samples: samples}, nil
}

// xorshift64 is the stride generator for the memory walk. Seeded from the
// challenge, so the access pattern mutates every round.
type xorshift64 uint64

func (x *xorshift64) next() uint64 {
	v := uint64(*x)
	if v == 0 {
		v = 0x9e3779b97f4a7c15
	}
	v ^= v << 13
	v ^= v >> 7
	v ^= v << 17
	*x = xorshift64(v)
	return v
}

// collectMemoryPattern does random-stride reads across a challenge-sized
// buffer. TLB misses and row conflicts give real DRAM a jagged timing
// profile that flat emulated memory lacks.
func (s *NativeSource) collectMemoryPattern(ctx context.Context, params attest.ChallengeParameters) (attest.WorkloadResult, error) {
	size := params.MemoryBlockKB << 10
	buf := make([]byte, size)
	for i := 0; i < size; i += 4096 {
		buf[i] = byte(i >> 12)
	}

	rng := xorshift64(params.MemoryPatternSeed)
	samples := make([]float64, 0, memoryWalkSamples)

	for i := 0; i < memoryWalkSamples; i++ {
		if err := ctx.Err(); err != nil {
			return attest.WorkloadResult{}, err
		}
		start := time.Now()
		for j := 0; j < memoryAccessCount; j++ {
			sink += uint64(buf[rng.next()%uint64(size)])
		}
		samples = append(samples, float64(time.Since(start)))
	}
	return attest.WorkloadResult{Samples: samples}, nil
}

// collectInstructionJitter times integer, floating-point, and
// branch-heavy loops separately, path-major. Loop length comes from the
// challenge's pipeline depth.
func (s *NativeSource) collectInstructionJitter(ctx context.Context, params attest.ChallengeParameters) (attest.WorkloadResult, error) {
	depth := params.PipelineDepth
	samples := make([]float64, 0, 3*instrRepsPerPath)

	paths := []func(){
		func() {
			x := uint64(1)
			for i := 0; i < depth; i++ {
				x = (x*7 + 13) % 65537
			}
			sink += x
		},
		func() {
			x := 1.0
			for i := 0; i < depth; i++ {
				x = x * 1.414
				for x > 1000.0 {
					x -= 1000.0
				}
				x += 0.5
			}
			sink += uint64(x)
		},
		func() {
			x := uint64(0)
			for i := 0; i < depth; i++ {
				if i%2 == 0 {
					x += uint64(i)
				} else {
					x -= uint64(i) / 2
				}
			}
			sink += x
		},
	}

	for _, path := range paths {
		for rep := 0; rep < instrRepsPerPath; rep++ {
			if err := ctx.Err(); err != nil {
				return attest.WorkloadResult{}, err
			}
			start := time.Now()
			path()
			samples = append(samples, float64(time.Since(start)))
		}
	}
	return attest.WorkloadResult{Samples: samples}, nil
}

// collectThermalDelta measures a reference burst cold, soaks the core
// with sustained work, then measures the same burst hot. Runs last in the
// workload order so the earlier workloads have already warmed the part.
func (s *NativeSource) collectThermalDelta(ctx context.Context) (attest.WorkloadResult, error) {
	samples := make([]float64, 0, 2*thermalHalfSamples)
	var buf [32]byte

	burst := func() float64 {
		start := time.Now()
		for j := 0; j < clockBurstHashes; j++ {
			buf = sha256.Sum256(buf[:])
		}
		return float64(time.Since(start))
	}

	for i := 0; i < thermalHalfSamples; i++ {
		if err := ctx.Err(); err != nil {
			return attest.WorkloadResult{}, err
		}
		samples = append(samples, burst())
		time.Sleep(time.Millisecond)
	}

	// Soak: sustained hashing to push the core off its idle thermals.
	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) {
		buf = sha256.Sum256(buf[:])
	}

	for i := 0; i < thermalHalfSamples; i++ {
		if err := ctx.Err(); err != nil {
			return attest.WorkloadResult{}, err
		}
		samples = append(samples, burst())
	}
	sink += uint64(buf[0])
	return attest.WorkloadResult{Samples: samples}, nil
}

// collectProof runs the sequential hash chain. Timing samples cover
// fixed-size segments so the validator can see pacing, not just the tail
// digest. The chain itself cannot be cancelled mid-segment: partial
// proofs are worthless.
func (s *NativeSource) collectProof(ctx context.Context, c *attest.Challenge) (attest.WorkloadResult, error) {
	rounds := c.Params.HashRounds
	samples := make([]float64, 0, (rounds+proofSegment-1)/proofSegment)

	digest := attest.ProofSeed(c.Nonce, c.RoundID)
	done := 1
	for done < rounds {
		if err := ctx.Err(); err != nil {
			return attest.WorkloadResult{}, err
		}
		segEnd := done + proofSegment
		if segEnd > rounds {
			segEnd = rounds
		}
		start := time.Now()
		for ; done < segEnd; done++ {
			digest = sha256.Sum256(digest[:])
		}
		samples = append(samples, float64(time.Since(start)))
	}
	return attest.WorkloadResult{Samples: samples, Digest: digest}, nil
}
