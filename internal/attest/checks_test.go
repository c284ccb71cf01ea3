package attest

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helpers

func testChallenge(t *testing.T) *Challenge {
	t.Helper()
	c, err := GenerateChallenge(892, []byte("prev-block"), "node-a", 5*time.Minute)
	require.NoError(t, err)
	return c
}

// genuineResponse builds a response a real machine would plausibly produce:
// jittery clock, stepped cache latencies, varied walk timings, a correct
// proof chain inside the window, and a clean hardware profile.
func genuineResponse(t *testing.T, c *Challenge) *Response {
	t.Helper()

	clock := make([]float64, 200)
	for i := range clock {
		clock[i] = 100 + float64(i%10)
	}

	cache := make([]float64, 30)
	for i := range cache {
		switch {
		case i < 10:
			cache[i] = 1.2
		case i < 20:
			cache[i] = 3.6
		default:
			cache[i] = 12.0
		}
	}

	memory := make([]float64, 64)
	for i := range memory {
		memory[i] = 100 + float64(i%7)*3
	}

	instr := make([]float64, 90)
	for i := range instr {
		instr[i] = 50 + float64(i%5)
	}

	thermal := make([]float64, 100)
	for i := range thermal {
		if i < 50 {
			thermal[i] = 100 + float64(i%3)
		} else {
			thermal[i] = 110 + float64(i%3)
		}
	}

	digest := ComputeProof(c.Nonce, c.RoundID, c.Params.HashRounds)

	return &Response{
		RoundID:   c.RoundID,
		NonceEcho: c.NonceHex,
		Params:    c.Params,
		Samples: map[WorkloadKind][]float64{
			WorkloadClockJitter:       clock,
			WorkloadCacheRatio:        cache,
			WorkloadMemoryPattern:     memory,
			WorkloadInstructionJitter: instr,
			WorkloadThermalDelta:      thermal,
			WorkloadProofOfExecution:  {1, 1, 1, 1, 1},
		},
		Profile: HardwareProfile{
			CPUModel:     "Intel(R) Core(TM) i7-9700K",
			Architecture: "amd64",
			CoreCount:    8,
			MemoryMB:     16384,
			CPUFlags:     []string{"sse2", "avx2"},
			L1KB:         32,
			L2KB:         256,
			L3KB:         12288,
			ArchClass:    "modern",
		},
		ProofDigest: hex.EncodeToString(digest[:]),
		WallClock:   time.Second,
		CollectedAt: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

func resultByName(t *testing.T, results []CheckResult, name string) CheckResult {
	t.Helper()
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no result named %q", name)
	return CheckResult{}
}

// =============================================================================
// Suite behavior
// =============================================================================

func TestRunChecks_GenuineDevicePassesAll(t *testing.T) {
	c := testChallenge(t)
	r := genuineResponse(t, c)

	results := RunChecks(c, r, DefaultCalibration())
	require.Len(t, results, 7)

	for _, res := range results {
		assert.True(t, res.Passed, "%s failed: %s", res.Name, res.Detail)
		assert.Zero(t, res.ScoreDelta, "%s carried a delta despite passing", res.Name)
	}
}

func TestRunChecks_StableOrder(t *testing.T) {
	c := testChallenge(t)
	r := genuineResponse(t, c)

	want := []string{
		"clock_jitter", "cache_ratio", "memory_pattern",
		"instruction_jitter", "thermal_delta",
		"proof_of_execution", "anti_emulation_scan",
	}
	results := RunChecks(c, r, DefaultCalibration())
	for i, res := range results {
		assert.Equal(t, want[i], res.Name)
	}
}

func TestRunChecks_Independence(t *testing.T) {
	// A failing proof must not stop the other validators from reporting.
	c := testChallenge(t)
	r := genuineResponse(t, c)
	r.ProofDigest = hex.EncodeToString(make([]byte, 32))

	results := RunChecks(c, r, DefaultCalibration())
	require.Len(t, results, 7)
	assert.False(t, resultByName(t, results, "proof_of_execution").Passed)
	assert.True(t, resultByName(t, results, "clock_jitter").Passed)
	assert.True(t, resultByName(t, results, "anti_emulation_scan").Passed)
}

// =============================================================================
// Individual validators
// =============================================================================

func TestCheckClockJitter(t *testing.T) {
	c := testChallenge(t)
	cal := DefaultCalibration()

	t.Run("flat clock fails", func(t *testing.T) {
		r := genuineResponse(t, c)
		flat := make([]float64, 200)
		for i := range flat {
			flat[i] = 100
		}
		r.Samples[WorkloadClockJitter] = flat

		res := checkClockJitter(c, r, cal)
		assert.False(t, res.Passed)
		assert.Equal(t, DeltaClockJitter, res.ScoreDelta)
	})

	t.Run("unstable clock fails", func(t *testing.T) {
		r := genuineResponse(t, c)
		noisy := make([]float64, 200)
		for i := range noisy {
			noisy[i] = float64(1 + i*50) // cv well above 0.5
		}
		r.Samples[WorkloadClockJitter] = noisy

		res := checkClockJitter(c, r, cal)
		assert.False(t, res.Passed)
	})

	t.Run("missing samples degrade", func(t *testing.T) {
		r := genuineResponse(t, c)
		r.Samples[WorkloadClockJitter] = nil

		res := checkClockJitter(c, r, cal)
		assert.False(t, res.Passed)
		assert.True(t, res.Degraded)
		assert.Equal(t, DeltaClockJitter/2, res.ScoreDelta)
	})
}

func TestCheckCacheRatio(t *testing.T) {
	c := testChallenge(t)
	cal := DefaultCalibration()

	t.Run("flat hierarchy fails", func(t *testing.T) {
		r := genuineResponse(t, c)
		flat := make([]float64, 30)
		for i := range flat {
			flat[i] = 5.0
		}
		r.Samples[WorkloadCacheRatio] = flat

		res := checkCacheRatio(c, r, cal)
		assert.False(t, res.Passed)
		assert.Equal(t, DeltaCacheRatio, res.ScoreDelta)
	})

	t.Run("one hidden boundary passes", func(t *testing.T) {
		// Large L2 parts show l2/l1 near 1.0 but a clear l3 step.
		r := genuineResponse(t, c)
		samples := make([]float64, 30)
		for i := range samples {
			switch {
			case i < 20:
				samples[i] = 2.0
			default:
				samples[i] = 11.0
			}
		}
		r.Samples[WorkloadCacheRatio] = samples

		res := checkCacheRatio(c, r, cal)
		assert.True(t, res.Passed, res.Detail)
	})

	t.Run("ragged sample count degrades", func(t *testing.T) {
		r := genuineResponse(t, c)
		r.Samples[WorkloadCacheRatio] = []float64{1, 2}

		res := checkCacheRatio(c, r, cal)
		assert.True(t, res.Degraded)
		assert.Equal(t, DeltaCacheRatio/2, res.ScoreDelta)
	})
}

func TestCheckMemoryPattern(t *testing.T) {
	c := testChallenge(t)
	cal := DefaultCalibration()

	t.Run("uniform walk fails", func(t *testing.T) {
		r := genuineResponse(t, c)
		flat := make([]float64, 64)
		for i := range flat {
			flat[i] = 42
		}
		r.Samples[WorkloadMemoryPattern] = flat

		res := checkMemoryPattern(c, r, cal)
		assert.False(t, res.Passed)
		assert.Equal(t, DeltaMemoryPattern, res.ScoreDelta)
	})

	t.Run("missing degrades", func(t *testing.T) {
		r := genuineResponse(t, c)
		delete(r.Samples, WorkloadMemoryPattern)

		res := checkMemoryPattern(c, r, cal)
		assert.True(t, res.Degraded)
	})
}

func TestCheckInstructionJitter(t *testing.T) {
	c := testChallenge(t)
	cal := DefaultCalibration()

	t.Run("all paths flat fails", func(t *testing.T) {
		r := genuineResponse(t, c)
		flat := make([]float64, 90)
		for i := range flat {
			flat[i] = 7
		}
		r.Samples[WorkloadInstructionJitter] = flat

		res := checkInstructionJitter(c, r, cal)
		assert.False(t, res.Passed)
		assert.Equal(t, DeltaInstructionJitter, res.ScoreDelta)
	})

	t.Run("one live path passes", func(t *testing.T) {
		r := genuineResponse(t, c)
		samples := make([]float64, 90)
		for i := range samples {
			samples[i] = 7
			if i >= 60 { // branch path keeps its jitter
				samples[i] = 7 + float64(i%4)
			}
		}
		r.Samples[WorkloadInstructionJitter] = samples

		res := checkInstructionJitter(c, r, cal)
		assert.True(t, res.Passed, res.Detail)
	})
}

func TestCheckThermalDelta(t *testing.T) {
	c := testChallenge(t)
	cal := DefaultCalibration()

	t.Run("zero spread both halves fails", func(t *testing.T) {
		r := genuineResponse(t, c)
		flat := make([]float64, 100)
		for i := range flat {
			flat[i] = 100
		}
		r.Samples[WorkloadThermalDelta] = flat

		res := checkThermalDelta(c, r, cal)
		assert.False(t, res.Passed)
		assert.Equal(t, DeltaThermalDelta, res.ScoreDelta)
	})

	t.Run("spread in one half passes", func(t *testing.T) {
		r := genuineResponse(t, c)
		samples := make([]float64, 100)
		for i := range samples {
			samples[i] = 100
			if i >= 50 {
				samples[i] = 104 + float64(i%3)
			}
		}
		r.Samples[WorkloadThermalDelta] = samples

		res := checkThermalDelta(c, r, cal)
		assert.True(t, res.Passed, res.Detail)
	})

	t.Run("noisy but identical halves fail", func(t *testing.T) {
		// Replayed or synthesized timings show spread yet no load
		// response: the loaded half is a copy of the idle half.
		r := genuineResponse(t, c)
		samples := make([]float64, 100)
		for i := range samples {
			samples[i] = 100 + float64(i%3)
		}
		r.Samples[WorkloadThermalDelta] = samples

		res := checkThermalDelta(c, r, cal)
		assert.False(t, res.Passed)
		assert.Equal(t, DeltaThermalDelta, res.ScoreDelta)
		assert.Contains(t, res.Detail, "stability ceiling")
	})
}

func TestCheckProofOfExecution(t *testing.T) {
	c := testChallenge(t)
	cal := DefaultCalibration()

	t.Run("wrong digest fails", func(t *testing.T) {
		r := genuineResponse(t, c)
		r.ProofDigest = hex.EncodeToString(make([]byte, 32))

		res := checkProofOfExecution(c, r, cal)
		assert.False(t, res.Passed)
		assert.Equal(t, DeltaProofOfExecution, res.ScoreDelta)
	})

	t.Run("malformed digest fails", func(t *testing.T) {
		r := genuineResponse(t, c)
		r.ProofDigest = "not-hex"

		res := checkProofOfExecution(c, r, cal)
		assert.False(t, res.Passed)
	})

	t.Run("blown window fails despite correct digest", func(t *testing.T) {
		r := genuineResponse(t, c)
		r.WallClock = c.Params.TimingWindow() + time.Second

		res := checkProofOfExecution(c, r, cal)
		assert.False(t, res.Passed)
		assert.Equal(t, DeltaProofOfExecution, res.ScoreDelta)
	})
}

func TestCheckAntiEmulation(t *testing.T) {
	c := testChallenge(t)
	cal := DefaultCalibration()

	t.Run("strong indicator fails", func(t *testing.T) {
		r := genuineResponse(t, c)
		r.Profile.Emulation.Indicators = []EmulationIndicator{
			{Source: "cpuinfo", Value: "hypervisor", Strong: true},
		}

		res := checkAntiEmulation(c, r, cal)
		assert.False(t, res.Passed)
		assert.Equal(t, DeltaAntiEmulation, res.ScoreDelta)
	})

	t.Run("vm chassis fails", func(t *testing.T) {
		r := genuineResponse(t, c)
		r.Profile.Emulation.ChassisType = "vm"

		res := checkAntiEmulation(c, r, cal)
		assert.False(t, res.Passed)
	})

	t.Run("simulator tpm fails", func(t *testing.T) {
		r := genuineResponse(t, c)
		r.Profile.Emulation.TPMManufacturer = "QEMU"

		res := checkAntiEmulation(c, r, cal)
		assert.False(t, res.Passed)
	})

	t.Run("vintage claim with avx fails", func(t *testing.T) {
		r := genuineResponse(t, c)
		r.Profile.ArchClass = "vintage"
		r.Profile.CPUFlags = []string{"sse2", "avx2"}

		res := checkAntiEmulation(c, r, cal)
		assert.False(t, res.Passed)
	})

	t.Run("vintage claim without modern simd passes", func(t *testing.T) {
		r := genuineResponse(t, c)
		r.Profile.ArchClass = "vintage"
		r.Profile.CPUFlags = []string{"mmx", "sse"}

		res := checkAntiEmulation(c, r, cal)
		assert.True(t, res.Passed, res.Detail)
	})

	t.Run("empty profile degrades", func(t *testing.T) {
		r := genuineResponse(t, c)
		r.Profile = HardwareProfile{}

		res := checkAntiEmulation(c, r, cal)
		assert.False(t, res.Passed)
		assert.True(t, res.Degraded)
		assert.Equal(t, DeltaAntiEmulation/2, res.ScoreDelta)
	})

	t.Run("weak indicators alone pass with detail", func(t *testing.T) {
		r := genuineResponse(t, c)
		r.Profile.Emulation.Indicators = []EmulationIndicator{
			{Source: "env", Value: "KUBERNETES_SERVICE_HOST", Strong: false},
		}

		res := checkAntiEmulation(c, r, cal)
		assert.True(t, res.Passed)
		assert.Contains(t, res.Detail, "KUBERNETES_SERVICE_HOST")
	})
}
