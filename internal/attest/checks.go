package attest

import (
	"fmt"
	"strings"
)

// Score deltas per failed check. Weights follow how diagnostic each signal
// is: a flat clock is near-certain emulation, a missing thermal drift is
// merely suspicious.
const (
	DeltaClockJitter       = -40
	DeltaCacheRatio        = -25
	DeltaMemoryPattern     = -20
	DeltaInstructionJitter = -20
	DeltaThermalDelta      = -15
	DeltaProofOfExecution  = -50
	DeltaAntiEmulation     = -30
)

// Calibration holds the statistical acceptance bounds for one arch class.
// Values ship as config defaults and reload live from the calibration file.
type Calibration struct {
	// MaxClockCV is the upper bound on clock jitter CV. Beyond this the
	// timing source is too noisy to trust.
	MaxClockCV float64 `json:"max_clock_cv" toml:"max_clock_cv" yaml:"max_clock_cv"`

	// MinCacheRatio is the minimum latency step between adjacent cache
	// levels. Real hierarchies step by 2-10x; a flat 1.0 means the
	// "caches" are emulated out of one memory pool.
	MinCacheRatio float64 `json:"min_cache_ratio" toml:"min_cache_ratio" yaml:"min_cache_ratio"`

	// MinMemoryCV is the variation floor for random-stride walk timings.
	MinMemoryCV float64 `json:"min_memory_cv" toml:"min_memory_cv" yaml:"min_memory_cv"`

	// MinInstructionCV is the variation floor for instruction-path timings.
	MinInstructionCV float64 `json:"min_instruction_cv" toml:"min_instruction_cv" yaml:"min_instruction_cv"`

	// MaxThermalStable is the drift ratio at or below which a device shows
	// no thermal response (loaded timing indistinguishable from idle).
	// 1.0 means identical means; real silicon lands noticeably above it.
	MaxThermalStable float64 `json:"max_thermal_stable" toml:"max_thermal_stable" yaml:"max_thermal_stable"`
}

// DefaultCalibration returns bounds tuned for modern hardware. Per-class
// overrides come from config.
func DefaultCalibration() Calibration {
	return Calibration{
		MaxClockCV:       0.5,
		MinCacheRatio:    1.01,
		MinMemoryCV:      0.0001,
		MinInstructionCV: 0.0001,
		MaxThermalStable: 1.002,
	}
}

// CheckResult is one validator's verdict.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`

	// Degraded means the underlying samples were unavailable on this
	// platform. The check fails with half penalty instead of full.
	Degraded bool `json:"degraded,omitempty"`

	ScoreDelta int    `json:"score_delta"`
	Detail     string `json:"detail,omitempty"`
}

// CheckFunc validates one aspect of a response against its challenge.
type CheckFunc func(c *Challenge, r *Response, cal Calibration) CheckResult

// checks lists every validator in record order. proof_of_execution is
// mandatory: the aggregator refuses VERIFIED without it passing.
var checks = []struct {
	name string
	fn   CheckFunc
}{
	{"clock_jitter", checkClockJitter},
	{"cache_ratio", checkCacheRatio},
	{"memory_pattern", checkMemoryPattern},
	{"instruction_jitter", checkInstructionJitter},
	{"thermal_delta", checkThermalDelta},
	{"proof_of_execution", checkProofOfExecution},
	{"anti_emulation_scan", checkAntiEmulation},
}

// RunChecks executes every validator and returns results in stable order.
// Validators are independent: one failing never short-circuits the rest,
// so a record always explains the full picture.
func RunChecks(c *Challenge, r *Response, cal Calibration) []CheckResult {
	results := make([]CheckResult, 0, len(checks))
	for _, ck := range checks {
		res := ck.fn(c, r, cal)
		res.Name = ck.name
		results = append(results, res)
	}
	return results
}

// degraded builds the half-penalty result for a check whose samples never
// arrived.
func degraded(delta int, what string) CheckResult {
	return CheckResult{
		Passed:     false,
		Degraded:   true,
		ScoreDelta: delta / 2,
		Detail:     what + " not collected on this platform",
	}
}

// checkClockJitter requires the clock read-to-read variation of a genuine
// oscillator. Emulators servicing clock reads from a paravirtual source
// produce either perfectly smooth or quantized timings.
func checkClockJitter(c *Challenge, r *Response, cal Calibration) CheckResult {
	samples := r.Samples[WorkloadClockJitter]
	if len(samples) == 0 {
		return degraded(DeltaClockJitter, "clock samples")
	}

	cv := CV(samples)
	floor := c.Params.MinJitterCV()
	entropy := ShannonEntropy(SamplesToBytes(samples))

	switch {
	case cv < floor:
		return CheckResult{
			Passed:     false,
			ScoreDelta: DeltaClockJitter,
			Detail:     fmt.Sprintf("cv %.6f below floor %.6f: synthetic timing source", cv, floor),
		}
	case cv > cal.MaxClockCV:
		return CheckResult{
			Passed:     false,
			ScoreDelta: DeltaClockJitter,
			Detail:     fmt.Sprintf("cv %.4f above %.4f: timing source unstable", cv, cal.MaxClockCV),
		}
	}
	return CheckResult{
		Passed: true,
		Detail: fmt.Sprintf("cv %.6f, entropy %.2f bits/byte over %d samples", cv, entropy, len(samples)),
	}
}

// checkCacheRatio verifies the latency staircase of a real cache
// hierarchy. Samples arrive level-major: equal thirds for the L1-, L2-,
// and L3-sized buffer walks.
func checkCacheRatio(c *Challenge, r *Response, cal Calibration) CheckResult {
	samples := r.Samples[WorkloadCacheRatio]
	if len(samples) < 3 || len(samples)%3 != 0 {
		return degraded(DeltaCacheRatio, "cache latency samples")
	}

	third := len(samples) / 3
	l1 := Mean(samples[:third])
	l2 := Mean(samples[third : 2*third])
	l3 := Mean(samples[2*third:])
	if l1 <= 0 || l2 <= 0 {
		return degraded(DeltaCacheRatio, "cache latency samples")
	}

	r21 := l2 / l1
	r32 := l3 / l2
	detail := fmt.Sprintf("l2/l1 %.3f, l3/l2 %.3f", r21, r32)

	// Only a fully flat hierarchy fails: some parts hide one boundary
	// (big L2, victim L3) but nothing real hides both.
	if r21 < cal.MinCacheRatio && r32 < cal.MinCacheRatio {
		return CheckResult{
			Passed:     false,
			ScoreDelta: DeltaCacheRatio,
			Detail:     detail + ": no cache hierarchy visible",
		}
	}
	return CheckResult{Passed: true, Detail: detail}
}

// checkMemoryPattern expects variation from a random-stride walk: TLB
// misses, row-buffer conflicts, and prefetcher defeats produce spread that
// a flat emulated address space does not.
func checkMemoryPattern(c *Challenge, r *Response, cal Calibration) CheckResult {
	samples := r.Samples[WorkloadMemoryPattern]
	if len(samples) == 0 {
		return degraded(DeltaMemoryPattern, "memory walk samples")
	}

	cv := CV(samples)
	if cv < cal.MinMemoryCV {
		return CheckResult{
			Passed:     false,
			ScoreDelta: DeltaMemoryPattern,
			Detail:     fmt.Sprintf("walk cv %.6f: uniform access timing across %d KB", cv, c.Params.MemoryBlockKB),
		}
	}
	return CheckResult{
		Passed: true,
		Detail: fmt.Sprintf("walk cv %.6f over %d samples", cv, len(samples)),
	}
}

// checkInstructionJitter looks at per-path timing variance across integer,
// floating-point, and branch-heavy loops. Samples arrive path-major in
// equal thirds. Interpreted or JIT-translated execution flattens all
// three distributions at once; real pipelines never do.
func checkInstructionJitter(c *Challenge, r *Response, cal Calibration) CheckResult {
	samples := r.Samples[WorkloadInstructionJitter]
	if len(samples) < 3 || len(samples)%3 != 0 {
		return degraded(DeltaInstructionJitter, "instruction timing samples")
	}

	third := len(samples) / 3
	cvs := []float64{
		CV(samples[:third]),
		CV(samples[third : 2*third]),
		CV(samples[2*third:]),
	}

	flat := 0
	for _, cv := range cvs {
		if cv < cal.MinInstructionCV {
			flat++
		}
	}
	detail := fmt.Sprintf("path cv int %.6f fp %.6f branch %.6f", cvs[0], cvs[1], cvs[2])
	if flat == len(cvs) {
		return CheckResult{
			Passed:     false,
			ScoreDelta: DeltaInstructionJitter,
			Detail:     detail + ": all execution paths timing-flat",
		}
	}
	return CheckResult{Passed: true, Detail: detail}
}

// checkThermalDelta compares idle timings against timings taken right
// after sustained load. Real silicon drifts with temperature; both halves
// showing zero spread means the timing source is synthetic.
func checkThermalDelta(c *Challenge, r *Response, cal Calibration) CheckResult {
	samples := r.Samples[WorkloadThermalDelta]
	if len(samples) < 4 || len(samples)%2 != 0 {
		return degraded(DeltaThermalDelta, "thermal samples")
	}

	half := len(samples) / 2
	cold, hot := samples[:half], samples[half:]
	coldDev, hotDev := Stdev(cold), Stdev(hot)

	if coldDev == 0 && hotDev == 0 {
		return CheckResult{
			Passed:     false,
			ScoreDelta: DeltaThermalDelta,
			Detail:     "zero spread in both idle and loaded timing",
		}
	}

	drift := 0.0
	if m := Mean(cold); m > 0 {
		drift = Mean(hot) / m
	}
	if drift <= cal.MaxThermalStable {
		return CheckResult{
			Passed:     false,
			ScoreDelta: DeltaThermalDelta,
			Detail:     fmt.Sprintf("drift ratio %.4f at or below stability ceiling %.4f", drift, cal.MaxThermalStable),
		}
	}
	return CheckResult{
		Passed: true,
		Detail: fmt.Sprintf("drift ratio %.4f, idle stdev %.1f, loaded stdev %.1f", drift, coldDev, hotDev),
	}
}

// checkProofOfExecution recomputes the SHA-256 chain and judges the wall
// clock against the challenge's timing window. This is the mandatory
// check: without it a response proves nothing was executed at all.
func checkProofOfExecution(c *Challenge, r *Response, cal Calibration) CheckResult {
	digest, err := r.proofDigestBytes()
	if err != nil {
		return CheckResult{
			Passed:     false,
			ScoreDelta: DeltaProofOfExecution,
			Detail:     "proof digest missing or malformed",
		}
	}

	expected := ComputeProof(c.Nonce, c.RoundID, c.Params.HashRounds)
	if digest != expected {
		return CheckResult{
			Passed:     false,
			ScoreDelta: DeltaProofOfExecution,
			Detail:     fmt.Sprintf("digest mismatch after %d rounds", c.Params.HashRounds),
		}
	}

	window := c.Params.TimingWindow()
	if r.WallClock > window {
		return CheckResult{
			Passed:     false,
			ScoreDelta: DeltaProofOfExecution,
			Detail:     fmt.Sprintf("completed in %s, window %s", r.WallClock, window),
		}
	}
	return CheckResult{
		Passed: true,
		Detail: fmt.Sprintf("%d rounds in %s (window %s)", c.Params.HashRounds, r.WallClock, window),
	}
}

// vmProducts are DMI/product substrings that identify known hypervisors.
var vmProducts = []string{
	"vmware", "virtualbox", "kvm", "qemu", "xen", "hyperv", "hyper-v", "parallels", "bochs",
}

// modernSIMD flags cannot appear on pre-2011 silicon. A vintage arch claim
// carrying them is lying about one side or the other.
var modernSIMD = []string{"avx", "avx2", "avx512f", "avx512bw"}

// checkAntiEmulation consumes the emulation scan and cross-checks the
// declared architecture class against CPU capabilities.
func checkAntiEmulation(c *Challenge, r *Response, cal Calibration) CheckResult {
	scan := r.Profile.Emulation

	// An empty profile gives the scan nothing to judge. That is not a
	// clean pass: the device withheld the evidence.
	if r.Profile.CPUModel == "" && len(r.Profile.CPUFlags) == 0 &&
		len(scan.Indicators) == 0 && scan.ChassisType == "" && scan.TPMManufacturer == "" {
		return degraded(DeltaAntiEmulation, "hardware profile")
	}

	var hits []string
	strong := false

	for _, ind := range scan.Indicators {
		hits = append(hits, ind.Source+":"+ind.Value)
		if ind.Strong {
			strong = true
		}
	}

	if scan.ChassisType == "vm" || scan.ChassisType == "container" {
		hits = append(hits, "chassis:"+scan.ChassisType)
		strong = true
	}

	for _, vm := range vmProducts {
		if strings.Contains(strings.ToLower(scan.TPMManufacturer), vm) {
			hits = append(hits, "tpm:"+scan.TPMManufacturer)
			strong = true
		}
	}

	// Architecture cross-check: a claimed vintage class with modern SIMD
	// is an emulator wearing a costume.
	class := strings.ToLower(r.Profile.ArchClass)
	if class == "vintage" || class == "classic" {
		for _, flag := range r.Profile.CPUFlags {
			for _, simd := range modernSIMD {
				if strings.EqualFold(flag, simd) {
					hits = append(hits, "arch:"+class+"+"+strings.ToLower(flag))
					strong = true
				}
			}
		}
	}

	if strong {
		return CheckResult{
			Passed:     false,
			ScoreDelta: DeltaAntiEmulation,
			Detail:     "virtualization indicators: " + strings.Join(hits, ", "),
		}
	}
	if len(hits) > 0 {
		// Weak indicators alone (container env vars and the like) pass
		// but stay on the record.
		return CheckResult{Passed: true, Detail: "weak indicators: " + strings.Join(hits, ", ")}
	}
	return CheckResult{Passed: true, Detail: "no virtualization indicators"}
}
