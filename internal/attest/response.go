package attest

import (
	"encoding/hex"
	"fmt"
	"time"
)

// HardwareProfile is the device's self-description, collected alongside the
// timing samples. The profile is advisory input to anti_emulation_scan and
// the architecture cross-check; timing evidence always outranks it.
type HardwareProfile struct {
	CPUModel     string   `json:"cpu_model"`
	Architecture string   `json:"architecture"`
	CoreCount    int      `json:"cores"`
	MemoryMB     uint64   `json:"memory_mb"`
	CPUFlags     []string `json:"cpu_flags,omitempty"`

	// Cache sizes in KiB, zero when the platform does not expose them.
	L1KB int `json:"l1_kb"`
	L2KB int `json:"l2_kb"`
	L3KB int `json:"l3_kb"`

	// ArchClass buckets the device for calibration lookup (e.g. "modern",
	// "vintage"). Filled by the hwdb classifier from CPUModel.
	ArchClass string `json:"arch_class"`

	// Emulation holds the raw indicator scan results.
	Emulation EmulationScan `json:"emulation"`
}

// EmulationScan is the outcome of probing for virtualization fingerprints.
// Each indicator names what tripped it; an empty slice means nothing did.
type EmulationScan struct {
	Indicators []EmulationIndicator `json:"indicators,omitempty"`

	// ChassisType is hostnamed's chassis classification on Linux
	// ("vm", "container", "laptop", ...). Empty when unavailable.
	ChassisType string `json:"chassis_type,omitempty"`

	// TPMManufacturer is the TPM's manufacturer string when a TPM is
	// reachable. Software simulators announce themselves here.
	TPMManufacturer string `json:"tpm_manufacturer,omitempty"`
}

// EmulationIndicator is one tripped virtualization fingerprint.
type EmulationIndicator struct {
	Source string `json:"source"` // dmi, cpuinfo, env, dbus, tpm, arch
	Value  string `json:"value"`
	Strong bool   `json:"strong"` // strong indicators fail the scan outright
}

// Strong reports whether any strong indicator tripped.
func (s EmulationScan) Strong() bool {
	for _, ind := range s.Indicators {
		if ind.Strong {
			return true
		}
	}
	return false
}

// Response carries everything a device produced for one challenge.
type Response struct {
	RoundID   uint64                     `json:"round_id"`
	NonceEcho string                     `json:"nonce"`
	Params    ChallengeParameters        `json:"params"`
	Samples   map[WorkloadKind][]float64 `json:"samples"`
	Profile   HardwareProfile            `json:"profile"`

	// ProofDigest is the tail of the SHA-256 chain over the nonce.
	ProofDigest string `json:"proof_digest"`

	// WallClock is the total time the workload set took, measured by
	// the executor, not self-reported by workload code.
	WallClock time.Duration `json:"wall_clock_ns"`

	CollectedAt time.Time `json:"collected_at"`
}

// BindsTo verifies the response structurally belongs to the challenge:
// same round, correct nonce echo, parameters unmodified. Any mismatch is
// a malformed response, not a measurement failure.
func (r *Response) BindsTo(c *Challenge) error {
	if r.RoundID != c.RoundID {
		return fmt.Errorf("round %d response for round %d challenge: %w", r.RoundID, c.RoundID, ErrMalformedResponse)
	}
	if r.NonceEcho != c.NonceHex {
		return fmt.Errorf("nonce echo mismatch: %w", ErrMalformedResponse)
	}
	if r.Params != c.Params {
		return fmt.Errorf("parameter set modified in flight: %w", ErrMalformedResponse)
	}
	return r.Params.Validate()
}

// proofDigestBytes decodes the hex proof digest. Wrong length or bad hex
// is a malformed response.
func (r *Response) proofDigestBytes() ([32]byte, error) {
	var digest [32]byte
	raw, err := hex.DecodeString(r.ProofDigest)
	if err != nil || len(raw) != 32 {
		return digest, fmt.Errorf("proof digest not 32 hex bytes: %w", ErrMalformedResponse)
	}
	copy(digest[:], raw)
	return digest, nil
}
