//go:build windows

package entropy

import (
	"context"
	"os"
	"strings"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"github.com/Scottcjn/Rustchain-sub002/internal/attest"
)

// collectPlatform fills the Windows profile fields. CPU identity comes
// from the environment block; the TPM probe goes through TBS, which takes
// no device path.
func collectPlatform(ctx context.Context, p *attest.HardwareProfile, opts ProbeOptions) {
	p.CPUModel = os.Getenv("PROCESSOR_IDENTIFIER")

	if marker := matchVMMarker(os.Getenv("PROCESSOR_IDENTIFIER")); marker != "" {
		p.Emulation.Indicators = append(p.Emulation.Indicators, attest.EmulationIndicator{
			Source: "env",
			Value:  marker,
			Strong: true,
		})
	}

	if opts.TPMEnabled {
		p.Emulation.TPMManufacturer = tpmManufacturer()
	}
}

// tpmManufacturer reads the TPM manufacturer via the TPM Base Services
// transport.
func tpmManufacturer() string {
	t, err := transport.OpenTPM()
	if err != nil {
		return ""
	}
	defer t.Close()

	rsp, err := tpm2.GetCapability{
		Capability:    tpm2.TPMCapTPMProperties,
		Property:      uint32(tpm2.TPMPTManufacturer),
		PropertyCount: 1,
	}.Execute(t)
	if err != nil {
		return ""
	}

	props, err := rsp.CapabilityData.Data.TPMProperties()
	if err != nil || len(props.TPMProperty) == 0 {
		return ""
	}
	mfr := props.TPMProperty[0].Value
	b := []byte{byte(mfr >> 24), byte(mfr >> 16), byte(mfr >> 8), byte(mfr)}
	return strings.TrimRight(string(b), "\x00 ")
}
