//go:build darwin

package entropy

import (
	"context"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/Scottcjn/Rustchain-sub002/internal/attest"
)

// collectPlatform fills the macOS profile fields from sysctl. There is no
// DMI, hostnamed, or TPM on darwin, so the probe gates have nothing to
// gate; VM detection leans on the hypervisor sysctl and the model string.
func collectPlatform(ctx context.Context, p *attest.HardwareProfile, opts ProbeOptions) {
	if model, err := unix.Sysctl("machdep.cpu.brand_string"); err == nil {
		p.CPUModel = model
	}
	if mem, err := unix.SysctlUint64("hw.memsize"); err == nil {
		p.MemoryMB = mem >> 20
	}
	if l1, err := unix.SysctlUint64("hw.l1dcachesize"); err == nil {
		p.L1KB = int(l1 >> 10)
	}
	if l2, err := unix.SysctlUint64("hw.l2cachesize"); err == nil {
		p.L2KB = int(l2 >> 10)
	}
	if l3, err := unix.SysctlUint64("hw.l3cachesize"); err == nil {
		p.L3KB = int(l3 >> 10)
	}
	if features, err := unix.Sysctl("machdep.cpu.features"); err == nil && features != "" {
		p.CPUFlags = strings.Fields(strings.ToLower(features))
	}

	// kern.hv_vmm_present is set when macOS itself runs under a
	// hypervisor (including Apple's own Virtualization.framework).
	if vmm, err := unix.SysctlUint32("kern.hv_vmm_present"); err == nil && vmm != 0 {
		p.Emulation.Indicators = append(p.Emulation.Indicators, attest.EmulationIndicator{
			Source: "sysctl",
			Value:  "kern.hv_vmm_present",
			Strong: true,
		})
	}

	if marker := matchVMMarker(p.CPUModel); marker != "" {
		p.Emulation.Indicators = append(p.Emulation.Indicators, attest.EmulationIndicator{
			Source: "sysctl",
			Value:  marker,
			Strong: true,
		})
	}
}
