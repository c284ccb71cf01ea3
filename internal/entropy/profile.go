package entropy

import (
	"context"
	"os"
	"runtime"
	"strings"

	"github.com/Scottcjn/Rustchain-sub002/internal/attest"
)

// vmMarkers are substrings identifying known hypervisors in DMI strings
// and similar vendor fields.
var vmMarkers = []string{
	"vmware", "virtualbox", "kvm", "qemu", "xen", "hyperv", "hyper-v", "parallels", "bochs", "virtual",
}

// containerEnvVars hint at containerized execution. Weak indicators: a
// container on bare metal is still real hardware underneath.
var containerEnvVars = []string{
	"KUBERNETES_SERVICE_HOST",
	"DOCKER_CONTAINER",
	"container",
}

// ProbeOptions gates the platform probes that reach outside the process.
// The timing workloads never consult these: disabling a probe only thins
// the profile.
type ProbeOptions struct {
	// TPMEnabled permits opening the TPM device for the manufacturer
	// probe.
	TPMEnabled bool

	// TPMPath overrides the TPM device path on platforms that use one.
	// Empty means the default device search order.
	TPMPath string

	// DBusEnabled permits the hostnamed chassis query on Linux.
	DBusEnabled bool
}

// DefaultProbeOptions enables every probe.
func DefaultProbeOptions() ProbeOptions {
	return ProbeOptions{TPMEnabled: true, DBusEnabled: true}
}

// Profile implements attest.Source. It gathers the generic fields here
// and dispatches to the per-platform probe for the rest.
func (s *NativeSource) Profile(ctx context.Context) (attest.HardwareProfile, error) {
	p := attest.HardwareProfile{
		Architecture: runtime.GOARCH,
		CoreCount:    runtime.NumCPU(),
	}

	scanEnv(&p.Emulation)
	collectPlatform(ctx, &p, s.probes)

	if s.classifier != nil && p.CPUModel != "" {
		p.ArchClass = s.classifier.Classify(p.CPUModel)
	}
	return p, nil
}

// scanEnv checks container-hinting environment variables on every
// platform.
func scanEnv(scan *attest.EmulationScan) {
	for _, name := range containerEnvVars {
		if os.Getenv(name) != "" {
			scan.Indicators = append(scan.Indicators, attest.EmulationIndicator{
				Source: "env",
				Value:  name,
				Strong: false,
			})
		}
	}
}

// matchVMMarker returns the marker found in s, or "".
func matchVMMarker(s string) string {
	lower := strings.ToLower(s)
	for _, m := range vmMarkers {
		if strings.Contains(lower, m) {
			return m
		}
	}
	return ""
}
