//go:build !linux && !darwin && !windows

package entropy

import (
	"context"

	"github.com/Scottcjn/Rustchain-sub002/internal/attest"
)

// collectPlatform has no platform probes here. The timing workloads still
// run; only the profile-driven checks degrade.
func collectPlatform(ctx context.Context, p *attest.HardwareProfile, opts ProbeOptions) {}
