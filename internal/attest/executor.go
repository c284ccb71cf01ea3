package attest

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Source runs timing workloads on the device under test. Implementations
// must return ErrCollectionUnavailable (possibly wrapped) for workloads the
// platform cannot measure; the executor records an empty sample slice and
// the matching check degrades instead of failing the round.
type Source interface {
	// Name identifies the source implementation, for logs and records.
	Name() string

	// Available reports whether the source can collect the given workload
	// on this platform.
	Available(kind WorkloadKind) bool

	// Collect runs one workload under the challenge and returns its
	// timing samples in nanoseconds. For proof_of_execution the digest
	// is the SHA-256 chain tail and the samples are per-segment timings.
	Collect(ctx context.Context, kind WorkloadKind, c *Challenge) (WorkloadResult, error)

	// Profile collects the hardware self-description and emulation scan.
	Profile(ctx context.Context) (HardwareProfile, error)
}

// WorkloadResult is one workload's output.
type WorkloadResult struct {
	Samples []float64
	Digest  [32]byte // proof_of_execution only
}

// Executor drives a Source through a challenge's workload set and builds
// the Response. It owns the wall clock: workload code never self-reports
// total duration.
type Executor struct {
	src Source

	// TimeoutMargin pads the challenge timing window before the executor
	// gives up. Slow-but-real hardware gets the benefit of the doubt; the
	// proof check still judges the unpadded window.
	TimeoutMargin time.Duration
}

// NewExecutor wraps a source with the default timeout margin.
func NewExecutor(src Source) *Executor {
	return &Executor{src: src, TimeoutMargin: 5 * time.Second}
}

// Execute runs every workload in order and assembles the response. The
// context bounds the whole set; per-workload unavailability degrades. A
// blown deadline returns the partial response collected so far alongside
// ErrTimeoutExceeded, so the caller can still run every check against it.
func (e *Executor) Execute(ctx context.Context, c *Challenge) (*Response, error) {
	window := c.Params.TimingWindow() + e.TimeoutMargin
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	resp := &Response{
		RoundID:   c.RoundID,
		NonceEcho: c.NonceHex,
		Params:    c.Params,
		Samples:   make(map[WorkloadKind][]float64, len(Workloads)),
	}

	start := time.Now()
	var timedOut error
	for _, kind := range Workloads {
		if !e.src.Available(kind) {
			resp.Samples[kind] = nil
			continue
		}

		result, err := e.src.Collect(ctx, kind, c)
		switch {
		case errors.Is(err, ErrCollectionUnavailable):
			resp.Samples[kind] = nil
			continue
		case errors.Is(err, context.DeadlineExceeded):
			timedOut = fmt.Errorf("workload %s: %w", kind, ErrTimeoutExceeded)
		case err != nil:
			return nil, fmt.Errorf("workload %s: %w", kind, err)
		}
		if timedOut != nil {
			break
		}

		resp.Samples[kind] = result.Samples
		if kind == WorkloadProofOfExecution {
			resp.ProofDigest = hex.EncodeToString(result.Digest[:])
		}
	}
	resp.WallClock = time.Since(start)
	resp.CollectedAt = time.Now().UTC()

	profile, err := e.src.Profile(ctx)
	if err != nil {
		// Profile collection failure is never fatal; the scan check
		// degrades on an empty profile.
		profile = HardwareProfile{}
	}
	resp.Profile = profile

	if timedOut != nil {
		return resp, timedOut
	}
	return resp, nil
}
