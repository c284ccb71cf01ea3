package attest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Scottcjn/Rustchain-sub002/internal/logging"
)

// NonceLedger persists issued challenges and enforces nonce single-use.
// Implementations return ErrReplayedNonce (wrapped) when a nonce is
// consumed twice and ErrChallengeExpired when its TTL lapsed.
type NonceLedger interface {
	Issue(ctx context.Context, c *Challenge) error
	Consume(ctx context.Context, targetID, nonceHex string, at time.Time) error
}

// RecordSigner signs canonical record bytes. Both returns are hex.
type RecordSigner interface {
	Sign(payload []byte) (sig string, pub string, err error)
}

// ResponseChecker does structural validation of a raw response document
// before it is trusted enough to unmarshal.
type ResponseChecker interface {
	ValidateResponse(doc []byte) error
}

// TierResolver maps an architecture class to its antiquity tier.
type TierResolver interface {
	TierFor(archClass string) string
}

// RoundMetrics receives per-round outcome counts and durations. Nil-safe
// methods are the implementor's responsibility; the engine always calls.
type RoundMetrics interface {
	RoundCompleted(verdict string, confidence int, d time.Duration)
	RoundRejected(reason string)
	CheckFailed(name string)
}

// Options configures an Engine. Zero values get defaults; Ledger is the
// only mandatory field.
type Options struct {
	Ledger    NonceLedger
	Signer    RecordSigner
	Schema    ResponseChecker
	Tiers     TierResolver
	Metrics   RoundMetrics
	Logger    *logging.Logger
	Threshold int
	TTL       time.Duration

	// Audit receives the security trail: challenge issuance, verdicts,
	// replay attempts. Nil disables auditing; write failures are logged
	// but never fail a round.
	Audit *logging.AuditLogger

	// TimeoutMargin is added to the challenge timing window when deriving
	// the workload deadline. Zero keeps the executor default.
	TimeoutMargin time.Duration

	// CalibrationFor resolves per-arch-class bounds. Nil means defaults
	// for every class.
	CalibrationFor func(archClass string) Calibration
}

// Engine runs attestation rounds end to end: challenge generation, nonce
// bookkeeping, workload execution, validation, aggregation, signing.
type Engine struct {
	opts Options
	log  *logging.Logger
}

// NewEngine validates options and builds an engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Ledger == nil {
		return nil, errors.New("attest: engine requires a nonce ledger")
	}
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.TTL == 0 {
		opts.TTL = 5 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Engine{opts: opts, log: log.WithComponent("attest-engine")}, nil
}

// NewChallenge derives a challenge for the round and registers its nonce
// in the ledger before anything is handed out.
func (e *Engine) NewChallenge(ctx context.Context, roundID uint64, prevBlockHash []byte, targetID string) (*Challenge, error) {
	c, err := GenerateChallenge(roundID, prevBlockHash, targetID, e.opts.TTL)
	if err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}
	if err := e.opts.Ledger.Issue(ctx, c); err != nil {
		return nil, fmt.Errorf("register challenge nonce: %w", err)
	}
	e.log.Debug("challenge issued",
		"round", c.RoundID,
		"target", c.TargetID,
		"bootstrap", c.BootstrapMode,
		"hash_rounds", c.Params.HashRounds,
		"window", c.Params.TimingWindow().String(),
	)
	if e.opts.Audit != nil {
		if err := e.opts.Audit.LogChallengeIssued(ctx, c.RoundID, c.TargetID, c.NonceHex); err != nil {
			e.log.Warn("audit write failed", "event", "challenge_issued", "error", err)
		}
	}
	return c, nil
}

// RunRound attests the local device: it generates a challenge, executes
// the workloads through src, and evaluates the response. Errors are
// reserved for infrastructure failures; measurement failures come back as
// REJECTED records with a nil error.
func (e *Engine) RunRound(ctx context.Context, roundID uint64, prevBlockHash []byte, targetID string, src Source) (*AttestationRecord, error) {
	start := time.Now()

	c, err := e.NewChallenge(ctx, roundID, prevBlockHash, targetID)
	if err != nil {
		return nil, err
	}

	ex := NewExecutor(src)
	if e.opts.TimeoutMargin > 0 {
		ex.TimeoutMargin = e.opts.TimeoutMargin
	}
	resp, err := ex.Execute(ctx, c)
	timedOut := errors.Is(err, ErrTimeoutExceeded)
	if err != nil && !timedOut {
		return nil, fmt.Errorf("execute challenge: %w", err)
	}

	// A blown timing window is a verdict, not an infra error: the partial
	// response still goes through every check, so the record explains what
	// was and was not collected.
	return e.evaluate(ctx, c, resp, start, src.Name(), timedOut)
}

// HandleResponse evaluates a response document produced elsewhere. The
// document is schema-checked before unmarshalling: anything structurally
// off becomes a MalformedResponse rejection, never a parse panic.
func (e *Engine) HandleResponse(ctx context.Context, c *Challenge, doc []byte) (*AttestationRecord, error) {
	start := time.Now()

	if e.opts.Schema != nil {
		if err := e.opts.Schema.ValidateResponse(doc); err != nil {
			rec := Rejected(c, ReasonMalformed, err.Error())
			e.finish(ctx, rec, start)
			return e.sign(rec)
		}
	}

	var resp Response
	if err := json.Unmarshal(doc, &resp); err != nil {
		rec := Rejected(c, ReasonMalformed, "response not valid JSON")
		e.finish(ctx, rec, start)
		return e.sign(rec)
	}
	return e.evaluate(ctx, c, &resp, start, "", false)
}

// evaluate is the shared back half of a round: replay defense, binding,
// checks, aggregation. timedOut marks a response truncated by the workload
// deadline; its rejection reason reports the blown window rather than the
// proof failure it causes.
func (e *Engine) evaluate(ctx context.Context, c *Challenge, resp *Response, start time.Time, sourceName string, timedOut bool) (*AttestationRecord, error) {
	now := time.Now().UTC()

	err := e.opts.Ledger.Consume(ctx, c.TargetID, c.NonceHex, now)
	switch {
	case errors.Is(err, ErrReplayedNonce):
		if e.opts.Audit != nil {
			if aerr := e.opts.Audit.LogReplayDetected(ctx, c.RoundID, c.TargetID, c.NonceHex); aerr != nil {
				e.log.Warn("audit write failed", "event", "replay_detected", "error", aerr)
			}
		}
		rec := Rejected(c, ReasonReplay, "nonce presented twice")
		e.finish(ctx, rec, start)
		return e.sign(rec)
	case errors.Is(err, ErrChallengeExpired):
		rec := Rejected(c, ReasonExpired, "response arrived after challenge TTL")
		e.finish(ctx, rec, start)
		return e.sign(rec)
	case err != nil:
		return nil, fmt.Errorf("consume nonce: %w", err)
	}

	if err := resp.BindsTo(c); err != nil {
		rec := Rejected(c, ReasonMalformed, err.Error())
		e.finish(ctx, rec, start)
		return e.sign(rec)
	}

	cal := DefaultCalibration()
	if e.opts.CalibrationFor != nil {
		cal = e.opts.CalibrationFor(resp.Profile.ArchClass)
	}

	results := RunChecks(c, resp, cal)
	rec := Aggregate(c, resp, results, e.opts.Threshold)
	rec.SourceName = sourceName
	if e.opts.Tiers != nil && rec.ArchClass != "" {
		rec.AntiquityTier = e.opts.Tiers.TierFor(rec.ArchClass)
	}
	if timedOut && rec.Rejection != nil {
		rec.Rejection.Reason = ReasonTimeout
		rec.Rejection.Detail = "timing window exceeded during collection"
	}

	e.finish(ctx, rec, start)
	return e.sign(rec)
}

// finish emits logs, metrics, and the audit trail for a completed round.
func (e *Engine) finish(ctx context.Context, rec *AttestationRecord, start time.Time) {
	elapsed := time.Since(start)

	if e.opts.Audit != nil {
		details := map[string]interface{}{}
		if rec.Rejection != nil {
			details["reason"] = rec.Rejection.Reason
		}
		if err := e.opts.Audit.LogVerdict(ctx, rec.RoundID, rec.TargetID, rec.Verdict, rec.Confidence, details); err != nil {
			e.log.Warn("audit write failed", "event", "verdict", "error", err)
		}
	}

	if e.opts.Metrics != nil {
		e.opts.Metrics.RoundCompleted(rec.Verdict, rec.Confidence, elapsed)
		if rec.Rejection != nil {
			e.opts.Metrics.RoundRejected(rec.Rejection.Reason)
		}
		for _, ck := range rec.Checks {
			if !ck.Passed {
				e.opts.Metrics.CheckFailed(ck.Name)
			}
		}
	}

	if rec.Verdict == VerdictVerified {
		e.log.Info("round verified",
			"round", rec.RoundID,
			"target", rec.TargetID,
			"confidence", rec.Confidence,
			"arch_class", rec.ArchClass,
			"elapsed", elapsed.String(),
		)
		return
	}

	reason := ""
	if rec.Rejection != nil {
		reason = rec.Rejection.Reason
	}
	e.log.Warn("round rejected",
		"round", rec.RoundID,
		"target", rec.TargetID,
		"confidence", rec.Confidence,
		"reason", reason,
		"elapsed", elapsed.String(),
	)
}

// sign fills the signature fields when a signer is configured.
func (e *Engine) sign(rec *AttestationRecord) (*AttestationRecord, error) {
	if e.opts.Signer == nil {
		return rec, nil
	}
	payload, err := rec.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	sig, pub, err := e.opts.Signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign record: %w", err)
	}
	rec.Signature = sig
	rec.PublicKey = pub
	return rec, nil
}
