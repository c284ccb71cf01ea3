// Command rustchain-attest runs a hardware attestation round on the
// local machine and emits a signed attestation record.
//
// Each round derives its challenge parameters from the previous block
// hash, executes the timing workloads natively, evaluates the validator
// suite, and writes the resulting record as JSON. Consumed nonces are
// tracked in a local SQLite ledger so a captured response can never be
// replayed into a later round.
//
// Usage:
//
//	rustchain-attest [flags]
//
// Examples:
//
//	# Bootstrap round (no prior block hash)
//	rustchain-attest -round 1 -target node-7f3a
//
//	# Seeded round
//	rustchain-attest -round 892 -target node-7f3a -block-hash 6fd43e...
//
//	# Write the record to a file and serve metrics while running
//	rustchain-attest -round 893 -target node-7f3a -output record.json -metrics-addr :9341
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Scottcjn/Rustchain-sub002/internal/attest"
	"github.com/Scottcjn/Rustchain-sub002/internal/config"
	"github.com/Scottcjn/Rustchain-sub002/internal/entropy"
	"github.com/Scottcjn/Rustchain-sub002/internal/hwdb"
	"github.com/Scottcjn/Rustchain-sub002/internal/logging"
	"github.com/Scottcjn/Rustchain-sub002/internal/metrics"
	"github.com/Scottcjn/Rustchain-sub002/internal/schema"
	"github.com/Scottcjn/Rustchain-sub002/internal/signer"
	"github.com/Scottcjn/Rustchain-sub002/internal/store"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file path (default: platform config dir)")
	roundID := flag.Uint64("round", 0, "round identifier (required)")
	targetID := flag.String("target", "", "target node identifier (overrides config)")
	blockHash := flag.String("block-hash", "", "previous block hash in hex (empty: bootstrap mode)")
	output := flag.String("output", "", "output file for the record (default: stdout)")
	dbPath := flag.String("db", "", "ledger database path (overrides config)")
	keyPath := flag.String("key", "", "Ed25519 signing key path (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	versionFlag := flag.Bool("version", false, "print version and exit")
	exitCode := flag.Bool("exit-code", true, "exit with non-zero code when the verdict is REJECTED")

	flag.Parse()

	if *versionFlag {
		fmt.Printf("rustchain-attest %s (commit: %s, built: %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	if *roundID == 0 {
		fmt.Fprintf(os.Stderr, "Error: -round is required\n\n")
		flag.Usage()
		os.Exit(2)
	}

	path := *configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}
	if *targetID != "" {
		cfg.Engine.TargetID = *targetID
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}
	if *keyPath != "" {
		cfg.Signing.KeyPath = *keyPath
	}
	if cfg.Engine.TargetID == "" {
		fmt.Fprintf(os.Stderr, "Error: no target ID (set -target or engine.target_id)\n")
		os.Exit(2)
	}

	logCfg, err := cfg.Logging.LoggerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	logCfg.Component = "rustchain-attest"
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	logging.SetDefault(logger)
	defer logging.RecoverPanic()

	rec, err := run(cfg, logger, *roundID, *blockHash, *metricsAddr)
	if err != nil {
		logger.Error("attestation round failed", "error", err)
		os.Exit(1)
	}

	data, err := rec.Encode()
	if err != nil {
		logger.Error("encode record", "error", err)
		os.Exit(1)
	}
	data = append(data, '\n')

	if *output != "" {
		if err := os.WriteFile(*output, data, 0644); err != nil {
			logger.Error("write record", "error", err)
			os.Exit(1)
		}
	} else {
		os.Stdout.Write(data)
	}

	if *exitCode && rec.Verdict != attest.VerdictVerified {
		os.Exit(1)
	}
}

// run wires the engine dependencies and executes one round.
func run(cfg *config.Config, logger *logging.Logger, roundID uint64, blockHashHex, metricsAddr string) (*attest.AttestationRecord, error) {
	ctx := context.Background()

	var prevBlockHash []byte
	if blockHashHex != "" {
		var err error
		prevBlockHash, err = hex.DecodeString(blockHashHex)
		if err != nil {
			return nil, fmt.Errorf("decode block hash: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	ledger, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.Close()

	if n, err := ledger.Purge(ctx, time.Now().UTC(), cfg.NonceRetention()); err != nil {
		logger.Warn("ledger purge failed", "error", err)
	} else if n > 0 {
		logger.Debug("purged stale ledger rows", "rows", n)
	}

	var recordSigner attest.RecordSigner
	if cfg.Signing.KeyPath != "" {
		s, err := signer.FromFile(cfg.Signing.KeyPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load signing key: %w", err)
			}
			logger.Warn("signing key not found, emitting unsigned record", "path", cfg.Signing.KeyPath)
		} else {
			recordSigner = s
		}
	}

	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("compile schemas: %w", err)
	}

	db, err := loadHWDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("load hardware classes: %w", err)
	}

	m := metrics.GetMetrics()
	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Default().HTTPHandler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Warn("metrics listener stopped", "error", err)
			}
		}()
	}

	calibrationFor, stopWatch, err := calibrationSource(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer stopWatch()

	var audit *logging.AuditLogger
	if cfg.Logging.AuditEnabled {
		acfg := logging.DefaultAuditConfig()
		if cfg.Logging.AuditPath != "" {
			acfg.FilePath = cfg.Logging.AuditPath
		}
		acfg.Component = "rustchain-attest"
		audit, err = logging.NewAuditLogger(acfg)
		if err != nil {
			logger.Warn("audit log unavailable", "error", err)
			audit = nil
		} else {
			defer audit.Close()
		}
	}

	engine, err := attest.NewEngine(attest.Options{
		Ledger:         ledger,
		Signer:         recordSigner,
		Schema:         validator,
		Tiers:          db,
		Metrics:        m,
		Logger:         logger,
		Audit:          audit,
		Threshold:      cfg.Engine.Threshold,
		TTL:            cfg.ChallengeTTL(),
		TimeoutMargin:  cfg.TimeoutMargin(),
		CalibrationFor: calibrationFor,
	})
	if err != nil {
		return nil, err
	}

	src := entropy.NewNativeSource(db)
	src.ConfigureProbes(entropy.ProbeOptions{
		TPMEnabled:  cfg.Hardware.TPMEnabled,
		TPMPath:     cfg.Hardware.TPMPath,
		DBusEnabled: cfg.Hardware.DBusEnabled,
	})
	logger.Info("starting attestation round",
		"round", roundID,
		"target", cfg.Engine.TargetID,
		"source", src.Name(),
		"bootstrap", len(prevBlockHash) == 0,
	)

	rec, err := engine.RunRound(ctx, roundID, prevBlockHash, cfg.Engine.TargetID, src)
	if err != nil {
		return nil, err
	}

	if err := ledger.SaveRecord(ctx, rec); err != nil {
		logger.Warn("record not archived", "error", err)
	}
	return rec, nil
}

// loadHWDB returns the embedded class table or a file override.
func loadHWDB(cfg *config.Config) (*hwdb.DB, error) {
	if cfg.Hardware.HWDBPath != "" {
		return hwdb.LoadFile(cfg.Hardware.HWDBPath)
	}
	return hwdb.Load()
}

// calibrationSource returns the calibration lookup, wiring the live
// file watcher when configured. The returned stop function is always
// non-nil.
func calibrationSource(cfg *config.Config, logger *logging.Logger) (func(string) attest.Calibration, func(), error) {
	if cfg.Calibration.FilePath == "" {
		return cfg.CalibrationFor, func() {}, nil
	}

	w, err := config.NewCalibrationWatcher(cfg.Calibration.FilePath, cfg.Calibration)
	if err != nil {
		return nil, nil, fmt.Errorf("load calibration file: %w", err)
	}
	if cfg.Calibration.LiveReload {
		if err := w.Start(); err != nil {
			return nil, nil, fmt.Errorf("watch calibration file: %w", err)
		}
		logger.Debug("calibration live reload active", "path", cfg.Calibration.FilePath)
		return w.CalibrationFor, func() { _ = w.Stop() }, nil
	}
	return w.CalibrationFor, func() {}, nil
}
