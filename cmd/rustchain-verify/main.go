// Command rustchain-verify checks attestation records offline.
//
// It validates the record's structure against the published schema and
// verifies the Ed25519 signature over the canonical record bytes. No
// ledger or running engine is needed, so it suits:
// - Offline verification
// - Third-party audits
// - Automated verification pipelines
//
// Usage:
//
//	rustchain-verify [flags] <record.json>
//
// Examples:
//
//	# Basic verification
//	rustchain-verify record.json
//
//	# Pin the expected signing key
//	rustchain-verify -pubkey 4f2a... record.json
//
//	# JSON output for pipelines
//	rustchain-verify -format json record.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Scottcjn/Rustchain-sub002/internal/attest"
	"github.com/Scottcjn/Rustchain-sub002/internal/schema"
	"github.com/Scottcjn/Rustchain-sub002/internal/signer"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// report is the verification outcome for one record.
type report struct {
	Path        string `json:"path"`
	SchemaOK    bool   `json:"schema_ok"`
	SignatureOK bool   `json:"signature_ok"`
	Signed      bool   `json:"signed"`
	KeyPinned   bool   `json:"key_pinned"`
	Verdict     string `json:"verdict"`
	Confidence  int    `json:"confidence"`
	RoundID     uint64 `json:"round_id"`
	TargetID    string `json:"target_id"`
	Error       string `json:"error,omitempty"`
}

func (r report) valid(requireSigned bool) bool {
	if !r.SchemaOK {
		return false
	}
	if r.Signed {
		return r.SignatureOK
	}
	return !requireSigned
}

func main() {
	pubkey := flag.String("pubkey", "", "expected signing key in hex (rejects records signed by any other key)")
	formatStr := flag.String("format", "text", "output format: text, json")
	requireSigned := flag.Bool("require-signed", false, "fail unsigned records")
	versionFlag := flag.Bool("version", false, "print version and exit")
	quiet := flag.Bool("quiet", false, "quiet mode - only exit code")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "rustchain-verify - Verify attestation records\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <record.json>...\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("rustchain-verify %s (commit: %s, built: %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: record file required\n\n")
		flag.Usage()
		os.Exit(2)
	}

	validator, err := schema.NewValidator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error compiling schemas: %v\n", err)
		os.Exit(1)
	}

	allValid := true
	var reports []report
	for _, path := range flag.Args() {
		r := verifyFile(validator, path, *pubkey)
		reports = append(reports, r)
		if !r.valid(*requireSigned) {
			allValid = false
		}
	}

	if !*quiet {
		switch strings.ToLower(*formatStr) {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(reports); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
				os.Exit(1)
			}
		default:
			for _, r := range reports {
				printText(r, *requireSigned)
			}
		}
	}

	if !allValid {
		os.Exit(1)
	}
}

// verifyFile checks one record file.
func verifyFile(validator *schema.Validator, path, pinnedKey string) report {
	r := report{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		r.Error = fmt.Sprintf("read file: %v", err)
		return r
	}

	if err := validator.ValidateRecord(data); err != nil {
		r.Error = err.Error()
		return r
	}
	r.SchemaOK = true

	rec, err := attest.DecodeRecord(data)
	if err != nil {
		r.SchemaOK = false
		r.Error = err.Error()
		return r
	}
	r.Verdict = rec.Verdict
	r.Confidence = rec.Confidence
	r.RoundID = rec.RoundID
	r.TargetID = rec.TargetID

	if rec.Signature == "" {
		return r
	}
	r.Signed = true

	if pinnedKey != "" {
		r.KeyPinned = true
		if !strings.EqualFold(pinnedKey, rec.PublicKey) {
			r.Error = "record signed by a different key than -pubkey"
			return r
		}
	}

	payload, err := rec.CanonicalBytes()
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.SignatureOK = signer.Verify(rec.PublicKey, payload, rec.Signature)
	if !r.SignatureOK {
		r.Error = "signature does not match canonical record bytes"
	}
	return r
}

// printText writes a human-readable result line per record.
func printText(r report, requireSigned bool) {
	status := "OK"
	if !r.valid(requireSigned) {
		status = "FAIL"
	}
	fmt.Printf("%s: %s\n", r.Path, status)
	if r.Error != "" {
		fmt.Printf("  error:      %s\n", r.Error)
	}
	if r.SchemaOK {
		fmt.Printf("  round:      %d\n", r.RoundID)
		fmt.Printf("  target:     %s\n", r.TargetID)
		fmt.Printf("  verdict:    %s (confidence %d)\n", r.Verdict, r.Confidence)
	}
	switch {
	case r.Signed && r.SignatureOK:
		fmt.Printf("  signature:  valid\n")
	case r.Signed:
		fmt.Printf("  signature:  INVALID\n")
	default:
		fmt.Printf("  signature:  absent\n")
	}
}
