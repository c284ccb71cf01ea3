package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Scottcjn/Rustchain-sub002/internal/attest"
)

// SaveRecord archives a finished record. Saving the same (round, target)
// twice overwrites: aggregation is idempotent, so the payload is too.
func (s *Store) SaveRecord(ctx context.Context, rec *attest.AttestationRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attestation_records (round_id, target_id, verdict, confidence, created_at, record_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (round_id, target_id) DO UPDATE SET
			verdict = excluded.verdict,
			confidence = excluded.confidence,
			created_at = excluded.created_at,
			record_json = excluded.record_json`,
		rec.RoundID, rec.TargetID, rec.Verdict, rec.Confidence, rec.Timestamp.UnixNano(), blob,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// GetRecord loads one record, or (nil, nil) when absent.
func (s *Store) GetRecord(ctx context.Context, roundID uint64, targetID string) (*attest.AttestationRecord, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record_json FROM attestation_records WHERE round_id = ? AND target_id = ?`,
		roundID, targetID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}

	var rec attest.AttestationRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

// RecordsForTarget returns a target's records, newest first, capped at
// limit.
func (s *Store) RecordsForTarget(ctx context.Context, targetID string, limit int) ([]*attest.AttestationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_json FROM attestation_records WHERE target_id = ? ORDER BY created_at DESC LIMIT ?`,
		targetID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*attest.AttestationRecord
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec attest.AttestationRecord
		if err := json.Unmarshal(blob, &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// VerifiedStreak counts consecutive VERIFIED verdicts from the newest
// record backwards. Consensus layers use streaks for trust ramping.
func (s *Store) VerifiedStreak(ctx context.Context, targetID string) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT verdict FROM attestation_records WHERE target_id = ? ORDER BY created_at DESC`,
		targetID,
	)
	if err != nil {
		return 0, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	streak := 0
	for rows.Next() {
		var verdict string
		if err := rows.Scan(&verdict); err != nil {
			return 0, fmt.Errorf("scan verdict: %w", err)
		}
		if verdict != attest.VerdictVerified {
			break
		}
		streak++
	}
	return streak, rows.Err()
}
