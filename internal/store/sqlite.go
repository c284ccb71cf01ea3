// Package store persists the replay ledger and finished attestation
// records in SQLite. The ledger is the authority on nonce single-use:
// uniqueness is enforced by primary keys, so two racing consumers cannot
// both win even across processes sharing the database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Scottcjn/Rustchain-sub002/internal/attest"
)

// Schema for the attestation store.
const schema = `
CREATE TABLE IF NOT EXISTS attest_challenges (
    nonce       TEXT PRIMARY KEY,
    target_id   TEXT NOT NULL,
    round_id    INTEGER NOT NULL,
    issued_at   INTEGER NOT NULL,
    expires_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_challenges_expiry ON attest_challenges(expires_at);

CREATE TABLE IF NOT EXISTS used_nonces (
    target_id   TEXT NOT NULL,
    nonce       TEXT NOT NULL,
    used_at     INTEGER NOT NULL,
    PRIMARY KEY (target_id, nonce)
);

CREATE TABLE IF NOT EXISTS attestation_records (
    round_id    INTEGER NOT NULL,
    target_id   TEXT NOT NULL,
    verdict     TEXT NOT NULL,
    confidence  INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,
    record_json BLOB NOT NULL,
    PRIMARY KEY (round_id, target_id)
);

CREATE INDEX IF NOT EXISTS idx_records_target ON attestation_records(target_id, created_at);
`

// Store is the SQLite-backed attestation store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Issue registers a challenge nonce. Registering the same nonce twice is
// a generation bug, surfaced as ErrReplayedNonce.
func (s *Store) Issue(ctx context.Context, c *attest.Challenge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attest_challenges (nonce, target_id, round_id, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.NonceHex, c.TargetID, c.RoundID, c.IssuedAt.UnixNano(), c.ExpiresAt.UnixNano(),
	)
	if isConstraintErr(err) {
		return fmt.Errorf("challenge nonce %s: %w", c.NonceHex, attest.ErrReplayedNonce)
	}
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

// Consume marks a nonce as used. Exactly one call per (target, nonce)
// succeeds; later calls get ErrReplayedNonce. A nonce that was never
// issued is treated as a replay too: accepting it would let an attacker
// mint their own challenges. An issued-but-expired nonce returns
// ErrChallengeExpired.
func (s *Store) Consume(ctx context.Context, targetID, nonceHex string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var expiresAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT expires_at FROM attest_challenges WHERE nonce = ? AND target_id = ?`,
		nonceHex, targetID,
	).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("nonce %s never issued for %s: %w", nonceHex, targetID, attest.ErrReplayedNonce)
	}
	if err != nil {
		return fmt.Errorf("look up challenge: %w", err)
	}

	if at.UnixNano() > expiresAt {
		return fmt.Errorf("nonce %s: %w", nonceHex, attest.ErrChallengeExpired)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO used_nonces (target_id, nonce, used_at) VALUES (?, ?, ?)`,
		targetID, nonceHex, at.UnixNano(),
	)
	if isConstraintErr(err) {
		return fmt.Errorf("nonce %s: %w", nonceHex, attest.ErrReplayedNonce)
	}
	if err != nil {
		return fmt.Errorf("mark nonce used: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit nonce consume: %w", err)
	}
	return nil
}

// Purge removes expired unconsumed challenges and used-nonce rows older
// than retain. Used nonces must outlive their challenge TTL, otherwise a
// purge window reopens replay.
func (s *Store) Purge(ctx context.Context, now time.Time, retain time.Duration) (int64, error) {
	var total int64

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM attest_challenges WHERE expires_at < ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge challenges: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	cutoff := now.Add(-retain).UnixNano()
	res, err = s.db.ExecContext(ctx,
		`DELETE FROM used_nonces WHERE used_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge used nonces: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	return total, nil
}

// isConstraintErr reports whether err is a primary-key or uniqueness
// violation.
func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
