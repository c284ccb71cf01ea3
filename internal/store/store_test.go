package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scottcjn/Rustchain-sub002/internal/attest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "attest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func issueChallenge(t *testing.T, s *Store, roundID uint64, target string, ttl time.Duration) *attest.Challenge {
	t.Helper()
	c, err := attest.GenerateChallenge(roundID, []byte("prev-block"), target, ttl)
	require.NoError(t, err)
	require.NoError(t, s.Issue(context.Background(), c))
	return c
}

func TestStore_OpenCreatesSchema(t *testing.T) {
	s := openTestStore(t)

	// Reopening the same file must be idempotent.
	s2, err := Open(filepath.Join(t.TempDir(), "fresh", "attest.db"))
	require.NoError(t, err)
	defer s2.Close()
	_ = s
}

func TestStore_ConsumeOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := issueChallenge(t, s, 1, "node-a", time.Minute)

	require.NoError(t, s.Consume(ctx, "node-a", c.NonceHex, time.Now()))

	err := s.Consume(ctx, "node-a", c.NonceHex, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, attest.ErrReplayedNonce)
}

func TestStore_ConsumeUnknownNonce(t *testing.T) {
	s := openTestStore(t)

	err := s.Consume(context.Background(), "node-a", "feedface", time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, attest.ErrReplayedNonce)
}

func TestStore_ConsumeWrongTarget(t *testing.T) {
	// A nonce issued to one target must not be consumable by another.
	s := openTestStore(t)
	c := issueChallenge(t, s, 1, "node-a", time.Minute)

	err := s.Consume(context.Background(), "node-b", c.NonceHex, time.Now())
	assert.ErrorIs(t, err, attest.ErrReplayedNonce)
}

func TestStore_ConsumeExpired(t *testing.T) {
	s := openTestStore(t)
	c := issueChallenge(t, s, 1, "node-a", time.Minute)

	err := s.Consume(context.Background(), "node-a", c.NonceHex, c.ExpiresAt.Add(time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, attest.ErrChallengeExpired)
}

func TestStore_IssueDuplicateNonce(t *testing.T) {
	s := openTestStore(t)
	c := issueChallenge(t, s, 1, "node-a", time.Minute)

	err := s.Issue(context.Background(), c)
	require.Error(t, err)
	assert.ErrorIs(t, err, attest.ErrReplayedNonce)
}

func TestStore_ReplaySurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "attest.db")

	s, err := Open(path)
	require.NoError(t, err)
	c, err := attest.GenerateChallenge(1, nil, "node-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Issue(ctx, c))
	require.NoError(t, s.Consume(ctx, "node-a", c.NonceHex, time.Now()))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	err = s2.Consume(ctx, "node-a", c.NonceHex, time.Now())
	assert.ErrorIs(t, err, attest.ErrReplayedNonce, "replay defense must survive restarts")
}

func TestStore_Purge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// One consumed long ago, one expired unconsumed, one live.
	old := issueChallenge(t, s, 1, "node-a", time.Minute)
	require.NoError(t, s.Consume(ctx, "node-a", old.NonceHex, now.Add(-48*time.Hour)))
	issueChallenge(t, s, 2, "node-a", -time.Hour)
	live := issueChallenge(t, s, 3, "node-a", time.Hour)

	n, err := s.Purge(ctx, now, 24*time.Hour)
	require.NoError(t, err)
	// The expired challenge plus the stale used-nonce row.
	assert.Equal(t, int64(2), n)

	// Live challenge still consumable after the purge.
	require.NoError(t, s.Consume(ctx, "node-a", live.NonceHex, now))
}

func TestStore_SaveAndGetRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := attest.GenerateChallenge(892, []byte("prev"), "node-a", time.Minute)
	require.NoError(t, err)
	rec := attest.Rejected(c, attest.ReasonTimeout, "window blown")
	require.NoError(t, s.SaveRecord(ctx, rec))

	got, err := s.GetRecord(ctx, 892, "node-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, attest.VerdictRejected, got.Verdict)
	assert.Equal(t, attest.ReasonTimeout, got.Rejection.Reason)

	missing, err := s.GetRecord(ctx, 893, "node-a")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_SaveRecordOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := attest.GenerateChallenge(1, nil, "node-a", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.SaveRecord(ctx, attest.Rejected(c, attest.ReasonTimeout, "")))
	require.NoError(t, s.SaveRecord(ctx, attest.Rejected(c, attest.ReasonReplay, "")))

	got, err := s.GetRecord(ctx, 1, "node-a")
	require.NoError(t, err)
	assert.Equal(t, attest.ReasonReplay, got.Rejection.Reason)
}

func TestStore_RecordsForTarget(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		c, err := attest.GenerateChallenge(i, nil, "node-a", time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.SaveRecord(ctx, attest.Rejected(c, attest.ReasonLowScore, "")))
	}

	recs, err := s.RecordsForTarget(ctx, "node-a", 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(5), recs[0].RoundID, "newest first")

	none, err := s.RecordsForTarget(ctx, "node-z", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_VerifiedStreak(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	save := func(round uint64, verdict string) {
		c, err := attest.GenerateChallenge(round, nil, "node-a", time.Minute)
		require.NoError(t, err)
		rec := attest.Rejected(c, attest.ReasonLowScore, "")
		if verdict == attest.VerdictVerified {
			rec.Verdict = attest.VerdictVerified
			rec.Rejection = nil
			rec.Confidence = 100
		}
		require.NoError(t, s.SaveRecord(ctx, rec))
	}

	save(1, attest.VerdictVerified)
	save(2, attest.VerdictRejected)
	save(3, attest.VerdictVerified)
	save(4, attest.VerdictVerified)

	streak, err := s.VerifiedStreak(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, 2, streak, "streak counts back from the newest round")
}
