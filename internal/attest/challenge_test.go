package attest

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateChallenge(t *testing.T) {
	c, err := GenerateChallenge(892, []byte("prev-block"), "node-a", 5*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, uint64(892), c.RoundID)
	assert.Equal(t, "node-a", c.TargetID)
	assert.False(t, c.BootstrapMode)
	assert.NoError(t, c.Params.Validate())
	assert.Equal(t, hex.EncodeToString(c.Nonce[:]), c.NonceHex)
	assert.True(t, c.ExpiresAt.After(c.IssuedAt))
}

func TestGenerateChallenge_BootstrapMode(t *testing.T) {
	c, err := GenerateChallenge(1, nil, "node-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, c.BootstrapMode)
}

func TestGenerateChallenge_NonceFreshness(t *testing.T) {
	// Parameters repeat for the same block hash; nonces never do.
	seen := make(map[string]bool)
	var params []ChallengeParameters
	for i := 0; i < 64; i++ {
		c, err := GenerateChallenge(892, []byte("prev-block"), "node-a", time.Minute)
		require.NoError(t, err)
		require.False(t, seen[c.NonceHex], "nonce repeated")
		seen[c.NonceHex] = true
		params = append(params, c.Params)
	}
	for _, p := range params[1:] {
		assert.Equal(t, params[0], p, "parameters must be deterministic per block hash")
	}
}

func TestChallenge_Expired(t *testing.T) {
	c, err := GenerateChallenge(1, nil, "node-a", time.Minute)
	require.NoError(t, err)

	assert.False(t, c.Expired(c.IssuedAt))
	assert.False(t, c.Expired(c.ExpiresAt))
	assert.True(t, c.Expired(c.ExpiresAt.Add(time.Nanosecond)))
}

func TestComputeProof(t *testing.T) {
	var nonce [32]byte
	copy(nonce[:], []byte("0123456789abcdef0123456789abcdef"))

	// One round is just the seed digest.
	assert.Equal(t, ProofSeed(nonce, 7), ComputeProof(nonce, 7, 1))

	// Two rounds hash the seed once more.
	seed := ProofSeed(nonce, 7)
	assert.Equal(t, sha256.Sum256(seed[:]), ComputeProof(nonce, 7, 2))

	// Deterministic, and bound to both nonce and round.
	assert.Equal(t, ComputeProof(nonce, 7, 500), ComputeProof(nonce, 7, 500))
	assert.NotEqual(t, ComputeProof(nonce, 7, 500), ComputeProof(nonce, 8, 500))

	other := nonce
	other[0] ^= 0xff
	assert.NotEqual(t, ComputeProof(nonce, 7, 500), ComputeProof(other, 7, 500))
}
