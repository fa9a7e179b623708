package erasure_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbc-go/rbc/crypto/erasure"
)

func TestEncodeReconstructRoundTrip(t *testing.T) {
	const data, total = 3, 7 // f=2, n=7 => data=f+1=3
	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, to pad this out a bit")

	shards, err := erasure.Encode(payload, data, total)
	require.NoError(t, err)
	require.Len(t, shards, total)

	// Drop all but exactly `data` shards, scattered across the set.
	sparse := make([][]byte, total)
	sparse[0] = shards[0]
	sparse[3] = shards[3]
	sparse[6] = shards[6]

	got, err := erasure.Reconstruct(sparse, data, total)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReconstructFailsWithTooFewShards(t *testing.T) {
	const data, total = 3, 7
	payload := []byte("short payload")

	shards, err := erasure.Encode(payload, data, total)
	require.NoError(t, err)

	sparse := make([][]byte, total)
	sparse[0] = shards[0]
	sparse[1] = shards[1]

	_, err = erasure.Reconstruct(sparse, data, total)
	assert.Error(t, err)
}

func TestEncodeRejectsInvalidParameters(t *testing.T) {
	_, err := erasure.Encode([]byte("x"), 0, 4)
	assert.Error(t, err)

	_, err = erasure.Encode([]byte("x"), 5, 4)
	assert.Error(t, err)
}

func TestEncodeHandlesEmptyPayload(t *testing.T) {
	const data, total = 2, 5
	shards, err := erasure.Encode(nil, data, total)
	require.NoError(t, err)

	sparse := make([][]byte, total)
	sparse[0] = shards[0]
	sparse[1] = shards[1]

	got, err := erasure.Reconstruct(sparse, data, total)
	require.NoError(t, err)
	assert.Empty(t, got)
}
