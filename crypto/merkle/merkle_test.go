package merkle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbc-go/rbc/crypto"
	"github.com/rbc-go/rbc/crypto/merkle"
)

func leavesFor(t *testing.T, hs crypto.HashState, n int) []crypto.Hash {
	t.Helper()
	leaves := make([]crypto.Hash, n)
	for i := range leaves {
		leaves[i] = hs.Sum([]byte{byte(i)})
	}
	return leaves
}

func TestTreeRoundTrip(t *testing.T) {
	hs := crypto.NewHashState()
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 16} {
		leaves := leavesFor(t, hs, n)
		tree, err := merkle.New(leaves, hs)
		require.NoError(t, err)
		require.Equal(t, n, tree.NumLeaves())

		for i := 0; i < n; i++ {
			proof, err := tree.Proof(i)
			require.NoError(t, err)
			assert.True(t, merkle.Verify(hs, leaves[i], proof), "leaf %d should verify for n=%d", i, n)
		}
	}
}

func TestVerifyRejectsWrongLeaf(t *testing.T) {
	hs := crypto.NewHashState()
	leaves := leavesFor(t, hs, 4)
	tree, err := merkle.New(leaves, hs)
	require.NoError(t, err)

	proof, err := tree.Proof(1)
	require.NoError(t, err)

	wrongLeaf := hs.Sum([]byte("not the real shard"))
	assert.False(t, merkle.Verify(hs, wrongLeaf, proof))
}

func TestVerifyRejectsTamperedSibling(t *testing.T) {
	hs := crypto.NewHashState()
	leaves := leavesFor(t, hs, 8)
	tree, err := merkle.New(leaves, hs)
	require.NoError(t, err)

	proof, err := tree.Proof(3)
	require.NoError(t, err)
	require.NotEmpty(t, proof.Siblings)

	proof.Siblings[0] = hs.Sum([]byte("tampered"))
	assert.False(t, merkle.Verify(hs, leaves[3], proof))
}

func TestNewRejectsEmptyLeaves(t *testing.T) {
	hs := crypto.NewHashState()
	_, err := merkle.New(nil, hs)
	assert.Error(t, err)
}

func TestProofRejectsOutOfRangeIndex(t *testing.T) {
	hs := crypto.NewHashState()
	leaves := leavesFor(t, hs, 3)
	tree, err := merkle.New(leaves, hs)
	require.NoError(t, err)

	_, err = tree.Proof(-1)
	assert.Error(t, err)
	_, err = tree.Proof(3)
	assert.Error(t, err)
}
