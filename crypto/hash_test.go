package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rbc-go/rbc/crypto"
)

func TestSumDeterministic(t *testing.T) {
	hs := crypto.NewHashState()
	a := hs.Sum([]byte("payload"))
	b := hs.Sum([]byte("payload"))
	assert.Equal(t, a, b)

	c := hs.Sum([]byte("different payload"))
	assert.NotEqual(t, a, c)
}

func TestSumPairOrderMatters(t *testing.T) {
	hs := crypto.NewHashState()
	left := hs.Sum([]byte("left"))
	right := hs.Sum([]byte("right"))

	assert.NotEqual(t, hs.SumPair(left, right), hs.SumPair(right, left))
}

func TestHashIsZero(t *testing.T) {
	var h crypto.Hash
	assert.True(t, h.IsZero())

	hs := crypto.NewHashState()
	nonZero := hs.Sum([]byte("x"))
	assert.False(t, nonZero.IsZero())
}

func TestComputeAndVerifyMAC(t *testing.T) {
	key := []byte("shared-secret")
	data := []byte("message body")

	mac := crypto.ComputeMAC(key, data)
	assert.True(t, crypto.VerifyMAC(key, data, mac))

	assert.False(t, crypto.VerifyMAC([]byte("wrong-secret"), data, mac))
	assert.False(t, crypto.VerifyMAC(key, []byte("tampered body"), mac))
}
