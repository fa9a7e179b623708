package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbc-go/rbc/types"
)

func TestStatusAtLeast(t *testing.T) {
	assert.True(t, types.StatusReadySent.AtLeast(types.StatusEchoSent))
	assert.True(t, types.StatusEchoSent.AtLeast(types.StatusEchoSent))
	assert.False(t, types.StatusInit.AtLeast(types.StatusEchoSent))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "WAITING", types.StatusWaiting.String())
	assert.Equal(t, "TERMINATED", types.StatusTerminated.String())
}

func TestInstanceAllocatorDisjointRanges(t *testing.T) {
	a0 := types.NewInstanceAllocator(0)
	a1 := types.NewInstanceAllocator(1)

	first0 := a0.Next()
	first1 := a1.Next()
	assert.NotEqual(t, first0, first1)
	assert.Less(t, uint64(first0), uint64(10_000))
	assert.GreaterOrEqual(t, uint64(first1), uint64(10_000))
	assert.Less(t, uint64(first1), uint64(20_000))
}

func TestInstanceAllocatorMonotonic(t *testing.T) {
	a := types.NewInstanceAllocator(2)
	prev := a.Next()
	for i := 0; i < 100; i++ {
		next := a.Next()
		assert.Greater(t, uint64(next), uint64(prev))
		prev = next
	}
}

func TestInstanceAllocatorPanicsOnExhaustion(t *testing.T) {
	require.Panics(t, func() {
		a := types.NewInstanceAllocator(0)
		for i := 0; i < 10_000; i++ {
			a.Next()
		}
	})
}

func TestPairIDString(t *testing.T) {
	p := types.PairID{Dealer: 3, Counter: 42}
	assert.Equal(t, "3.42", p.String())
}
