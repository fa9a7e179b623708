package reclaim_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbc-go/rbc/core/reclaim"
	"github.com/rbc-go/rbc/types"
)

func TestDueAfterWindowElapses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tracker := reclaim.New(clock, time.Minute)

	tracker.MarkTerminated(types.InstanceID(1))
	assert.Empty(t, tracker.Due())

	clock.Advance(30 * time.Second)
	assert.Empty(t, tracker.Due(), "window has not fully elapsed yet")

	clock.Advance(31 * time.Second)
	due := tracker.Due()
	require.Len(t, due, 1)
	assert.Equal(t, types.InstanceID(1), due[0])

	assert.Empty(t, tracker.Due(), "already-reported entries are not reported twice")
}

func TestLenTracksUnreclaimedEntries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tracker := reclaim.New(clock, time.Minute)

	tracker.MarkTerminated(types.InstanceID(1))
	tracker.MarkTerminated(types.InstanceID(2))
	assert.Equal(t, 2, tracker.Len())

	clock.Advance(2 * time.Minute)
	tracker.Due()
	assert.Equal(t, 0, tracker.Len())
}
