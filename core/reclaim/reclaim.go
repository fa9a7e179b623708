// Package reclaim bounds the otherwise-unbounded per-instance state
// map spec.md §9's design notes flag: it tracks which instances have
// reached TERMINATED and reports which ones are due for deletion once
// a quiescence window has passed.
package reclaim

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"

	"github.com/rbc-go/rbc/types"
)

// defaultCapacity bounds how many terminated instances we track, giving
// the tracker a hard ceiling on memory even under a flood of instances
// that never get reaped in time. Past it the oldest entry is evicted
// outright; an evicted entry is never reported by Due.
const defaultCapacity = 100_000

// Tracker records TERMINATED instances and their termination time, and
// answers which ones are now older than the configured window.
type Tracker struct {
	clock  clockwork.Clock
	window time.Duration
	cache  *lru.Cache
}

// New returns a Tracker that considers an instance reclaimable once
// window has elapsed since it terminated, grounded on
// drand/client/cache.go's lru.New usage for a bounded cache.
func New(clock clockwork.Clock, window time.Duration) *Tracker {
	cache, err := lru.New(defaultCapacity)
	if err != nil {
		// lru.New only errors for a non-positive size, and defaultCapacity is a constant.
		panic(err)
	}
	return &Tracker{clock: clock, window: window, cache: cache}
}

// MarkTerminated records that id just reached TERMINATED.
func (t *Tracker) MarkTerminated(id types.InstanceID) {
	t.cache.Add(id, t.clock.Now())
}

// Due returns every tracked instance whose quiescence window has
// elapsed, and stops tracking them. The caller is responsible for
// actually deleting the corresponding entry from its own instance map.
func (t *Tracker) Due() []types.InstanceID {
	now := t.clock.Now()
	var due []types.InstanceID
	for _, key := range t.cache.Keys() {
		terminatedAt, ok := t.cache.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(terminatedAt.(time.Time)) >= t.window {
			due = append(due, key.(types.InstanceID))
		}
	}
	for _, id := range due {
		t.cache.Remove(id)
	}
	return due
}

// Len reports how many instances are currently tracked as terminated
// but not yet reclaimed.
func (t *Tracker) Len() int {
	return t.cache.Len()
}
