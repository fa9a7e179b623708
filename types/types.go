// Package types holds the small value types shared by every layer of
// the rbc node: replica identifiers, instance status, and the syncer
// control protocol.
package types

import "fmt"

// Replica identifies one node out of the n participants.
type Replica uint32

// InstanceID uniquely identifies one RBC invocation on a given node.
type InstanceID uint64

// Status is the monotone lifecycle of a single RBC instance.
// Transitions only ever move forward: WAITING -> INIT -> ECHO_SENT ->
// READY_SENT -> TERMINATED.
type Status uint8

const (
	// StatusWaiting is the zero value: no INIT observed yet.
	StatusWaiting Status = iota
	StatusInit
	StatusEchoSent
	StatusReadySent
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "WAITING"
	case StatusInit:
		return "INIT"
	case StatusEchoSent:
		return "ECHO_SENT"
	case StatusReadySent:
		return "READY_SENT"
	case StatusTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// AtLeast reports whether s has progressed at least as far as other in
// the monotone lifecycle.
func (s Status) AtLeast(other Status) bool {
	return s >= other
}

// instanceIDThreshold is the width of the disjoint per-dealer id range,
// following original_source's `my_replica * 10_000 + k` scheme.
const instanceIDThreshold = 10_000

// InstanceAllocator hands out instance ids from a range disjoint from
// every other replica's range, so two dealers can never collide
// without coordination (spec.md §3, §9 design notes). It is not
// goroutine-safe; callers must only use it from the dispatcher
// goroutine that owns the Context.
type InstanceAllocator struct {
	self   Replica
	nextID InstanceID
}

// NewInstanceAllocator returns an allocator seeded at the start of
// self's disjoint range.
func NewInstanceAllocator(self Replica) *InstanceAllocator {
	return &InstanceAllocator{
		self:   self,
		nextID: InstanceID(self) * instanceIDThreshold,
	}
}

// Next returns the next free instance id in this replica's range. It
// panics if the range is exhausted, matching spec.md §9's note that
// this scheme only works below the per-node cap; callers who expect to
// dealer instanceIDThreshold or more concurrent/historical instances
// per node (the range holds instanceIDThreshold-1 ids) should use
// PairID instead.
func (a *InstanceAllocator) Next() InstanceID {
	a.nextID++
	if a.nextID >= InstanceID(a.self+1)*instanceIDThreshold {
		panic(fmt.Sprintf("rbc: instance id range exhausted for replica %d", a.self))
	}
	return a.nextID
}

// PairID is the wider-id-space alternative spec.md §9 recommends for
// production use: a (dealer, counter) pair that never overflows a
// fixed per-replica range. It is provided for callers that outgrow
// InstanceAllocator; Context does not use it by default, to stay
// faithful to original_source's scheme.
type PairID struct {
	Dealer  Replica
	Counter uint64
}

func (p PairID) String() string {
	return fmt.Sprintf("%d.%d", p.Dealer, p.Counter)
}

// SyncState is the syncer control-protocol command (spec.md §6).
type SyncState uint8

const (
	SyncAlive SyncState = iota
	SyncStart
	SyncStop
)

func (s SyncState) String() string {
	switch s {
	case SyncAlive:
		return "ALIVE"
	case SyncStart:
		return "START"
	case SyncStop:
		return "STOP"
	default:
		return fmt.Sprintf("SyncState(%d)", uint8(s))
	}
}

// SyncMsg is exchanged between a node and its supervising syncer.
type SyncMsg struct {
	Sender Replica
	State  SyncState
	Value  []byte
}
