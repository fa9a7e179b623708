// Package bracha implements the naive three-phase Bracha RBC state
// machine (spec.md §4.2): the entire payload travels in every
// protocol message, and termination rests on two sender-counted
// thresholds, n-f and f+1.
package bracha

import (
	"context"
	"fmt"

	"github.com/rbc-go/rbc/common/log"
	"github.com/rbc-go/rbc/core/reclaim"
	"github.com/rbc-go/rbc/crypto"
	"github.com/rbc-go/rbc/types"
	"github.com/rbc-go/rbc/wire"
)

// Network is the subset of Context a Manager needs: broadcasting to
// every other replica, sending to one, and knowing our own id.
type Network interface {
	Self() types.Replica
	Peers() []types.Replica
	Broadcast(ctx context.Context, m wire.Message)
	Send(ctx context.Context, to types.Replica, m wire.Message)
}

// DeliverFunc is invoked exactly once per instance, the moment n-f
// ready senders agree on a payload (spec.md §3 invariants: integrity).
type DeliverFunc func(instance types.InstanceID, payload []byte)

// senderSet dedupes by replica id, matching spec.md's "no negative
// acknowledgement, counting is set-based on sender id" design.
type senderSet map[types.Replica]struct{}

func (s senderSet) add(r types.Replica) (isNew bool) {
	if _, ok := s[r]; ok {
		return false
	}
	s[r] = struct{}{}
	return true
}

// instanceState is the per-instance-id state table from spec.md §3.
type instanceState struct {
	status types.Status

	initSeen bool // idempotency guard: only the first INIT is acted upon

	echoSenders  map[crypto.Hash]senderSet
	readySenders map[crypto.Hash]senderSet
	payloadOf    map[crypto.Hash][]byte

	echoed      bool // at most one ECHO ever sent
	ready       bool // at most one READY ever sent
	delivered   bool // write-once
	deliveredAt []byte
}

func newInstanceState() *instanceState {
	return &instanceState{
		echoSenders:  make(map[crypto.Hash]senderSet),
		readySenders: make(map[crypto.Hash]senderSet),
		payloadOf:    make(map[crypto.Hash][]byte),
	}
}

// Manager owns every Bracha instance on this node. It is driven
// exclusively from the owning Context's single dispatcher goroutine
// (spec.md §4.1); none of its methods take a lock.
type Manager struct {
	l         log.Logger
	net       Network
	self      types.Replica
	numNodes  int
	numFaults int
	byz       bool
	crash     bool
	hs        crypto.HashState
	deliver   DeliverFunc

	instances map[types.InstanceID]*instanceState
	reclaim   *reclaim.Tracker
}

// Config carries the fault-tolerance and test-injection parameters a
// Manager needs (spec.md §6).
type Config struct {
	NumNodes  int
	NumFaults int
	Byzantine bool
	Crash     bool
}

// NewManager constructs a Bracha Manager.
func NewManager(l log.Logger, net Network, cfg Config) *Manager {
	return &Manager{
		l:         l.Named("bracha"),
		net:       net,
		self:      net.Self(),
		numNodes:  cfg.NumNodes,
		numFaults: cfg.NumFaults,
		byz:       cfg.Byzantine,
		crash:     cfg.Crash,
		hs:        crypto.NewHashState(),
		instances: make(map[types.InstanceID]*instanceState),
	}
}

// SetDeliverFunc registers the callback invoked on delivery.
func (m *Manager) SetDeliverFunc(fn DeliverFunc) {
	m.deliver = fn
}

func (m *Manager) honestMajority() int {
	return m.numNodes - m.numFaults
}

func (m *Manager) reconstructionThreshold() int {
	return m.numFaults + 1
}

func (m *Manager) get(inst types.InstanceID) *instanceState {
	st, ok := m.instances[inst]
	if !ok {
		// Unknown instance id in an inbound message: lazily create a
		// WAITING entry (spec.md §7 error table).
		st = newInstanceState()
		m.instances[inst] = st
	}
	return st
}

func (m *Manager) requireStatus(inst types.InstanceID, st *instanceState, want types.Status) {
	if st.status != want {
		panic(fmt.Sprintf("bracha: instance %d expected status %s, got %s", inst, want, st.status))
	}
}

func (m *Manager) terminate(inst types.InstanceID, st *instanceState, payload []byte) {
	if st.delivered {
		return
	}
	st.delivered = true
	st.deliveredAt = payload
	st.status = types.StatusTerminated
	if m.reclaim != nil {
		m.reclaim.MarkTerminated(inst)
	}
	if m.deliver != nil {
		m.deliver(inst, payload)
	}
}

// EnableReclamation bounds the instance map per spec.md §9's design
// note; ReapDue should be called periodically by the owning Context.
func (m *Manager) EnableReclamation(tracker *reclaim.Tracker) {
	m.reclaim = tracker
}

// ReapDue deletes every TERMINATED instance whose reclamation window
// has elapsed.
func (m *Manager) ReapDue() int {
	if m.reclaim == nil {
		return 0
	}
	due := m.reclaim.Due()
	for _, id := range due {
		delete(m.instances, id)
	}
	return len(due)
}
