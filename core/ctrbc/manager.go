// Package ctrbc implements the communication-efficient RBC variant
// (spec.md §4.3): the dealer erasure-codes the payload into n shards
// committed to by a Merkle tree, and only a root hash plus one shard
// per message crosses the wire instead of the full payload.
package ctrbc

import (
	"context"
	"fmt"

	"github.com/rbc-go/rbc/common/log"
	"github.com/rbc-go/rbc/core/reclaim"
	"github.com/rbc-go/rbc/crypto"
	"github.com/rbc-go/rbc/crypto/erasure"
	"github.com/rbc-go/rbc/crypto/merkle"
	"github.com/rbc-go/rbc/types"
	"github.com/rbc-go/rbc/wire"
)

// Network is the subset of Context a Manager needs.
type Network interface {
	Self() types.Replica
	Peers() []types.Replica
	Send(ctx context.Context, to types.Replica, m wire.Message)
	Broadcast(ctx context.Context, m wire.Message)
}

// DeliverFunc is invoked exactly once per instance, once the
// reconstructed payload's re-encoded Merkle root matches the one the
// dealer committed to.
type DeliverFunc func(instance types.InstanceID, payload []byte)

type senderSet map[types.Replica]struct{}

func (s senderSet) add(r types.Replica) (isNew bool) {
	if _, ok := s[r]; ok {
		return false
	}
	s[r] = struct{}{}
	return true
}

// instanceState is the per-instance-id state table for CT-RBC. Unlike
// Bracha, agreement is keyed on the committed Merkle root rather than
// a hash of the full payload, since honest replicas each hold a
// different shard of the same payload. Every counting structure is
// indexed by root (spec.md §3: "echo_counts — mapping root→count"), so
// a Byzantine node presenting a fabricated root can never shadow the
// real one or wedge a late joiner onto the wrong commitment.
type instanceState struct {
	status types.Status

	initSeen bool

	echoSenders  map[crypto.Hash]senderSet
	readySenders map[crypto.Hash]senderSet

	// shardsByRoot[root][replicaIndex] holds a shard and the proof that
	// authenticated it, only once that proof has verified against root
	// (spec.md §3's invariant: "a shard is inserted into
	// shards_received[i] only after its Merkle proof verifies"). The
	// proof travels with the shard so it can be re-broadcast verbatim
	// in a later READY without being confused for a different index's
	// proof.
	shardsByRoot map[crypto.Hash]map[int]verifiedShard

	echoed    bool // at most one ECHO ever sent, regardless of root
	ready     bool // at most one READY ever sent, regardless of root
	delivered bool
}

type verifiedShard struct {
	shard []byte
	proof merkle.Proof
}

func newInstanceState() *instanceState {
	return &instanceState{
		echoSenders:  make(map[crypto.Hash]senderSet),
		readySenders: make(map[crypto.Hash]senderSet),
		shardsByRoot: make(map[crypto.Hash]map[int]verifiedShard),
	}
}

func (st *instanceState) recordShard(root crypto.Hash, idx int, shard []byte, proof merkle.Proof) {
	bucket, ok := st.shardsByRoot[root]
	if !ok {
		bucket = make(map[int]verifiedShard)
		st.shardsByRoot[root] = bucket
	}
	bucket[idx] = verifiedShard{shard: shard, proof: proof}
}

// Manager owns every CT-RBC instance on this node, driven exclusively
// from the owning Context's dispatcher goroutine (spec.md §4.1).
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

// Config carries the fault-tolerance and test-injection parameters.
type Config struct {
	NumNodes  int
	NumFaults int
	Byzantine bool
	Crash     bool
}

// NewManager constructs a CT-RBC Manager.
func NewManager(l log.Logger, net Network, cfg Config) *Manager {
	return &Manager{
		l:         l.Named("ctrbc"),
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

func (m *Manager) SetDeliverFunc(fn DeliverFunc) {
	m.deliver = fn
}

func (m *Manager) honestMajority() int {
	return m.numNodes - m.numFaults
}

// reconstructionThreshold is both the erasure code's data-shard count
// and the number of distinct shards needed to rebuild the payload
// (spec.md §4.3: the code is an (n, f+1) code).
func (m *Manager) reconstructionThreshold() int {
	return m.numFaults + 1
}

func (m *Manager) get(inst types.InstanceID) *instanceState {
	st, ok := m.instances[inst]
	if !ok {
		st = newInstanceState()
		m.instances[inst] = st
	}
	return st
}

func (m *Manager) requireStatus(inst types.InstanceID, st *instanceState, want types.Status) {
	if st.status != want {
		panic(fmt.Sprintf("ctrbc: instance %d expected status %s, got %s", inst, want, st.status))
	}
}

func (m *Manager) terminate(inst types.InstanceID, st *instanceState, payload []byte) {
	if st.delivered {
		return
	}
	st.delivered = true
	st.status = types.StatusTerminated
	if m.reclaim != nil {
		m.reclaim.MarkTerminated(inst)
	}
	if m.deliver != nil {
		m.deliver(inst, payload)
	}
}

// EnableReclamation bounds the instance map per spec.md §9.
func (m *Manager) EnableReclamation(tracker *reclaim.Tracker) {
	m.reclaim = tracker
}

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

// buildTree hashes each shard and builds the Merkle tree committing to
// them. Kept separate from the erasure step so the Byzantine test
// affordances below can build a tree over fabricated shards without
// re-encoding anything.
func (m *Manager) buildTree(shards [][]byte) (*merkle.Tree, error) {
	leaves := make([]crypto.Hash, len(shards))
	for i, s := range shards {
		leaves[i] = m.hs.Sum(s)
	}
	return merkle.New(leaves, m.hs)
}

// encodeShards erasure-codes payload into exactly numNodes shards and
// builds the Merkle tree committing to each shard's hash.
func (m *Manager) encodeShards(payload []byte) ([][]byte, *merkle.Tree, error) {
	shards, err := erasure.Encode(payload, m.reconstructionThreshold(), m.numNodes)
	if err != nil {
		return nil, nil, err
	}
	tree, err := m.buildTree(shards)
	if err != nil {
		return nil, nil, err
	}
	return shards, tree, nil
}

// zeroTreeLike builds an all-zero shard set shaped like shards and its
// own Merkle tree, so a Byzantine dealer's zeroed shards still verify
// — against that zero root, never the real one (spec.md §4.4, grounded
// on original_source's zero_merkle_tree in ctrbc/src/protocol/init.rs).
func (m *Manager) zeroTreeLike(shards [][]byte) ([][]byte, *merkle.Tree, error) {
	zero := make([][]byte, len(shards))
	for i, s := range shards {
		zero[i] = make([]byte, len(s))
	}
	tree, err := m.buildTree(zero)
	if err != nil {
		return nil, nil, err
	}
	return zero, tree, nil
}

// zeroProofForSelf builds this replica's all-zero shard/proof pair
// against a fresh all-zero tree sized like the rest of the committee.
// A Byzantine non-dealer uses this to corrupt whatever it relays in
// its own ECHO, independent of what it actually received from the
// dealer (spec.md scenario S2; original_source's handle_init applies
// this same byz check on the relaying node, not only the dealer).
func (m *Manager) zeroProofForSelf(shardLen int) ([]byte, merkle.Proof, error) {
	shards := make([][]byte, m.numNodes)
	for i := range shards {
		shards[i] = make([]byte, shardLen)
	}
	tree, err := m.buildTree(shards)
	if err != nil {
		return nil, merkle.Proof{}, err
	}
	idx := int(m.self)
	proof, err := tree.Proof(idx)
	if err != nil {
		return nil, merkle.Proof{}, err
	}
	return shards[idx], proof, nil
}

// tryReconstruct attempts to rebuild and authenticate the payload
// committed to by root, using only the proof-verified shards collected
// under that specific root. It returns (nil, false) if there are not
// yet enough shards, or if reconstruction succeeds but the re-encoded
// root does not match the one requested.
func (m *Manager) tryReconstruct(st *instanceState, root crypto.Hash) ([]byte, bool) {
	bucket := st.shardsByRoot[root]
	if len(bucket) < m.reconstructionThreshold() {
		return nil, false
	}
	shards := make([][]byte, m.numNodes)
	for idx, vs := range bucket {
		if idx >= 0 && idx < m.numNodes {
			shards[idx] = vs.shard
		}
	}
	payload, err := erasure.Reconstruct(shards, m.reconstructionThreshold(), m.numNodes)
	if err != nil {
		m.l.Debugw("reconstruction failed, waiting for more shards", "err", err)
		return nil, false
	}
	_, tree, err := m.encodeShards(payload)
	if err != nil {
		m.l.Errorw("re-encoding reconstructed payload failed", "err", err)
		return nil, false
	}
	if tree.Root() != root {
		m.l.Warnw("reconstructed payload does not match committed root, dropping")
		return nil, false
	}
	return payload, true
}
