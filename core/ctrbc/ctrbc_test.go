package ctrbc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbc-go/rbc/common/log"
	"github.com/rbc-go/rbc/core/ctrbc"
	"github.com/rbc-go/rbc/types"
	"github.com/rbc-go/rbc/wire"
)

// hub wires a small set of in-process Managers together, routing each
// Send/Broadcast call synchronously to its target's handler.
type hub struct {
	nodes      map[types.Replica]*node
	dropInitTo map[types.Replica]bool
}

func (h *hub) deliver(from, to types.Replica, m wire.Message) {
	if h.dropInitTo[to] {
		if _, ok := m.(wire.CTRBCInit); ok {
			return
		}
	}
	target := h.nodes[to]
	switch msg := m.(type) {
	case wire.CTRBCInit:
		target.mgr.HandleInit(context.Background(), from, msg)
	case wire.CTRBCEcho:
		target.mgr.HandleEcho(context.Background(), from, msg)
	case wire.CTRBCReady:
		target.mgr.HandleReady(context.Background(), from, msg)
	}
}

type node struct {
	id        types.Replica
	peers     []types.Replica
	hub       *hub
	mgr       *ctrbc.Manager
	delivered map[types.InstanceID][]byte
}

func (n *node) Self() types.Replica    { return n.id }
func (n *node) Peers() []types.Replica { return n.peers }

func (n *node) Send(ctx context.Context, to types.Replica, m wire.Message) {
	n.hub.deliver(n.id, to, m)
}

func (n *node) Broadcast(ctx context.Context, m wire.Message) {
	for _, p := range n.peers {
		n.Send(ctx, p, m)
	}
}

func newCluster(t *testing.T, n, f int, byz, crash map[types.Replica]bool) (*hub, map[types.Replica]*node) {
	t.Helper()
	l := log.New(nil, log.ErrorLevel, false)
	h := &hub{nodes: map[types.Replica]*node{}, dropInitTo: map[types.Replica]bool{}}

	for i := 0; i < n; i++ {
		id := types.Replica(i)
		var peers []types.Replica
		for j := 0; j < n; j++ {
			if j != i {
				peers = append(peers, types.Replica(j))
			}
		}
		nd := &node{id: id, peers: peers, hub: h, delivered: map[types.InstanceID][]byte{}}
		cfg := ctrbc.Config{NumNodes: n, NumFaults: f, Byzantine: byz[id], Crash: crash[id]}
		nd.mgr = ctrbc.NewManager(l, nd, cfg)
		nd.mgr.SetDeliverFunc(func(inst types.InstanceID, payload []byte) {
			nd.delivered[inst] = payload
		})
		h.nodes[id] = nd
	}
	return h, h.nodes
}

func TestAllHonestQuorumDelivers(t *testing.T) {
	_, nodes := newCluster(t, 4, 1, nil, nil)
	payload := []byte("a payload long enough to be split into several shards across the quorum")
	const inst = types.InstanceID(1)

	nodes[0].mgr.StartDealer(context.Background(), inst, payload)

	for id, nd := range nodes {
		got, ok := nd.delivered[inst]
		require.True(t, ok, "node %d never delivered", id)
		assert.Equal(t, payload, got)
	}
}

func TestLargerQuorumDelivers(t *testing.T) {
	_, nodes := newCluster(t, 10, 3, nil, nil)
	payload := []byte("communication-efficient broadcast across a wider committee")
	const inst = types.InstanceID(1)

	nodes[5].mgr.StartDealer(context.Background(), inst, payload)

	for id, nd := range nodes {
		got, ok := nd.delivered[inst]
		require.True(t, ok, "node %d never delivered", id)
		assert.Equal(t, payload, got)
	}
}

// TestZeroShardInjectionStillDelivers exercises spec.md scenario S2: a
// Byzantine dealer hands out a zeroed shard to part of the committee.
// The zeroed shard verifies only against a separate zero-tree root, so
// its echoes are counted under that root and never reach the quorum;
// the affected replicas still reconstruct the correct payload from the
// honest majority's shards under the real root.
func TestZeroShardInjectionStillDelivers(t *testing.T) {
	_, nodes := newCluster(t, 4, 1, map[types.Replica]bool{0: true}, nil)
	payload := []byte("payload targeted by a zero-shard attack")
	const inst = types.InstanceID(1)

	nodes[0].mgr.StartDealer(context.Background(), inst, payload)

	for id, nd := range nodes {
		if id == 0 {
			continue // the Byzantine dealer's own view isn't a correctness witness
		}
		got, ok := nd.delivered[inst]
		require.True(t, ok, "honest node %d never delivered", id)
		assert.Equal(t, payload, got)
	}
}

// TestByzantineRelayCorruptionStillDelivers exercises spec.md scenario
// S2: an honest dealer broadcasts a real payload, but two non-dealer
// replicas are Byzantine and corrupt whatever they relay in their own
// ECHO — substituting a zeroed shard under a fabricated root instead
// of forwarding what they honestly received. The honest majority's
// real-root echoes still clear the quorum on their own, so the
// tampered relays are simply outvoted.
func TestByzantineRelayCorruptionStillDelivers(t *testing.T) {
	byz := map[types.Replica]bool{5: true, 6: true}
	_, nodes := newCluster(t, 7, 2, byz, nil)
	payload := []byte{0x01, 0x02, 0x03}
	const inst = types.InstanceID(1)

	nodes[0].mgr.StartDealer(context.Background(), inst, payload)

	for _, id := range []types.Replica{0, 1, 2, 3, 4} {
		nd := nodes[id]
		got, ok := nd.delivered[inst]
		require.True(t, ok, "honest node %d never delivered", id)
		assert.Equal(t, payload, got)
	}
}

// TestCrashFaultDoesNotBlockOthers exercises spec.md scenario S4: a
// replica that stops at its INIT after verifying its shard, never
// echoing, must not stop the rest of the quorum from reconstructing.
func TestCrashFaultDoesNotBlockOthers(t *testing.T) {
	_, nodes := newCluster(t, 4, 1, nil, map[types.Replica]bool{1: true})
	payload := []byte("crash fault liveness under erasure coding")
	const inst = types.InstanceID(1)

	nodes[0].mgr.StartDealer(context.Background(), inst, payload)

	for id, nd := range nodes {
		if id == 1 {
			continue
		}
		got, ok := nd.delivered[inst]
		require.True(t, ok, "honest node %d never delivered", id)
		assert.Equal(t, payload, got)
	}
}

// TestLateJoinDeliversWithoutOwnInit mirrors the Bracha variant's
// late-join scenario: a replica whose own INIT never arrives still
// reconstructs the payload from ECHO/READY-carried shards alone.
func TestLateJoinDeliversWithoutOwnInit(t *testing.T) {
	h, nodes := newCluster(t, 4, 1, nil, nil)
	h.dropInitTo[3] = true

	payload := []byte("late joiner reconstructs from others' shards")
	const inst = types.InstanceID(1)

	nodes[0].mgr.StartDealer(context.Background(), inst, payload)

	for id, nd := range nodes {
		got, ok := nd.delivered[inst]
		require.True(t, ok, "node %d never delivered", id)
		assert.Equal(t, payload, got)
	}
}

func TestConcurrentInstancesDoNotInterfere(t *testing.T) {
	_, nodes := newCluster(t, 4, 1, nil, nil)
	p1 := []byte("first concurrent instance payload")
	p2 := []byte("second, different concurrent instance payload")

	nodes[0].mgr.StartDealer(context.Background(), types.InstanceID(1), p1)
	nodes[1].mgr.StartDealer(context.Background(), types.InstanceID(2), p2)

	for id, nd := range nodes {
		got1, ok := nd.delivered[types.InstanceID(1)]
		require.True(t, ok, "node %d missing instance 1", id)
		assert.Equal(t, p1, got1)

		got2, ok := nd.delivered[types.InstanceID(2)]
		require.True(t, ok, "node %d missing instance 2", id)
		assert.Equal(t, p2, got2)
	}
}
