package ctrbc

import (
	"context"

	"github.com/rbc-go/rbc/crypto"
	"github.com/rbc-go/rbc/crypto/merkle"
	"github.com/rbc-go/rbc/types"
	"github.com/rbc-go/rbc/wire"
)

// startEcho emits this node's ECHO at most once, forwarding its own
// shard and proof exactly as received from the dealer (spec.md §4.3:
// ECHO always carries the sender's own shard, never a relay of
// someone else's).
func (m *Manager) startEcho(ctx context.Context, inst types.InstanceID, st *instanceState, root crypto.Hash, shard []byte, proof merkle.Proof) {
	if st.echoed {
		return
	}
	st.echoed = true
	if st.status < types.StatusEchoSent {
		st.status = types.StatusEchoSent
	}

	m.applyEcho(ctx, inst, st, root, m.self, shard, proof)

	m.net.Broadcast(ctx, wire.CTRBCEcho{
		InstanceID: inst,
		Shard:      shard,
		Proof:      proof,
		Origin:     m.self,
	})
}

// HandleEcho processes an inbound ECHO: the shard is authenticated
// against its proof, then counted under the root that proof commits
// to. Counting is per root (spec.md §3's echo_counts, a mapping
// root→count), not a single instance-wide root, so a Byzantine
// replica presenting a valid proof for a fabricated root can never
// shadow the real one for a late joiner still waiting on its own INIT.
func (m *Manager) HandleEcho(ctx context.Context, from types.Replica, msg wire.CTRBCEcho) {
	leaf := m.hs.Sum(msg.Shard)
	if !merkle.Verify(m.hs, leaf, msg.Proof) {
		m.l.Warnw("dropping ECHO with invalid shard proof", "instance", msg.InstanceID, "from", from)
		return
	}
	st := m.get(msg.InstanceID)
	m.applyEcho(ctx, msg.InstanceID, st, msg.Proof.Root, from, msg.Shard, msg.Proof)
}

func (m *Manager) applyEcho(ctx context.Context, inst types.InstanceID, st *instanceState, root crypto.Hash, from types.Replica, shard []byte, proof merkle.Proof) {
	senders, ok := st.echoSenders[root]
	if !ok {
		senders = make(senderSet)
		st.echoSenders[root] = senders
	}
	if !senders.add(from) {
		return
	}
	st.recordShard(root, int(from), shard, proof)

	if len(senders) >= m.honestMajority() {
		var ownShard []byte
		var ownProof merkle.Proof
		if vs, ok := st.shardsByRoot[root][int(m.self)]; ok {
			ownShard, ownProof = vs.shard, vs.proof
		}
		m.startReady(ctx, inst, st, root, ownShard, ownProof)
	}
}
