package ctrbc

import (
	"context"

	"github.com/rbc-go/rbc/crypto"
	"github.com/rbc-go/rbc/crypto/merkle"
	"github.com/rbc-go/rbc/types"
	"github.com/rbc-go/rbc/wire"
)

// startReady emits this node's READY at most once, optionally carrying
// whichever shard it currently holds under root (plus its proof) so
// that late joiners can assemble enough shards to reconstruct without
// ever seeing an ECHO (spec.md scenario S6, mirrored from the Bracha
// variant).
func (m *Manager) startReady(ctx context.Context, inst types.InstanceID, st *instanceState, root crypto.Hash, ownShard []byte, proof merkle.Proof) {
	if st.ready {
		return
	}
	st.ready = true
	if st.status < types.StatusReadySent {
		st.status = types.StatusReadySent
	}

	m.applyReady(ctx, inst, st, root, m.self, ownShard, proof)

	m.net.Broadcast(ctx, wire.CTRBCReady{
		InstanceID: inst,
		Root:       root,
		Origin:     m.self,
		Shard:      ownShard,
		Proof:      proof,
	})
}

// HandleReady processes an inbound READY (spec.md §4.3 ready path). A
// carried shard is authenticated against its proof before being
// admitted, exactly like ECHO — an unverified shard must never enter
// shards_received, or a single Byzantine READY could plant a bogus
// shard that poisons reconstruction for everyone still assembling that
// root (spec.md §3's shards_received invariant).
func (m *Manager) HandleReady(ctx context.Context, from types.Replica, msg wire.CTRBCReady) {
	if msg.Shard != nil {
		leaf := m.hs.Sum(msg.Shard)
		if !merkle.Verify(m.hs, leaf, msg.Proof) || msg.Proof.Root != msg.Root {
			m.l.Warnw("dropping READY with invalid shard proof", "instance", msg.InstanceID, "from", from)
			return
		}
	}
	st := m.get(msg.InstanceID)
	m.applyReady(ctx, msg.InstanceID, st, msg.Root, from, msg.Shard, msg.Proof)
}

func (m *Manager) applyReady(ctx context.Context, inst types.InstanceID, st *instanceState, root crypto.Hash, from types.Replica, shard []byte, proof merkle.Proof) {
	senders, ok := st.readySenders[root]
	if !ok {
		senders = make(senderSet)
		st.readySenders[root] = senders
	}
	if !senders.add(from) {
		return
	}
	if shard != nil {
		st.recordShard(root, int(from), shard, proof)
	}

	count := len(senders)
	if count >= m.reconstructionThreshold() && !st.ready {
		var ownShard []byte
		var ownProof merkle.Proof
		if vs, ok := st.shardsByRoot[root][int(m.self)]; ok {
			ownShard, ownProof = vs.shard, vs.proof
		}
		m.startReady(ctx, inst, st, root, ownShard, ownProof)
	}
	if count >= m.honestMajority() {
		if payload, ok := m.tryReconstruct(st, root); ok {
			m.terminate(inst, st, payload)
		}
	}
}
