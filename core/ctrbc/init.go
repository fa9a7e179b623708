package ctrbc

import (
	"context"

	"github.com/rbc-go/rbc/crypto"
	"github.com/rbc-go/rbc/crypto/merkle"
	"github.com/rbc-go/rbc/types"
	"github.com/rbc-go/rbc/wire"
)

// StartDealer begins a new CT-RBC instance as its dealer (spec.md
// §4.3): erasure-code the payload into one shard per replica, build
// the Merkle tree over the shard hashes, and send each replica its own
// (shard, proof, root) — unlike Bracha's INIT, this is necessarily a
// per-recipient send rather than a single broadcast, since no two
// replicas receive the same shard.
func (m *Manager) StartDealer(ctx context.Context, inst types.InstanceID, payload []byte) {
	st := m.get(inst)
	m.requireStatus(inst, st, types.StatusWaiting)
	st.status = types.StatusInit

	shards, tree, err := m.encodeShards(payload)
	if err != nil {
		m.l.Errorw("dealer failed to encode payload", "instance", inst, "err", err)
		return
	}

	// A fully Byzantine dealer hands out zeroed shards paired with
	// proofs from a second tree built over those same zero shards, so
	// the tampered shards still verify — just against a different root
	// than the honest one (spec.md §4.4, grounded on original_source's
	// start_init building both merkle_tree and zero_merkle_tree).
	var zeroShards [][]byte
	var zeroTree *merkle.Tree
	if m.byz {
		zeroShards, zeroTree, err = m.zeroTreeLike(shards)
		if err != nil {
			m.l.Errorw("dealer failed to build zero tree", "instance", inst, "err", err)
			return
		}
	}

	selfIdx := int(m.self)
	if selfIdx >= 0 && selfIdx < len(shards) {
		proof, perr := tree.Proof(selfIdx)
		if perr == nil {
			m.processInit(ctx, inst, st, tree.Root(), shards[selfIdx], proof)
		}
	}

	// Split the committee by loop position, not by replica id: ids are
	// not contiguous from a dealer's point of view (Peers() excludes
	// self), so gating on id parity can accidentally zero a majority of
	// recipients and strand both roots below honestMajority. Gating on
	// position guarantees roughly half get the real shard either way.
	for i, peer := range m.net.Peers() {
		idx := int(peer)
		if idx < 0 || idx >= len(shards) {
			continue
		}
		shard, tr := shards[idx], tree
		if m.byz && i%2 == 1 {
			shard, tr = zeroShards[idx], zeroTree
		}
		proof, err := tr.Proof(idx)
		if err != nil {
			continue
		}
		m.net.Send(ctx, peer, wire.CTRBCInit{
			InstanceID: inst,
			Shard:      shard,
			Proof:      proof,
			Origin:     m.self,
		})
	}
}

// HandleInit processes an inbound INIT carrying this replica's shard
// of the payload (spec.md §4.3). The shard is authenticated against
// the carried proof before anything else happens; an invalid proof is
// silently dropped, matching a dealer that never sent a valid INIT.
func (m *Manager) HandleInit(ctx context.Context, from types.Replica, msg wire.CTRBCInit) {
	leaf := m.hs.Sum(msg.Shard)
	if !merkle.Verify(m.hs, leaf, msg.Proof) {
		m.l.Warnw("dropping INIT with invalid shard proof", "instance", msg.InstanceID, "from", from)
		return
	}
	st := m.get(msg.InstanceID)
	if st.initSeen {
		return
	}

	shard, proof, root := msg.Shard, msg.Proof, msg.Proof.Root
	if m.byz {
		// A Byzantine non-dealer corrupts whatever it relays in its own
		// ECHO, independent of what it honestly received (spec.md
		// scenario S2; original_source's handle_init applies this same
		// byz check on the relaying node, not only the dealer).
		zs, zp, err := m.zeroProofForSelf(len(msg.Shard))
		if err != nil {
			m.l.Errorw("failed to build self zero proof", "instance", msg.InstanceID, "err", err)
		} else {
			shard, proof, root = zs, zp, zp.Root
		}
	}
	m.processInit(ctx, msg.InstanceID, st, root, shard, proof)
}

func (m *Manager) processInit(ctx context.Context, inst types.InstanceID, st *instanceState, root crypto.Hash, shard []byte, proof merkle.Proof) {
	st.initSeen = true
	st.recordShard(root, int(m.self), shard, proof)
	if st.status < types.StatusInit {
		st.status = types.StatusInit
	}
	if m.crash {
		// Crash-fault injection: stop right after verifying the shard,
		// never echoing (spec.md §6 crash semantics). Later ECHO and
		// READY messages are still handled, so it can still send READY.
		return
	}
	m.startEcho(ctx, inst, st, root, shard, proof)
}
