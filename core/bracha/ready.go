package bracha

import (
	"context"

	"github.com/rbc-go/rbc/crypto"
	"github.com/rbc-go/rbc/types"
	"github.com/rbc-go/rbc/wire"
)

// startReady emits this node's READY for (inst, payload) at most once.
// It can be reached two ways (spec.md §4.2): after this node's own
// ECHO crosses the honest-majority threshold, or — for a node that
// joins late and never echoed — after f+1 READYs for the same payload
// arrive first (amplification, spec.md scenario S6).
func (m *Manager) startReady(ctx context.Context, inst types.InstanceID, st *instanceState, h crypto.Hash, payload []byte) {
	if st.ready {
		return
	}
	st.ready = true
	if st.status < types.StatusReadySent {
		st.status = types.StatusReadySent
	}

	m.applyReady(ctx, inst, st, m.self, h, payload)

	m.net.Broadcast(ctx, wire.BrachaReady{
		InstanceID: inst,
		Payload:    payload,
		Origin:     m.self,
	})
}

// HandleReady processes an inbound READY (spec.md §4.2 ready path).
func (m *Manager) HandleReady(ctx context.Context, from types.Replica, msg wire.BrachaReady) {
	st := m.get(msg.InstanceID)
	h := m.hs.Sum(msg.Payload)
	m.applyReady(ctx, msg.InstanceID, st, from, h, msg.Payload)
}

func (m *Manager) applyReady(ctx context.Context, inst types.InstanceID, st *instanceState, from types.Replica, h crypto.Hash, payload []byte) {
	senders, ok := st.readySenders[h]
	if !ok {
		senders = senderSet{}
		st.readySenders[h] = senders
	}
	if !senders.add(from) {
		return
	}
	st.payloadOf[h] = payload

	count := len(senders)
	if count >= m.reconstructionThreshold() && !st.ready {
		m.startReady(ctx, inst, st, h, payload)
	}
	if count >= m.honestMajority() {
		m.terminate(inst, st, payload)
	}
}
