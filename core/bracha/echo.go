package bracha

import (
	"context"

	"github.com/rbc-go/rbc/types"
	"github.com/rbc-go/rbc/wire"
)

// startEcho emits this node's ECHO for inst at most once (spec.md §3:
// "emits at most one ECHO"), then locally applies it the same way an
// inbound ECHO from self would be applied.
func (m *Manager) startEcho(ctx context.Context, inst types.InstanceID, st *instanceState, payload []byte) {
	if st.echoed {
		return
	}
	st.echoed = true
	if st.status < types.StatusEchoSent {
		st.status = types.StatusEchoSent
	}

	m.applyEcho(ctx, inst, st, m.self, payload)

	m.net.Broadcast(ctx, wire.BrachaEcho{
		InstanceID: inst,
		Payload:    payload,
		Origin:     m.self,
	})
}

// HandleEcho processes an inbound ECHO (spec.md §4.2 echo path):
// sender ids are deduped per (instance, payload hash); once a payload
// has been echoed by the honest majority, this node moves to the
// ready path for that payload.
func (m *Manager) HandleEcho(ctx context.Context, from types.Replica, msg wire.BrachaEcho) {
	st := m.get(msg.InstanceID)
	m.applyEcho(ctx, msg.InstanceID, st, from, msg.Payload)
}

func (m *Manager) applyEcho(ctx context.Context, inst types.InstanceID, st *instanceState, from types.Replica, payload []byte) {
	h := m.hs.Sum(payload)
	senders, ok := st.echoSenders[h]
	if !ok {
		senders = senderSet{}
		st.echoSenders[h] = senders
	}
	if !senders.add(from) {
		return // duplicate echo from this sender for this payload, ignore
	}
	st.payloadOf[h] = payload

	if len(senders) >= m.honestMajority() {
		m.startReady(ctx, inst, st, h, payload)
	}
}
