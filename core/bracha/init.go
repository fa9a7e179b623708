package bracha

import (
	"context"

	"github.com/rbc-go/rbc/types"
	"github.com/rbc-go/rbc/wire"
)

// StartDealer begins a new Bracha instance as its dealer (spec.md
// §4.2 dealer path): the instance must not have been started before,
// the dealer processes its own INIT locally before broadcasting it to
// everyone else (spec.md §5's ordering note (iii): self-delivery
// precedes the network send).
func (m *Manager) StartDealer(ctx context.Context, inst types.InstanceID, payload []byte) {
	st := m.get(inst)
	m.requireStatus(inst, st, types.StatusWaiting)
	st.status = types.StatusInit

	m.processInit(ctx, inst, st, payload)

	if m.byz {
		// Byzantine dealer: equivocate by sending a zeroed payload to
		// roughly half the peers (spec.md §4.4, scenario S3). Bracha's
		// n-f/f+1 thresholds still guarantee agreement despite this.
		m.sendEquivocatingInit(ctx, inst, payload)
		return
	}

	m.net.Broadcast(ctx, wire.BrachaInit{
		InstanceID: inst,
		Payload:    payload,
		Origin:     m.self,
	})
}

func (m *Manager) sendEquivocatingInit(ctx context.Context, inst types.InstanceID, payload []byte) {
	for i, peer := range m.net.Peers() {
		pl := payload
		if i%2 == 1 {
			pl = corrupted(payload)
		}
		m.net.Send(ctx, peer, wire.BrachaInit{
			InstanceID: inst,
			Payload:    pl,
			Origin:     m.self,
		})
	}
}

func corrupted(payload []byte) []byte {
	return make([]byte, len(payload))
}

// HandleInit processes an inbound INIT message (spec.md §4.2): the
// first INIT seen for an instance unconditionally triggers the echo
// path with the carried payload; every subsequent INIT is ignored,
// regardless of origin or payload (idempotency, not equivocation
// detection — Bracha tolerates dealer equivocation by construction).
func (m *Manager) HandleInit(ctx context.Context, from types.Replica, msg wire.BrachaInit) {
	st := m.get(msg.InstanceID)
	if st.initSeen {
		return
	}
	m.processInit(ctx, msg.InstanceID, st, msg.Payload)
}

func (m *Manager) processInit(ctx context.Context, inst types.InstanceID, st *instanceState, payload []byte) {
	st.initSeen = true
	if st.status < types.StatusInit {
		st.status = types.StatusInit
	}
	if m.crash {
		// Crash-fault injection: the node stops at INIT and never
		// echoes (spec.md §6 crash semantics). Later ECHO and READY
		// messages are still handled, so it can still send READY.
		return
	}
	m.startEcho(ctx, inst, st, payload)
}
