// Package core wires the transport, wire codec, and the two protocol
// managers together into a single per-node runtime: the Context owns
// the dispatcher loop described in spec.md §4.1 and is the only thing
// in this module allowed to mutate protocol state, which is why every
// Manager method below is called from exactly one goroutine.
package core

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"

	"github.com/rbc-go/rbc/common/key"
	"github.com/rbc-go/rbc/common/log"
	"github.com/rbc-go/rbc/core/bracha"
	"github.com/rbc-go/rbc/core/ctrbc"
	"github.com/rbc-go/rbc/core/reclaim"
	"github.com/rbc-go/rbc/crypto"
	"github.com/rbc-go/rbc/netio"
	"github.com/rbc-go/rbc/types"
	"github.com/rbc-go/rbc/wire"
)

// Protocol selects which RBC variant a Context runs.
type Protocol int

const (
	ProtocolBracha Protocol = iota
	ProtocolCTRBC
)

func (p Protocol) String() string {
	switch p {
	case ProtocolBracha:
		return "bracha"
	case ProtocolCTRBC:
		return "ctrbc"
	default:
		return "unknown"
	}
}

// reclaimWindow bounds how long a TERMINATED instance's bookkeeping is
// kept around before it is reclaimed (spec.md §9 design note).
const reclaimWindow = 5 * time.Minute

// maxPendingHandles caps how many outstanding-send handles Context
// retains at once. A long-running node issues far more sends than it
// will ever need to individually cancel, so once the bound is hit the
// oldest handles (almost certainly long since delivered) are dropped
// uncalled rather than cancelled — netio.CancelHandle's contract
// explicitly allows this.
const maxPendingHandles = 4096

// Delivery is what callers receive once an instance completes.
type Delivery struct {
	Instance types.InstanceID
	Payload  []byte
}

// Context is the per-node runtime: it owns the network, the dealer-id
// allocator, and whichever protocol Manager is configured, and drives
// all three from a single dispatcher goroutine.
type Context struct {
	l    log.Logger
	cfg  *key.Config
	self types.Replica
	peers []types.Replica

	protocol Protocol
	bracha   *bracha.Manager
	ctrbc    *ctrbc.Manager

	sender   netio.Sender
	receiver netio.Receiver
	sync     *SyncClient

	allocator *types.InstanceAllocator
	reclaim   *reclaim.Tracker

	delivered chan Delivery
	done      chan struct{}

	// pending retains a handle for every outstanding send, up to
	// maxPendingHandles, so Shutdown can cancel them in one pass
	// (spec.md §4.1, §5: "best-effort, no durability contract" —
	// delivery is not guaranteed, but a clean shutdown still stops
	// wasting effort on sends nobody is waiting for). Only the single
	// dispatcher goroutine touches this slice.
	pending []netio.CancelHandle
}

// New constructs a Context from a loaded config, a running network
// transport, and the RBC variant to run. The transport is started
// separately (netio.ListenTCP / netio.NewTCPSender) so tests can swap
// in an in-memory equivalent.
func New(l log.Logger, cfg *key.Config, protocol Protocol, sender netio.Sender, receiver netio.Receiver) *Context {
	peers := make([]types.Replica, 0, len(cfg.Group.Nodes)-1)
	for _, n := range cfg.Group.Nodes {
		if n.ID != cfg.Self {
			peers = append(peers, n.ID)
		}
	}

	c := &Context{
		l:         l.Named("core").With("self", cfg.Self),
		cfg:       cfg,
		self:      cfg.Self,
		peers:     peers,
		protocol:  protocol,
		sender:    sender,
		receiver:  receiver,
		allocator: types.NewInstanceAllocator(cfg.Self),
		reclaim:   reclaim.New(clockwork.NewRealClock(), reclaimWindow),
		delivered: make(chan Delivery, 64),
		done:      make(chan struct{}),
	}

	mcfg := bracha.Config{
		NumNodes:  cfg.Group.NumNodes(),
		NumFaults: cfg.Group.NumFaults,
		Byzantine: cfg.Byz,
		Crash:     cfg.Crash,
	}
	switch protocol {
	case ProtocolBracha:
		c.bracha = bracha.NewManager(l, c, mcfg)
		c.bracha.SetDeliverFunc(func(inst types.InstanceID, payload []byte) {
			c.onDeliver(inst, payload)
		})
		c.bracha.EnableReclamation(c.reclaim)
	case ProtocolCTRBC:
		c.ctrbc = ctrbc.NewManager(l, c, ctrbc.Config(mcfg))
		c.ctrbc.SetDeliverFunc(func(inst types.InstanceID, payload []byte) {
			c.onDeliver(inst, payload)
		})
		c.ctrbc.EnableReclamation(c.reclaim)
	}
	return c
}

func (c *Context) onDeliver(inst types.InstanceID, payload []byte) {
	c.l.Infow("delivered", "instance", inst, "bytes", len(payload))
	select {
	case c.delivered <- Delivery{Instance: inst, Payload: payload}:
	default:
		c.l.Warnw("delivered channel full, dropping notification", "instance", inst)
	}
}

// Delivered surfaces completed instances to callers (tests, the CLI).
func (c *Context) Delivered() <-chan Delivery {
	return c.delivered
}

// Self implements bracha.Network and ctrbc.Network.
func (c *Context) Self() types.Replica { return c.self }

// Peers implements bracha.Network and ctrbc.Network.
func (c *Context) Peers() []types.Replica { return c.peers }

// Send implements bracha.Network and ctrbc.Network: it wraps m with a
// MAC over the wire-encoded message and hands it to the transport.
func (c *Context) Send(ctx context.Context, to types.Replica, m wire.Message) {
	w, err := c.wrap(to, m)
	if err != nil {
		c.l.Errorw("failed to wrap outbound message", "to", to, "err", err)
		return
	}
	c.pending = append(c.pending, c.sender.Send(ctx, to, w))
	if over := len(c.pending) - maxPendingHandles; over > 0 {
		kept := make([]netio.CancelHandle, len(c.pending)-over)
		copy(kept, c.pending[over:])
		c.pending = kept
	}
}

// Broadcast implements bracha.Network and ctrbc.Network.
func (c *Context) Broadcast(ctx context.Context, m wire.Message) {
	for _, p := range c.peers {
		c.Send(ctx, p, m)
	}
}

func (c *Context) wrap(to types.Replica, m wire.Message) (wire.Wrapper, error) {
	payload, err := wire.EncodeInner(m)
	if err != nil {
		return wire.Wrapper{}, err
	}
	mac := crypto.ComputeMAC(c.cfg.SecretKey[to], payload)
	return wire.Wrapper{Inner: m, SenderID: c.self, MAC: mac}, nil
}

func (c *Context) verify(w wire.Wrapper) bool {
	payload, err := wire.EncodeInner(w.Inner)
	if err != nil {
		return false
	}
	key, ok := c.cfg.SecretKey[w.SenderID]
	if !ok {
		return false
	}
	return crypto.VerifyMAC(key, payload, w.MAC)
}

// StartDealer begins a new instance with this node as dealer, routing
// to whichever protocol variant the Context was configured with.
func (c *Context) StartDealer(ctx context.Context, payload []byte) types.InstanceID {
	inst := c.allocator.Next()
	switch c.protocol {
	case ProtocolBracha:
		c.bracha.StartDealer(ctx, inst, payload)
	case ProtocolCTRBC:
		c.ctrbc.StartDealer(ctx, inst, payload)
	}
	return inst
}

// Run drives the dispatcher loop (spec.md §4.1) until ctx is cancelled
// or Shutdown is called: it reads inbound network frames, verifies
// their MAC, and routes by message type into the active protocol manager.
// It also periodically reaps TERMINATED instances past their
// reclamation window.
func (c *Context) Run(ctx context.Context) {
	reapTicker := time.NewTicker(reclaimWindow)
	defer reapTicker.Stop()

	var syncInbound <-chan types.SyncMsg
	if c.sync != nil {
		syncInbound = c.sync.Inbound()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case frame, ok := <-c.receiver.Inbound():
			if !ok {
				return
			}
			c.handleFrame(ctx, frame)
		case msg, ok := <-syncInbound:
			if !ok {
				syncInbound = nil
				continue
			}
			c.handleSync(msg)
		case <-reapTicker.C:
			var n int
			if c.bracha != nil {
				n = c.bracha.ReapDue()
			} else if c.ctrbc != nil {
				n = c.ctrbc.ReapDue()
			}
			if n > 0 {
				c.l.Debugw("reclaimed terminated instances", "count", n)
			}
		}
	}
}

func (c *Context) handleSync(msg types.SyncMsg) {
	c.l.Debugw("sync command", "state", msg.State)
	switch msg.State {
	case types.SyncStart:
		c.StartDealer(context.Background(), msg.Value)
	case types.SyncStop:
		if err := c.Shutdown(); err != nil {
			c.l.Warnw("error during shutdown", "err", err)
		}
	}
}

func (c *Context) handleFrame(ctx context.Context, frame netio.InboundFrame) {
	w := frame.Wrapper
	if !c.verify(w) {
		c.l.Warnw("dropping message with invalid MAC", "sender", w.SenderID, "remote", frame.RemoteAddr)
		return
	}
	from := w.SenderID
	switch msg := w.Inner.(type) {
	case wire.BrachaInit:
		if c.bracha != nil {
			c.bracha.HandleInit(ctx, from, msg)
		}
	case wire.BrachaEcho:
		if c.bracha != nil {
			c.bracha.HandleEcho(ctx, from, msg)
		}
	case wire.BrachaReady:
		if c.bracha != nil {
			c.bracha.HandleReady(ctx, from, msg)
		}
	case wire.CTRBCInit:
		if c.ctrbc != nil {
			c.ctrbc.HandleInit(ctx, from, msg)
		}
	case wire.CTRBCEcho:
		if c.ctrbc != nil {
			c.ctrbc.HandleEcho(ctx, from, msg)
		}
	case wire.CTRBCReady:
		if c.ctrbc != nil {
			c.ctrbc.HandleReady(ctx, from, msg)
		}
	default:
		c.l.Warnw("dropping message of unknown type", "sender", from)
	}
}

// UseSyncClient wires in an already-dialed synchronizer connection.
func (c *Context) UseSyncClient(sc *SyncClient) {
	c.sync = sc
}

// Shutdown stops the dispatcher loop and closes the transport. It
// tears down every component even if an earlier one fails, returning
// every error it encountered along the way.
func (c *Context) Shutdown() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	for _, h := range c.pending {
		h.Cancel()
	}
	c.pending = nil

	var result *multierror.Error
	if err := c.sender.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.receiver.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.sync != nil {
		if err := c.sync.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
