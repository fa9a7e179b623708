package netio

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/rbc-go/rbc/common/log"
	"github.com/rbc-go/rbc/types"
	"github.com/rbc-go/rbc/wire"
)

// maxQueueSize bounds the per-peer outbound queue, following
// drand/core/dkg/broadcast.go's senderQueueSize: enough slack for a
// few protocol rounds without unbounded growth.
const maxQueueSize = 1000

// outbound is one queued send, paired with the context a caller can
// use to cancel it before the worker goroutine picks it up.
type outbound struct {
	ctx context.Context //nolint:containedctx // queued alongside its payload, matching the dispatcher/sender split below
	w   wire.Wrapper
}

type cancelFunc func()

func (f cancelFunc) Cancel() { f() }

// peerSender owns one outbound connection to a single peer and the
// goroutine that drains its send queue — the same shape as
// drand/core/dkg/broadcast.go's dispatcher/sender pair.
type peerSender struct {
	l       log.Logger
	addr    string
	queue   chan outbound
	done    chan struct{}
	mu      sync.Mutex
	conn    net.Conn
	dialErr error
}

func newPeerSender(l log.Logger, addr string) *peerSender {
	s := &peerSender{
		l:     l.Named("peerSender").With("addr", addr),
		addr:  addr,
		queue: make(chan outbound, maxQueueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *peerSender) run() {
	for {
		select {
		case <-s.done:
			return
		case ob := <-s.queue:
			select {
			case <-ob.ctx.Done():
				continue
			default:
			}
			if err := s.sendOnce(ob.w); err != nil {
				s.l.Debugw("send failed, will redial on next attempt", "err", err)
			}
		}
	}
}

func (s *peerSender) sendOnce(w wire.Wrapper) error {
	conn, err := s.conn1()
	if err != nil {
		return err
	}
	payload, err := wire.EncodeInner(w.Inner)
	if err != nil {
		return err
	}
	frame, err := encodeWrapperFrame(w, payload)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(conn, frame); err != nil {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *peerSender) conn1() (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	conn, err := net.Dial("tcp", s.addr)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

func (s *peerSender) enqueue(ctx context.Context, w wire.Wrapper) CancelHandle {
	cctx, cancel := context.WithCancel(ctx)
	select {
	case s.queue <- outbound{ctx: cctx, w: w}:
	default:
		s.l.Warnw("peer send queue full, dropping", "instance", w.Inner.Instance())
		cancel()
	}
	return cancelFunc(cancel)
}

func (s *peerSender) stop() {
	close(s.done)
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
}

// TCPSender dials one outbound connection per peer and fans out sends
// through per-peer queues, matching the dispatcher/sender split in
// drand/core/dkg/broadcast.go.
type TCPSender struct {
	l       log.Logger
	senders map[types.Replica]*peerSender
}

// NewTCPSender constructs a sender for the given peer address map. The
// map may omit the local replica's own address (cmd/rbcnode does);
// callers are responsible for skipping self-sends (Context does this,
// matching original_source's broadcast loop).
func NewTCPSender(l log.Logger, peers map[types.Replica]string) *TCPSender {
	s := &TCPSender{
		l:       l.Named("tcpSender"),
		senders: make(map[types.Replica]*peerSender, len(peers)),
	}
	for id, addr := range peers {
		s.senders[id] = newPeerSender(l, addr)
	}
	return s
}

func (s *TCPSender) Send(ctx context.Context, replica types.Replica, w wire.Wrapper) CancelHandle {
	peer, ok := s.senders[replica]
	if !ok {
		s.l.Errorw("send to unknown replica", "replica", replica)
		return cancelFunc(func() {})
	}
	return peer.enqueue(ctx, w)
}

func (s *TCPSender) Close() error {
	for _, p := range s.senders {
		p.stop()
	}
	return nil
}

// TCPReceiver listens for inbound connections and decodes frames off
// each one into a shared inbound channel.
type TCPReceiver struct {
	l        log.Logger
	listener net.Listener
	inbound  chan InboundFrame
	done     chan struct{}
}

// ListenTCP starts accepting connections on addr.
func ListenTCP(l log.Logger, addr string) (*TCPReceiver, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	r := &TCPReceiver{
		l:        l.Named("tcpReceiver"),
		listener: ln,
		inbound:  make(chan InboundFrame, maxQueueSize),
		done:     make(chan struct{}),
	}
	go r.acceptLoop()
	return r, nil
}

func (r *TCPReceiver) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.done:
				return
			default:
				r.l.Errorw("accept failed", "err", err)
				return
			}
		}
		connID := uuid.NewString()
		r.l.Debugw("accepted connection", "remote", conn.RemoteAddr().String(), "conn_id", connID)
		go r.readLoop(conn, connID)
	}
}

func (r *TCPReceiver) readLoop(conn net.Conn, connID string) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			r.l.Debugw("connection closed", "remote", remote, "conn_id", connID, "err", err)
			return
		}
		w, _, err := decodeWrapperFrame(frame)
		if err != nil {
			r.l.Warnw("dropping malformed frame", "remote", remote, "err", err)
			continue
		}
		select {
		case r.inbound <- InboundFrame{Wrapper: w, RemoteAddr: remote}:
		case <-r.done:
			return
		}
	}
}

func (r *TCPReceiver) Inbound() <-chan InboundFrame {
	return r.inbound
}

func (r *TCPReceiver) Close() error {
	close(r.done)
	return r.listener.Close()
}
