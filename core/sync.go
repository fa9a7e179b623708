package core

import (
	"encoding/gob"
	"net"
	"sync"

	"github.com/rbc-go/rbc/common/log"
	"github.com/rbc-go/rbc/types"
)

// SyncClient is the node's connection to the external test-harness
// synchronizer (spec.md §4.1, §6): it announces ALIVE on connect and
// relays whatever START/STOP commands the synchronizer sends back.
// Nodes that never configure a synchronizer simply run unsynchronized.
type SyncClient struct {
	l         log.Logger
	conn      net.Conn
	inbound   chan types.SyncMsg
	done      chan struct{}
	closeOnce sync.Once
}

// DialSync connects to the synchronizer at addr and sends the initial
// ALIVE handshake.
func DialSync(l log.Logger, addr string, self types.Replica) (*SyncClient, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	c := &SyncClient{
		l:       l.Named("sync"),
		conn:    conn,
		inbound: make(chan types.SyncMsg, 16),
		done:    make(chan struct{}),
	}
	if err := gob.NewEncoder(conn).Encode(types.SyncMsg{Sender: self, State: types.SyncAlive}); err != nil {
		conn.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *SyncClient) readLoop() {
	dec := gob.NewDecoder(c.conn)
	for {
		var msg types.SyncMsg
		if err := dec.Decode(&msg); err != nil {
			c.l.Debugw("sync connection closed", "err", err)
			close(c.inbound)
			return
		}
		select {
		case c.inbound <- msg:
		case <-c.done:
			return
		}
	}
}

// Inbound delivers START/STOP commands from the synchronizer.
func (c *SyncClient) Inbound() <-chan types.SyncMsg {
	return c.inbound
}

func (c *SyncClient) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.conn.Close()
}
