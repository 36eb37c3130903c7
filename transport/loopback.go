// Package transport supplies reference Channel/HandshakeFactory
// implementations: an in-process Loopback pair for wiring local storage
// without a real socket, and a websocket HandshakeFactory for integration
// tests (spec.md §1 treats the real handshake/transport as an external,
// out-of-scope collaborator — these are the minimal concrete stand-ins
// this module needs to exercise the rest of the system end to end).
package transport

import (
	"fmt"
	"sync"

	"github.com/odinsync/core/wire"
)

// loopbackChannel is one end of an in-process Channel pair: Send on one
// end invokes the other end's receiver directly, on its own goroutine so
// neither side can deadlock against the other's dispatch.
type loopbackChannel struct {
	name string

	mu       sync.Mutex
	peer     *loopbackChannel
	receiver func(msgID string, msg wire.Message)
	closed   bool
}

// Loopback returns two Channel ends wired directly to each other, for use
// as the in-process socket pair between a Service and its own local
// storage driver (spec.md §4.10 step 2).
func Loopback() (a, b *loopbackChannel) {
	a = &loopbackChannel{name: "a"}
	b = &loopbackChannel{name: "b"}
	a.peer = b
	b.peer = a
	return a, b
}

func (c *loopbackChannel) SetReceiver(cb func(msgID string, msg wire.Message)) {
	c.mu.Lock()
	c.receiver = cb
	c.mu.Unlock()
}

func (c *loopbackChannel) Send(msgID string, msg wire.Message) error {
	c.mu.Lock()
	peer := c.peer
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("transport: loopback channel %s closed", c.name)
	}
	peer.mu.Lock()
	recv := peer.receiver
	peer.mu.Unlock()
	if recv == nil {
		return fmt.Errorf("transport: loopback channel %s has no receiver", peer.name)
	}
	go recv(msgID, msg)
	return nil
}

func (c *loopbackChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
