// Package storageclient implements the StorageClient adapter of
// spec.md §4.6: a thin wrapper over an authenticated message channel that
// turns fetch/store/unsubscribe/blob/message calls into GetResponse
// handles, and cancels every outstanding handle exactly once on close.
package storageclient

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/odinsync/core/wire"
)

// Sender is the authenticated message channel StorageClient wraps. msgID
// is the correlation id the transport framing must echo back on every
// reply for this request, as given to HandshakeFactory by the Service
// (transport-level concern, out of scope for the wire.Message schema
// itself). It is the only thing this package treats as external; tests
// provide a fake.
type Sender interface {
	Send(msgID string, msg wire.Message) error
}

// Event is the tagged union onceAny() resolves to.
type Event struct {
	Kind     EventKind
	Response wire.Message
	Err      error
}

type EventKind uint8

const (
	EventReply EventKind = iota
	EventError
	EventCancel
)

// GetResponse is the per-request handle returned by every StorageClient
// call. T is left untyped (wire.Message) since responses are already
// dynamically dispatched by opcode.
type GetResponse struct {
	msgID string

	mu       sync.Mutex
	onReply  []func(wire.Message)
	onCancel []func()
	cancelled bool
	anyCh    chan Event
	anyOnce  sync.Once
}

func newGetResponse(msgID string) *GetResponse {
	return &GetResponse{msgID: msgID, anyCh: make(chan Event, 1)}
}

// GetMsgID returns the originating message identifier.
func (g *GetResponse) GetMsgID() string { return g.msgID }

// OnReply registers cb to be called for every subsequent response chunk.
func (g *GetResponse) OnReply(cb func(wire.Message)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onReply = append(g.onReply, cb)
}

// OnCancel registers cb to run exactly once on transport-level
// termination. If the handle is already cancelled, cb runs immediately.
func (g *GetResponse) OnCancel(cb func()) {
	g.mu.Lock()
	if g.cancelled {
		g.mu.Unlock()
		cb()
		return
	}
	g.onCancel = append(g.onCancel, cb)
	g.mu.Unlock()
}

// OnceAny blocks until the next reply, error, or cancellation and
// returns it as a tagged Event. Safe to call once; subsequent calls
// observe the same resolved event.
func (g *GetResponse) OnceAny() Event {
	ev := <-g.anyCh
	g.anyCh <- ev
	return ev
}

func (g *GetResponse) deliver(msg wire.Message) {
	g.mu.Lock()
	cbs := append([]func(wire.Message){}, g.onReply...)
	g.mu.Unlock()
	for _, cb := range cbs {
		cb(msg)
	}
	g.anyOnce.Do(func() { g.anyCh <- Event{Kind: EventReply, Response: msg} })
}

func (g *GetResponse) fail(err error) {
	g.anyOnce.Do(func() { g.anyCh <- Event{Kind: EventError, Err: err} })
}

func (g *GetResponse) cancel() {
	g.mu.Lock()
	if g.cancelled {
		g.mu.Unlock()
		return
	}
	g.cancelled = true
	cbs := append([]func(){}, g.onCancel...)
	g.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	g.anyOnce.Do(func() { g.anyCh <- Event{Kind: EventCancel} })
}

// Client is the StorageClient adapter. It is safe for concurrent use.
type Client struct {
	sender Sender
	log    *logrus.Entry

	mu      sync.RWMutex
	pending map[string]*GetResponse
	closed  bool
}

// New wraps sender. log may be nil, in which case a standard logrus
// logger is used (teacher convention: every component logs through a
// shared *logrus.Entry).
func New(sender Sender, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{sender: sender, log: log, pending: make(map[string]*GetResponse)}
}

func (c *Client) register(msgID string) *GetResponse {
	g := newGetResponse(msgID)
	c.mu.Lock()
	c.pending[msgID] = g
	c.mu.Unlock()
	return g
}

func (c *Client) send(msg wire.Message, msgID string) (*GetResponse, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("storageclient: client is closed")
	}
	g := c.register(msgID)
	if err := c.sender.Send(msgID, msg); err != nil {
		c.mu.Lock()
		delete(c.pending, msgID)
		c.mu.Unlock()
		return nil, err
	}
	return g, nil
}

// Fetch issues a FetchRequest and returns its GetResponse handle.
func (c *Client) Fetch(req *wire.FetchRequest) (*GetResponse, error) {
	return c.send(req, uuid.NewString())
}

// Store issues a StoreRequest.
func (c *Client) Store(req *wire.StoreRequest) (*GetResponse, error) {
	return c.send(req, uuid.NewString())
}

// Unsubscribe issues an UnsubscribeRequest against an earlier msgId.
func (c *Client) Unsubscribe(originalMsgID []byte) (*GetResponse, error) {
	return c.send(&wire.UnsubscribeRequest{OriginalMsgID: originalMsgID}, uuid.NewString())
}

// WriteBlob issues a WriteBlobRequest.
func (c *Client) WriteBlob(req *wire.WriteBlobRequest) (*GetResponse, error) {
	return c.send(req, uuid.NewString())
}

// ReadBlob issues a ReadBlobRequest.
func (c *Client) ReadBlob(req *wire.ReadBlobRequest) (*GetResponse, error) {
	return c.send(req, uuid.NewString())
}

// SendMessage issues a GenericMessageRequest.
func (c *Client) SendMessage(req *wire.GenericMessageRequest) (*GetResponse, error) {
	return c.send(req, uuid.NewString())
}

// Deliver routes an inbound response to the GetResponse that requested
// it, identified by msgID. Called by the transport layer as replies
// arrive; unknown msgIDs are logged and dropped (late reply to an
// already-cancelled request).
func (c *Client) Deliver(msgID string, msg wire.Message) {
	c.mu.RLock()
	g, ok := c.pending[msgID]
	c.mu.RUnlock()
	if !ok {
		c.log.WithField("msgId", msgID).Debug("storageclient: reply for unknown or cancelled request")
		return
	}
	g.deliver(msg)
}

// Fail routes a transport-level error to the GetResponse for msgID.
func (c *Client) Fail(msgID string, err error) {
	c.mu.RLock()
	g, ok := c.pending[msgID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	g.fail(err)
}

// Close idempotently cancels every outstanding GetResponse exactly once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*GetResponse)
	c.mu.Unlock()

	for _, g := range pending {
		g.cancel()
	}
}
