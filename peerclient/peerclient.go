// Package peerclient implements P2PClient, the per-peer session state
// spec.md §3 describes: local/remote PeerInfo, a permissions snapshot,
// handshake clockDiff, and the request/response routing a HandshakeFactory
// channel needs layered under storageclient.Client. The same type serves
// both directions of a session — a remote peer's session and the local
// storage connection are both P2PClients, which is what lets the
// peerproxy suite (Forwarder/Extender/AutoFetcher) treat them uniformly.
package peerclient

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/odinsync/core/crypto"
	"github.com/odinsync/core/storageclient"
	"github.com/odinsync/core/wire"
)

// Channel is the authenticated bidirectional message channel a
// HandshakeFactory yields (spec.md §1: out of scope, supplied by the
// embedder). SetReceiver registers the single callback invoked for every
// inbound frame, keyed by the msgId the far side attached to it.
type Channel interface {
	Send(msgID string, msg wire.Message) error
	SetReceiver(cb func(msgID string, msg wire.Message))
	Close() error
}

// PeerInfo is the typed form of the handshake PeerInfo blob (spec.md
// §6.3), plus the public key the transport handshake itself authenticated.
type PeerInfo struct {
	PeerDataFormat     int
	SerializeFormat    uint8
	Version            string
	AppVersion         string
	Region             string
	Jurisdiction       string
	AuthCert           []byte
	SessionTimeout     uint32
	HandshakePublicKey crypto.PublicKey
}

// FetchPermissions gates which inbound fetch-shaped requests a Forwarder
// or Extender may relay to local storage.
type FetchPermissions struct {
	AllowNodeTypes       [][]byte
	AllowReadBlob        bool
	AllowEmbed           bool
	AllowIncludeLicenses bool
}

// AllowsNodeType reports whether nodeType may be fetched, per spec.md
// §4.9. An empty AllowNodeTypes list allows every type.
func (p FetchPermissions) AllowsNodeType(nodeType []byte) bool {
	if len(p.AllowNodeTypes) == 0 {
		return true
	}
	for _, t := range p.AllowNodeTypes {
		if string(t) == string(nodeType) {
			return true
		}
	}
	return false
}

// StorePermissions gates inbound store/write-blob requests.
type StorePermissions struct {
	AllowStore     bool
	AllowWriteBlob bool
}

// Permissions is the connection-level permission snapshot a P2PClient
// carries, consulted by Forwarder/Extender on every inbound request.
type Permissions struct {
	Fetch FetchPermissions
	Store StorePermissions
}

// P2PClient is one peer session (spec.md §3): an outbound
// storageclient.Client for requests this side issues, plus inbound
// request dispatch and close cascading for requests the other side makes
// of us.
type P2PClient struct {
	*storageclient.Client

	Local       PeerInfo
	Remote      PeerInfo
	Permissions Permissions
	ClockDiff   int64

	channel Channel
	log     *logrus.Entry

	mu             sync.Mutex
	requestHandler func(msgID string, req wire.Message)
	onClose        []func()
	closed         bool
}

type sendAdapter struct{ ch Channel }

func (s sendAdapter) Send(msgID string, msg wire.Message) error { return s.ch.Send(msgID, msg) }

// New wraps channel as a P2PClient. log may be nil.
func New(channel Channel, local, remote PeerInfo, perms Permissions, clockDiff int64, log *logrus.Entry) *P2PClient {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &P2PClient{
		Local: local, Remote: remote, Permissions: perms, ClockDiff: clockDiff,
		channel: channel, log: log,
	}
	p.Client = storageclient.New(sendAdapter{channel}, log)
	channel.SetReceiver(p.dispatch)
	return p
}

// dispatch routes an inbound frame: response opcodes correlate to a
// request this side issued (handled by the embedded storageclient.Client)
// while request opcodes are fresh requests the other side is making of us
// (handled by whichever proxy registered SetRequestHandler).
func (p *P2PClient) dispatch(msgID string, msg wire.Message) {
	if wire.IsResponse(msg.Opcode()) {
		p.Client.Deliver(msgID, msg)
		return
	}
	p.mu.Lock()
	h := p.requestHandler
	p.mu.Unlock()
	if h == nil {
		p.log.WithField("msgId", msgID).Debug("peerclient: inbound request with no registered handler")
		return
	}
	h(msgID, msg)
}

// SetRequestHandler registers the single callback invoked for every
// inbound request (as opposed to reply) frame. Only one proxy may own
// inbound dispatch for a given P2PClient at a time.
func (p *P2PClient) SetRequestHandler(cb func(msgID string, req wire.Message)) {
	p.mu.Lock()
	p.requestHandler = cb
	p.mu.Unlock()
}

// SendResponse writes resp back out on the channel correlated to msgID,
// the transport-level counterpart to an inbound request this side
// answered by forwarding elsewhere.
func (p *P2PClient) SendResponse(msgID string, resp wire.Message) error {
	return p.channel.Send(msgID, resp)
}

// OnClose registers cb to run exactly once when Close is called. If the
// client is already closed, cb runs immediately.
func (p *P2PClient) OnClose(cb func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cb()
		return
	}
	p.onClose = append(p.onClose, cb)
	p.mu.Unlock()
}

// Close idempotently cancels every outstanding GetResponse, closes the
// underlying channel, and fires every registered OnClose callback exactly
// once, cascading shutdown to the proxies bound to this client.
func (p *P2PClient) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cbs := p.onClose
	p.onClose = nil
	p.mu.Unlock()

	p.Client.Close()
	if err := p.channel.Close(); err != nil {
		p.log.WithError(err).Debug("peerclient: channel close error")
	}
	for _, cb := range cbs {
		cb()
	}
}

// Closed reports whether Close has already run.
func (p *P2PClient) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
