package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/odinsync/core/peerclient"
	"github.com/odinsync/core/wire"
)

var _ peerclient.Channel = (*wsChannel)(nil)
var _ peerclient.HandshakeFactory = (*WSServerFactory)(nil)

// wsChannel adapts one *websocket.Conn to peerclient.Channel. Every frame
// is [2-byte big-endian msgId length][msgId][wire-encoded message]; one
// websocket binary message per logical frame, so no outer length prefix
// is needed beyond what gorilla/websocket already gives each ReadMessage.
type wsChannel struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	receiver func(msgID string, msg wire.Message)
	closed   bool
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	c := &wsChannel{conn: conn}
	go c.readLoop()
	return c
}

func (c *wsChannel) SetReceiver(cb func(msgID string, msg wire.Message)) {
	c.mu.Lock()
	c.receiver = cb
	c.mu.Unlock()
}

func (c *wsChannel) Send(msgID string, msg wire.Message) error {
	body, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}
	idBytes := []byte(msgID)
	frame := make([]byte, 2+len(idBytes)+len(body))
	binary.BigEndian.PutUint16(frame, uint16(len(idBytes)))
	copy(frame[2:], idBytes)
	copy(frame[2+len(idBytes):], body)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsChannel) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.Close()
			return
		}
		if len(data) < 2 {
			continue
		}
		idLen := binary.BigEndian.Uint16(data)
		if len(data) < int(2+idLen) {
			continue
		}
		msgID := string(data[2 : 2+idLen])
		msg, err := wire.Decode(data[2+idLen:])
		if err != nil {
			continue
		}

		c.mu.Lock()
		recv := c.receiver
		c.mu.Unlock()
		if recv != nil {
			recv(msgID, toPointer(msg))
		}
	}
}

func (c *wsChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

// toPointer promotes the value-typed wire.Message variants wire.Decode
// returns to the pointer variants the rest of this module's inbound
// dispatch (peerclient, peerproxy, thread) type-switches on.
func toPointer(msg wire.Message) wire.Message {
	switch m := msg.(type) {
	case wire.FetchRequest:
		return &m
	case wire.FetchResponse:
		return &m
	case wire.StoreRequest:
		return &m
	case wire.StoreResponse:
		return &m
	case wire.UnsubscribeRequest:
		return &m
	case wire.UnsubscribeResponse:
		return &m
	case wire.WriteBlobRequest:
		return &m
	case wire.WriteBlobResponse:
		return &m
	case wire.ReadBlobRequest:
		return &m
	case wire.ReadBlobResponse:
		return &m
	case wire.GenericMessageRequest:
		return &m
	case wire.GenericMessageResponse:
		return &m
	default:
		return msg
	}
}

// WSServerFactory is the reference server-side HandshakeFactory
// (spec.md §1's out-of-scope transport, given a minimal concrete
// implementation here for integration tests): it accepts websocket
// upgrades, writes its own PeerDataJSON as a binary frame, reads the
// peer's next frame as its PeerInfo JSON, and calls onHandshake once per
// connection.
type WSServerFactory struct {
	Addr       string
	PeerDataJSON []byte
	PrivateKey libp2pcrypto.PrivKey

	upgrader websocket.Upgrader
	srv      *http.Server
}

// NewWSServerFactory returns a factory listening on addr, replying with
// peerDataJSON as its own PeerInfo blob during the handshake. priv, if
// non-nil, is this side's libp2p identity key; it is kept in PrivateKey
// and not used by the factory itself (the transport-level Noise/TLS
// handshake proper is out of this module's scope).
func NewWSServerFactory(addr string, peerDataJSON []byte, priv libp2pcrypto.PrivKey) *WSServerFactory {
	return &WSServerFactory{Addr: addr, PeerDataJSON: peerDataJSON, PrivateKey: priv}
}

// Start runs the HTTP/websocket accept loop until ctx is cancelled.
func (f *WSServerFactory) Start(ctx context.Context, onHandshake func(result peerclient.HandshakeResult)) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, f.PeerDataJSON); err != nil {
			conn.Close()
			return
		}
		_, peerData, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		onHandshake(peerclient.HandshakeResult{
			Channel:            newWSChannel(conn),
			PeerDataJSON:       peerData,
			HandshakePublicKey: remotePeerID(r),
		})
	})
	f.srv = &http.Server{Addr: f.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- f.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return f.srv.Close()
	case err := <-errCh:
		return err
	}
}

// Close stops the accept loop immediately.
func (f *WSServerFactory) Close() error {
	if f.srv == nil {
		return nil
	}
	return f.srv.Close()
}

// remotePeerID derives a peer.ID-shaped identifier from the request's
// remote address, used as the HandshakeResult's HandshakePublicKey; real
// handshake authentication is out of scope (spec.md §1).
func remotePeerID(r *http.Request) []byte {
	return []byte(peer.ID(r.RemoteAddr))
}

// NewRandomIdentity generates a fresh libp2p ed25519 identity, used by
// tests that need a stable peer.ID without wiring a real keystore.
func NewRandomIdentity() (libp2pcrypto.PrivKey, error) {
	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("transport: generate identity: %w", err)
	}
	return priv, nil
}

// newMsgID returns a fresh uuid string for use as a msgId (the Channel
// abstraction leaves msgId generation to the caller). Nothing in this
// module calls it.
func newMsgID() string { return uuid.NewString() }
