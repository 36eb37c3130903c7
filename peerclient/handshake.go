package peerclient

import "context"

// HandshakeResult is what a HandshakeFactory hands its owner for every
// newly authenticated connection: the framed channel, the remote's raw
// PeerInfo JSON blob, the public key the transport handshake itself
// authenticated, and the measured clock skew (spec.md §1, §6.3).
type HandshakeResult struct {
	Channel            Channel
	PeerDataJSON       []byte
	HandshakePublicKey PublicKeyBytes
	ClockDiff          int64
}

// PublicKeyBytes avoids a direct dependency from this low-level package
// on the crypto package's curve choice; it is byte-identical to
// crypto.PublicKey and callers pass one where the other is expected.
type PublicKeyBytes = []byte

// HandshakeFactory is the out-of-scope collaborator spec.md §1 names:
// "raw socket factories and the low-level handshake/Noise-style
// transport... supply a HandshakeFactory yielding authenticated
// bidirectional message channels." Start must invoke onHandshake once per
// completed handshake and block (running its accept loop, or waiting on
// ctx) until ctx is cancelled or Close is called.
type HandshakeFactory interface {
	Start(ctx context.Context, onHandshake func(HandshakeResult)) error
	Close() error
}
