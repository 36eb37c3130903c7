// Package crypto supplies the cryptographic primitives the rest of
// odinsync treats as opaque: hashing and the SignatureOffloader contract.
// No new cryptography is invented here — blake2b and secp256k1 are the
// teacher's own signing stack (core/consensus*.go, core/access_control.go
// lineage), reused instead of a bespoke curve.
package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/blake2b"
)

// PublicKey and PrivateKey are opaque byte strings on the wire; this
// package is the only place that knows their curve.
type PublicKey []byte
type PrivateKey []byte
type Signature []byte

// Hash returns the blake2b-256 digest of data, prefixed by any number of
// additional byte strings concatenated in order (used for refId
// derivations such as H("DESTROY_NODE" || publicKey || id1)).
func Hash(parts ...[]byte) []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for bad keyed-hash keys; nil key never fails.
		panic(fmt.Sprintf("crypto: blake2b init: %v", err))
	}
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// SignatureOffloader is the worker-pool handle the core treats as
// external: all signing and verification happens through it so that the
// main coordination loop (§5) never blocks on cryptography.
type SignatureOffloader interface {
	// GenKeyPair returns a freshly generated keypair and registers it so
	// subsequent Sign calls naming its public key succeed.
	GenKeyPair() (PublicKey, PrivateKey, error)

	// Sign signs data with the private key corresponding to pub, which
	// must have been produced by GenKeyPair or explicitly imported.
	Sign(pub PublicKey, data []byte) (Signature, error)

	// Verify reports whether sig is a valid signature of data under pub.
	Verify(pub PublicKey, data []byte, sig Signature) bool
}

// offloader is the default in-process SignatureOffloader implementation,
// used directly by tests and by any embedder that does not need an
// actual worker pool. It is intentionally simple: a map of known keys
// guarded by the caller (Service owns the only writer).
type offloader struct {
	keys map[string]*secp256k1.PrivateKey
}

// NewOffloader returns a SignatureOffloader backed by secp256k1 run
// in-process (no worker pool). Suitable for tests and for embedders that
// do not need to offload signing off the main loop.
func NewOffloader() SignatureOffloader {
	return &offloader{keys: make(map[string]*secp256k1.PrivateKey)}
}

func (o *offloader) GenKeyPair() (PublicKey, PrivateKey, error) {
	priv, err := secp256k1.GeneratePrivateKeyFromRand(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	pub := priv.PubKey().SerializeCompressed()
	o.keys[string(pub)] = priv
	return PublicKey(pub), PrivateKey(priv.Serialize()), nil
}

func (o *offloader) Sign(pub PublicKey, data []byte) (Signature, error) {
	priv, ok := o.keys[string(pub)]
	if !ok {
		return nil, fmt.Errorf("crypto: unknown public key for signing")
	}
	digest := Hash(data)
	sig := ecdsa.Sign(priv, digest)
	return Signature(sig.Serialize()), nil
}

func (o *offloader) Verify(pub PublicKey, data []byte, sig Signature) bool {
	pk, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return false
	}
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return s.Verify(Hash(data), pk)
}

// Import registers an existing keypair with the offloader so Sign can be
// used for externally-generated keys (e.g. ones decoded from a cert).
func (o *offloader) Import(priv PrivateKey) (PublicKey, error) {
	pk := secp256k1.PrivKeyFromBytes(priv)
	pub := pk.PubKey().SerializeCompressed()
	o.keys[string(pub)] = pk
	return PublicKey(pub), nil
}

// Importer exposes the Import extension without widening the
// SignatureOffloader interface every caller must satisfy.
type Importer interface {
	Import(priv PrivateKey) (PublicKey, error)
}

var _ Importer = (*offloader)(nil)
