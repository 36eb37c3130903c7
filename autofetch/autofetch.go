// Package autofetch implements the AutoFetch declarative subscription
// (spec.md §3, §8): a remote peer / fetch request / blob limit / direction
// tuple whose identity is a deep-hash of its content, so that registering
// the same subscription twice shares one refcount instead of duplicating
// work.
package autofetch

import (
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/odinsync/core/crypto"
	"github.com/odinsync/core/wire"
)

// AutoFetch is a declarative continuous-sync subscription between two
// peers for one fetch request.
type AutoFetch struct {
	// RemotePublicKey, if empty, matches every connected peer.
	RemotePublicKey  crypto.PublicKey
	FetchRequest     wire.FetchRequest
	BlobSizeMaxLimit int32 // -1 = unlimited
	Reverse          bool
}

// MatchesPeer reports whether this AutoFetch applies to a peer whose
// handshake public key is handshakePublicKey.
func (a AutoFetch) MatchesPeer(handshakePublicKey crypto.PublicKey) bool {
	return len(a.RemotePublicKey) == 0 || string(a.RemotePublicKey) == string(handshakePublicKey)
}

// Key returns the deep-hash identity two structurally equal AutoFetches
// share (spec.md §8: "equal autofetches share a refcount").
func (a AutoFetch) Key() string {
	b, err := json.Marshal(a)
	if err != nil {
		// AutoFetch is plain data; Marshal only fails on unsupported types.
		panic("autofetch: marshal: " + err.Error())
	}
	return hex.EncodeToString(crypto.Hash(b))
}

// Registry is the refcounted set of AutoFetches a Service or AutoFetcher
// maintains. Equal autofetches (by deep-hash identity) share one entry;
// Add/Remove increment/decrement its refcount.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*regEntry
}

type regEntry struct {
	af       AutoFetch
	refcount int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*regEntry)}
}

// Add registers a, incrementing its refcount. Reports whether this was
// the first registration (refcount went 0→1) — callers use this to decide
// whether to actually issue the subscription.
func (r *Registry) Add(a AutoFetch) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := a.Key()
	e, ok := r.entries[key]
	if !ok {
		r.entries[key] = &regEntry{af: a, refcount: 1}
		return true
	}
	e.refcount++
	return false
}

// Remove decrements a's refcount, removing the entry entirely once it
// reaches zero. Reports whether the entry is still present afterward.
func (r *Registry) Remove(a AutoFetch) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := a.Key()
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	e.refcount--
	if e.refcount <= 0 {
		delete(r.entries, key)
		return false
	}
	return true
}

// Contains reports whether a is currently registered (refcount > 0).
func (r *Registry) Contains(a AutoFetch) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[a.Key()]
	return ok
}

// List returns every currently registered AutoFetch, in no particular
// order.
func (r *Registry) List() []AutoFetch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AutoFetch, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.af)
	}
	return out
}

// ForPeer returns every registered AutoFetch matching handshakePublicKey.
func (r *Registry) ForPeer(handshakePublicKey crypto.PublicKey) []AutoFetch {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AutoFetch
	for _, e := range r.entries {
		if e.af.MatchesPeer(handshakePublicKey) {
			out = append(out, e.af)
		}
	}
	return out
}
