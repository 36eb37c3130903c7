package peerproxy

import "sync"

// MuteLists is the per-P2PClient-pair muteMsgIds/reverseMuteMsgIds set
// spec.md §4.9/§5 describes: mutated only by the two AutoFetchers owning
// a pair, read freely by the Forwarder/Extender sharing it, to break
// subscription echo between the forward and reverse sync directions.
type MuteLists struct {
	mu          sync.Mutex
	mute        map[string]struct{}
	reverseMute map[string]struct{}
}

// NewMuteLists returns an empty pair of mute sets.
func NewMuteLists() *MuteLists {
	return &MuteLists{mute: make(map[string]struct{}), reverseMute: make(map[string]struct{})}
}

// Mute records msgID in the forward-direction mute set.
func (m *MuteLists) Mute(msgID string) {
	m.mu.Lock()
	m.mute[msgID] = struct{}{}
	m.mu.Unlock()
}

// ReverseMute records msgID in the reverse-direction mute set.
func (m *MuteLists) ReverseMute(msgID string) {
	m.mu.Lock()
	m.reverseMute[msgID] = struct{}{}
	m.mu.Unlock()
}

// IsMuted reports whether msgID was recorded by Mute.
func (m *MuteLists) IsMuted(msgID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mute[msgID]
	return ok
}

// IsReverseMuted reports whether msgID was recorded by ReverseMute.
func (m *MuteLists) IsReverseMuted(msgID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.reverseMute[msgID]
	return ok
}

// Unmute removes msgID from both sets, once a muted subscription's
// originating AutoFetcher tears it down.
func (m *MuteLists) Unmute(msgID string) {
	m.mu.Lock()
	delete(m.mute, msgID)
	delete(m.reverseMute, msgID)
	m.mu.Unlock()
}
