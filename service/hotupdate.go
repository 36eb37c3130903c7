package service

import (
	"github.com/odinsync/core/autofetch"
	"github.com/odinsync/core/cert"
)

// AddSignCert hot-adds a sign cert to the pool every Extender consults,
// taking effect for licenses extended after the call (spec.md §4.10:
// "hot-updatable config: sign certs").
func (s *Service) AddSignCert(c *cert.Cert) {
	s.mu.Lock()
	s.signCerts = append(s.signCerts, c)
	certs := append([]*cert.Cert{}, s.signCerts...)
	peers := s.snapshotPeers()
	s.mu.Unlock()

	for _, p := range peers {
		if p.extender != nil {
			p.extender.SetSignCerts(certs)
		}
	}
}

// AddAutoFetch records af as desired configuration and starts it against
// every currently connected peer it matches. It satisfies
// thread.AutoSyncer, letting a ThreadController register its forward/
// reverse syncs straight through the owning Service.
func (s *Service) AddAutoFetch(af autofetch.AutoFetch) {
	s.mu.Lock()
	if s.autoRegistry != nil {
		s.autoRegistry.Add(af)
	}
	peers := s.snapshotPeers()
	s.mu.Unlock()

	for _, p := range peers {
		p.autoFetch.AddFetch([]autofetch.AutoFetch{af})
	}
}

// RemoveAutoFetch decrements af's desired-configuration refcount and, for
// every connected peer whose own per-connection refcount also drops to
// zero, tears down the subscription.
func (s *Service) RemoveAutoFetch(af autofetch.AutoFetch) {
	s.mu.Lock()
	if s.autoRegistry != nil {
		s.autoRegistry.Remove(af)
	}
	peers := s.snapshotPeers()
	s.mu.Unlock()

	for _, p := range peers {
		p.autoFetch.RemoveFetch([]autofetch.AutoFetch{af})
	}
}

// AddPeerConnectionConfig hot-adds a peer connection config and, if the
// Service is running, starts its HandshakeFactory immediately.
func (s *Service) AddPeerConnectionConfig(pc PeerConnectionConfig) {
	s.mu.Lock()
	s.peerConfigs = append(s.peerConfigs, pc)
	running := s.state == StateRunning
	s.mu.Unlock()

	if running {
		s.startPeerFactory(pc)
	}
}

// currentSignCerts returns a copy of the Service's current sign-cert
// pool, safe to hand to a freshly constructed thread.Thread.
func (s *Service) currentSignCerts() []*cert.Cert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*cert.Cert{}, s.signCerts...)
}

func (s *Service) snapshotPeers() []*peerSession {
	out := make([]*peerSession, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}
