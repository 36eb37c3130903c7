package service

import (
	"fmt"

	"github.com/odinsync/core/thread"
)

// Thread constructs a thread.Thread bound to the registered template
// name and the Service's current storage connection, sign-cert pool, and
// signing identity — the convenience entry point spec.md §4.10 implies by
// making ThreadTemplates part of ServiceConfig rather than a standalone
// constructor argument callers would otherwise have to thread through
// themselves on every call.
func (s *Service) Thread(templateName string, defaults thread.Defaults) (*thread.Thread, error) {
	s.mu.Lock()
	tmpl, ok := s.templates[templateName]
	storageClient := s.storageClient
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("service: no thread template named %q", templateName)
	}
	if storageClient == nil {
		return nil, ErrNoStorageClient
	}

	return &thread.Thread{
		Template:  tmpl,
		Defaults:  defaults,
		Factory:   s.Factory,
		Client:    storageClient.Client,
		SignCerts: s.currentSignCerts(),
		Signer:    s.publicKey,
	}, nil
}
