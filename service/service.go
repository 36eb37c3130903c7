// Package service implements the Service coordinator of spec.md §4.10:
// the top-level object embedding applications construct, which owns
// storage connection lifecycle, peer handshake validation, and the
// hot-updatable configuration surface (sign certs, auto-fetches, peer
// connection configs) every other package in this module is wired
// through.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/odinsync/core/autofetch"
	"github.com/odinsync/core/cert"
	"github.com/odinsync/core/crypto"
	"github.com/odinsync/core/node"
	"github.com/odinsync/core/peerclient"
	"github.com/odinsync/core/peerproxy"
	"github.com/odinsync/core/thread"
	"github.com/odinsync/core/transport"
)

// peerSession bundles everything Service tracks per connected peer: the
// P2PClient and whichever proxy (Forwarder or Extender) owns its inbound
// dispatch, plus the AutoFetcher running its declarative syncs.
type peerSession struct {
	client     *peerclient.P2PClient
	forwarder  *peerproxy.Forwarder
	extender   *peerproxy.Extender
	autoFetch  *peerproxy.AutoFetcher
}

// Service is the lifecycle coordinator spec.md §4.10 names. The zero
// value is not usable; construct with New.
type Service struct {
	Log     *logrus.Entry
	Offloader crypto.SignatureOffloader
	Factory *node.Factory

	mu    sync.Mutex
	state State

	publicKey crypto.PublicKey
	authCert  []byte
	signCerts  []*cert.Cert
	templates  map[string]thread.Template

	peerConfigs    []PeerConnectionConfig
	storageConfigs []StorageConnectionConfig
	dbConfig       *DatabaseConfig
	policy         PolicyHook

	autoRegistry *autofetch.Registry
	mutes        *peerproxy.MuteLists
	blobs        *peerproxy.BlobCoordinator

	storageClient         *peerclient.P2PClient
	externalStorageClient *peerclient.P2PClient
	externalPermissions   peerclient.Permissions

	peers map[string]*peerSession

	events   *dispatcher
	metrics  *Metrics
	cancel   context.CancelFunc
	ctx      context.Context

	wg sync.WaitGroup
}

// New constructs an idle Service. off is the signature offloader used to
// sign/verify every cert and node this Service touches; now supplies the
// clock NodeFactory stamps creation times with.
func New(off crypto.SignatureOffloader, now node.Clock, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		Log:       log.WithField("component", "service"),
		Offloader: off,
		Factory:   node.NewFactory(off, now),
		mutes:     peerproxy.NewMuteLists(),
		blobs:     peerproxy.NewBlobCoordinator(),
		peers:     make(map[string]*peerSession),
		metrics:   NewMetrics(),
	}
}

// Metrics returns the Service's prometheus registry wrapper.
func (s *Service) Metrics() *Metrics { return s.metrics }

// Init validates cfg and moves the Service from Idle to Initialized. It
// may only be called once.
func (s *Service) Init(cfg ServiceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return ErrAlreadyInitialized
	}
	if cfg.DatabaseConfig != nil && len(cfg.StorageConnectionConfigs) > 0 {
		return ErrDuplicateStorage
	}

	chain := cert.NewChain(s.Offloader)
	authCert, err := chain.Decode(cfg.AuthCertImage)
	if err != nil {
		return fmt.Errorf("service: decode auth cert: %w", err)
	}
	ok, err := chain.Verify(authCert)
	if err != nil {
		return fmt.Errorf("service: verify auth cert: %w", err)
	}
	if !ok {
		return ErrInvalidAuthCert
	}
	s.publicKey = authCert.Props.Owner

	signCerts := make([]*cert.Cert, 0, len(cfg.SignCertImages))
	for _, img := range cfg.SignCertImages {
		c, err := chain.Decode(img)
		if err != nil {
			return fmt.Errorf("service: decode sign cert: %w", err)
		}
		signCerts = append(signCerts, c)
	}

	s.authCert = cfg.AuthCertImage
	s.signCerts = signCerts
	s.templates = cfg.ThreadTemplates
	s.peerConfigs = cfg.PeerConnectionConfigs
	s.storageConfigs = cfg.StorageConnectionConfigs
	s.dbConfig = cfg.DatabaseConfig
	s.policy = cfg.PolicyHook
	s.externalPermissions = cfg.ExternalPermissions
	s.autoRegistry = autofetch.NewRegistry()
	for _, af := range cfg.SyncConfigs {
		s.autoRegistry.Add(af)
	}

	s.events = newDispatcher()
	s.state = StateInitialized
	return nil
}

// OnEvent subscribes cb to every deferred lifecycle event (spec.md §5:
// dispatched on the next tick, never synchronously within the triggering
// call).
func (s *Service) OnEvent(cb func(Event)) {
	s.mu.Lock()
	d := s.events
	s.mu.Unlock()
	if d != nil {
		d.subscribe(cb)
	}
}

// Start begins the storage reconnect loop and every configured peer
// HandshakeFactory, moving the Service to Running.
func (s *Service) Start() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return ErrNotInitialized
	case StateRunning:
		s.mu.Unlock()
		return nil
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.state = StateRunning
	s.mu.Unlock()

	s.initStorage()

	for _, pc := range s.peerConfigs {
		s.startPeerFactory(pc)
	}
	for _, sc := range s.storageConfigs {
		s.startStorageFactory(sc)
	}
	return nil
}

// initStorage wires a local in-process storage pair when DatabaseConfig
// is set: one Loopback end becomes s.storageClient (used by every
// peerproxy proxy), and a second Loopback pair is mediated by a Forwarder
// applying ExternalPermissions to produce externalStorageClient, the view
// handed to the embedding application (spec.md §4.10 step 2).
func (s *Service) initStorage() {
	if s.dbConfig == nil {
		return
	}
	s.wg.Add(1)
	go s.connectDatabaseLoop(*s.dbConfig)
}

// connectDatabaseLoop is the "infinite reconnect loop" spec.md §4.10 step
// 2 describes: open the driver, wire a fresh loopback pair as the storage
// P2PClient, wait for it to close, sleep ReconnectDelay, retry — until
// the Service's context is cancelled. A zero or negative ReconnectDelay
// stops the loop after the first attempt.
func (s *Service) connectDatabaseLoop(cfg DatabaseConfig) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if err := cfg.Driver.Open(); err != nil {
			s.Log.WithError(err).Warn("service: storage driver open failed")
			s.emitErr(err)
			if !s.sleepOrDone(cfg.ReconnectDelay) {
				return
			}
			continue
		}
		if err := cfg.Driver.CreateTables(); err != nil {
			s.Log.WithError(err).Warn("service: storage driver create tables failed")
			s.emitErr(err)
			cfg.Driver.Close()
			if !s.sleepOrDone(cfg.ReconnectDelay) {
				return
			}
			continue
		}

		appEnd, storageEnd := transport.Loopback()
		serveCtx, stopServe := context.WithCancel(s.ctx)
		go func() {
			if err := cfg.Driver.Serve(serveCtx, appEnd); err != nil && serveCtx.Err() == nil {
				s.Log.WithError(err).Warn("service: storage driver serve stopped")
			}
		}()

		storageClient := peerclient.New(storageEnd, peerclient.PeerInfo{}, peerclient.PeerInfo{}, peerclient.Permissions{
			Fetch: peerclient.FetchPermissions{AllowReadBlob: true, AllowEmbed: true, AllowIncludeLicenses: true},
			Store: peerclient.StorePermissions{AllowStore: true, AllowWriteBlob: true},
		}, 0, s.Log)

		extAppEnd, extStorageEnd := transport.Loopback()
		externalClient := peerclient.New(extAppEnd, peerclient.PeerInfo{}, peerclient.PeerInfo{}, s.externalPermissions, 0, s.Log)
		externalBackend := peerclient.New(extStorageEnd, peerclient.PeerInfo{}, peerclient.PeerInfo{}, s.externalPermissions, 0, s.Log)
		peerproxy.NewForwarder(externalBackend, storageClient, peerproxy.NewMuteLists(), s.Log)

		s.mu.Lock()
		s.storageClient = storageClient
		s.externalStorageClient = externalClient
		s.mu.Unlock()
		s.emit(Event{Kind: EventStorageConnected})

		closed := make(chan struct{})
		storageClient.OnClose(func() { close(closed) })

		select {
		case <-closed:
		case <-s.ctx.Done():
			storageClient.Close()
			externalClient.Close()
			externalBackend.Close()
			stopServe()
			cfg.Driver.Close()
			return
		}
		stopServe()

		s.mu.Lock()
		s.storageClient = nil
		s.externalStorageClient = nil
		s.mu.Unlock()
		s.emit(Event{Kind: EventStorageDisconnected})
		cfg.Driver.Close()

		if !s.sleepOrDone(cfg.ReconnectDelay) {
			return
		}
	}
}

func (s *Service) sleepOrDone(d time.Duration) bool {
	if d <= 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// StorageClient returns the currently connected internal storage
// P2PClient, or nil if storage is not connected.
func (s *Service) StorageClient() *peerclient.P2PClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storageClient
}

// ExternalStorageClient returns the app-permissioned storage P2PClient an
// embedder should issue its own fetch/store calls against.
func (s *Service) ExternalStorageClient() *peerclient.P2PClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.externalStorageClient
}

func (s *Service) startPeerFactory(pc PeerConnectionConfig) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := pc.Factory.Start(s.ctx, func(hr HandshakeResult) {
			s.onPeerHandshake(pc, hr)
		})
		if err != nil && s.ctx.Err() == nil {
			s.Log.WithError(err).Warn("service: peer handshake factory stopped")
			s.emitErr(err)
		}
	}()
}

func (s *Service) startStorageFactory(sc StorageConnectionConfig) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := sc.Factory.Start(s.ctx, func(hr HandshakeResult) {
			s.onStorageHandshake(hr)
		})
		if err != nil && s.ctx.Err() == nil {
			s.Log.WithError(err).Warn("service: storage handshake factory stopped")
			s.emitErr(err)
		}
	}()
}

func (s *Service) emit(ev Event) {
	s.mu.Lock()
	d := s.events
	s.mu.Unlock()
	if d != nil {
		d.emit(ev)
	}
}

func (s *Service) emitErr(err error) {
	s.metrics.errored()
	s.emit(Event{Kind: EventError, Err: err})
}

// Stop cancels every handshake factory and the reconnect loop, but
// leaves the Service Initialized (restartable via Start). It blocks
// until every background goroutine has returned.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = StateInitialized
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	for _, p := range s.peers {
		p.client.Close()
	}
	s.peers = make(map[string]*peerSession)
	s.mu.Unlock()
	return nil
}

// Close permanently shuts the Service down: stops it if running, closes
// the event dispatcher, and transitions to Closed. Start returns
// ErrClosed afterwards; a repeated Close returns nil.
func (s *Service) Close() error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == StateClosed {
		return nil
	}
	if state == StateRunning {
		if err := s.Stop(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events != nil {
		s.events.close()
	}
	s.state = StateClosed
	return nil
}

// State returns the Service's current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
