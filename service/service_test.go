package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/odinsync/core/autofetch"
	"github.com/odinsync/core/cert"
	"github.com/odinsync/core/crypto"
	"github.com/odinsync/core/node"
	"github.com/odinsync/core/peerclient"
	"github.com/odinsync/core/transport"
	"github.com/odinsync/core/wire"
)

func fixedClock(t uint64) node.Clock { return func() uint64 { return t } }

// signedAuthCertImage builds a minimal FamilyAuth cert owned by pub,
// signed under off, packed into a transmittable image.
func signedAuthCertImage(t *testing.T, off crypto.SignatureOffloader, pub crypto.PublicKey) []byte {
	t.Helper()
	c := &cert.Cert{Family: cert.FamilyAuth, Props: cert.Props{Owner: pub, TargetPublicKeys: []crypto.PublicKey{pub}}}
	img, err := cert.SignedImage(c, off, pub)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func newTestServiceConfig(t *testing.T, off crypto.SignatureOffloader, pub crypto.PublicKey) ServiceConfig {
	return ServiceConfig{AuthCertImage: signedAuthCertImage(t, off, pub)}
}

func TestServiceLifecycleStateMachine(t *testing.T) {
	off := crypto.NewOffloader()
	pub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	svc := New(off, fixedClock(1000), nil)

	if svc.State() != StateIdle {
		t.Fatalf("new Service state = %v, want Idle", svc.State())
	}

	if err := svc.Init(newTestServiceConfig(t, off, pub)); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if svc.State() != StateInitialized {
		t.Fatalf("state after Init = %v, want Initialized", svc.State())
	}
	if err := svc.Init(newTestServiceConfig(t, off, pub)); err != ErrAlreadyInitialized {
		t.Fatalf("second Init = %v, want ErrAlreadyInitialized", err)
	}

	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if svc.State() != StateRunning {
		t.Fatalf("state after Start = %v, want Running", svc.State())
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("second Start should be a no-op, got %v", err)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if svc.State() != StateInitialized {
		t.Fatalf("state after Stop = %v, want Initialized", svc.State())
	}
	if err := svc.Stop(); err != ErrNotRunning {
		t.Fatalf("second Stop = %v, want ErrNotRunning", err)
	}

	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if svc.State() != StateClosed {
		t.Fatalf("state after Close = %v, want Closed", svc.State())
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("second Close should be idempotent, got %v", err)
	}
	if err := svc.Start(); err != ErrClosed {
		t.Fatalf("Start after Close = %v, want ErrClosed", err)
	}
}

func TestServiceStartBeforeInitFails(t *testing.T) {
	off := crypto.NewOffloader()
	svc := New(off, fixedClock(1000), nil)
	if err := svc.Start(); err != ErrNotInitialized {
		t.Fatalf("Start before Init = %v, want ErrNotInitialized", err)
	}
}

func TestServiceInitRejectsDuplicateStorage(t *testing.T) {
	off := crypto.NewOffloader()
	pub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	svc := New(off, fixedClock(1000), nil)
	cfg := newTestServiceConfig(t, off, pub)
	cfg.DatabaseConfig = &DatabaseConfig{Driver: &fakeStorageDriver{}}
	cfg.StorageConnectionConfigs = []StorageConnectionConfig{{Factory: &fakeHandshakeFactory{}}}

	if err := svc.Init(cfg); err != ErrDuplicateStorage {
		t.Fatalf("Init with both storage configs = %v, want ErrDuplicateStorage", err)
	}
}

func TestServiceInitRejectsInvalidAuthCert(t *testing.T) {
	off := crypto.NewOffloader()
	svc := New(off, fixedClock(1000), nil)
	if err := svc.Init(ServiceConfig{AuthCertImage: []byte("not a cert image")}); err == nil {
		t.Fatal("expected Init to reject a garbage auth cert image")
	}

	// A well-formed but unsigned image decodes cleanly but fails Verify.
	unsignedC := cert.Cert{}
	pub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	unsignedC.Props = cert.Props{Owner: pub}
	img, err := cert.Pack(cert.FamilyAuth, unsignedC.Props, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Init(ServiceConfig{AuthCertImage: img}); err != ErrInvalidAuthCert {
		t.Fatalf("Init with unsigned auth cert = %v, want ErrInvalidAuthCert", err)
	}
}

func TestServiceHotUpdateAddSignCertAndAutoFetchAreRaceFree(t *testing.T) {
	off := crypto.NewOffloader()
	pub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	svc := New(off, fixedClock(1000), nil)
	if err := svc.Init(newTestServiceConfig(t, off, pub)); err != nil {
		t.Fatal(err)
	}

	signCert := &cert.Cert{Family: cert.FamilyDataSign, Props: cert.Props{Owner: pub}}
	svc.AddSignCert(signCert)
	certs := svc.currentSignCerts()
	if len(certs) != 1 || certs[0] != signCert {
		t.Fatalf("AddSignCert did not record the cert, got %+v", certs)
	}

	af := autofetch.AutoFetch{FetchRequest: wire.FetchRequest{Query: wire.DefaultFetchQuery()}}
	svc.AddAutoFetch(af)
	if !svc.autoRegistry.Contains(af) {
		t.Fatal("AddAutoFetch should record the entry in the Service's registry")
	}
	svc.RemoveAutoFetch(af)
	if svc.autoRegistry.Contains(af) {
		t.Fatal("RemoveAutoFetch should drop the entry once refcount reaches zero")
	}
}

func TestServiceAddPeerConnectionConfigStartsFactoryWhileRunning(t *testing.T) {
	off := crypto.NewOffloader()
	pub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	svc := New(off, fixedClock(1000), nil)
	if err := svc.Init(newTestServiceConfig(t, off, pub)); err != nil {
		t.Fatal(err)
	}
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	factory := newFakeHandshakeFactory()
	svc.AddPeerConnectionConfig(PeerConnectionConfig{Factory: factory})

	select {
	case <-factory.started:
	case <-time.After(time.Second):
		t.Fatal("hot-added peer connection config's factory was never started")
	}
}

func TestServiceOnPeerHandshakeFullRoundTrip(t *testing.T) {
	off := crypto.NewOffloader()
	ownerPub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	svc := New(off, fixedClock(1000), nil)

	driver := &fakeStorageDriver{}
	peerFactory := newFakeHandshakeFactory()
	cfg := newTestServiceConfig(t, off, ownerPub)
	cfg.DatabaseConfig = &DatabaseConfig{Driver: driver}
	cfg.PeerConnectionConfigs = []PeerConnectionConfig{{
		Factory: peerFactory,
		Permissions: peerclient.Permissions{
			Fetch: peerclient.FetchPermissions{AllowReadBlob: true},
			Store: peerclient.StorePermissions{AllowStore: true},
		},
	}}

	if err := svc.Init(cfg); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var events []Event
	svc.OnEvent(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	waitFor(t, func() bool { return svc.StorageClient() != nil }, "storage client to connect")

	peerOff := crypto.NewOffloader()
	peerPub, _, err := peerOff.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	peerCert := &cert.Cert{Family: cert.FamilyAuth, Props: cert.Props{Owner: peerPub, TargetPublicKeys: []crypto.PublicKey{peerPub}}}
	peerImage, err := cert.SignedImage(peerCert, peerOff, peerPub)
	if err != nil {
		t.Fatal(err)
	}

	peerDataJSON, err := json.Marshal(map[string]interface{}{
		"authCert": "hex:" + hex.EncodeToString(peerImage),
	})
	if err != nil {
		t.Fatal(err)
	}

	remoteCh := &fakePeerChannel{}
	peerFactory.deliver(peerclient.HandshakeResult{
		Channel:            remoteCh,
		PeerDataJSON:       peerDataJSON,
		HandshakePublicKey: []byte("peer-1"),
	})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			if ev.Kind == EventPeerConnected {
				return true
			}
			if ev.Kind == EventError {
				t.Fatalf("unexpected error event: %v", ev.Err)
			}
		}
		return false
	}, "EventPeerConnected")

	svc.mu.Lock()
	_, ok := svc.peers["peer-1"]
	svc.mu.Unlock()
	if !ok {
		t.Fatal("expected peer-1 to be tracked after a successful handshake")
	}
}

func TestServiceOnPeerHandshakeRejectsUnverifiableAuthCert(t *testing.T) {
	off := crypto.NewOffloader()
	ownerPub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	svc := New(off, fixedClock(1000), nil)

	driver := &fakeStorageDriver{}
	peerFactory := newFakeHandshakeFactory()
	cfg := newTestServiceConfig(t, off, ownerPub)
	cfg.DatabaseConfig = &DatabaseConfig{Driver: driver}
	cfg.PeerConnectionConfigs = []PeerConnectionConfig{{Factory: peerFactory}}

	if err := svc.Init(cfg); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	svc.OnEvent(func(ev Event) {
		if ev.Kind == EventError {
			select {
			case errCh <- ev.Err:
			default:
			}
		}
	})

	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	waitFor(t, func() bool { return svc.StorageClient() != nil }, "storage client to connect")

	peerDataJSON, err := json.Marshal(map[string]interface{}{"authCert": "hex:" + hex.EncodeToString([]byte("garbage"))})
	if err != nil {
		t.Fatal(err)
	}
	peerFactory.deliver(peerclient.HandshakeResult{
		Channel:            &fakePeerChannel{},
		PeerDataJSON:       peerDataJSON,
		HandshakePublicKey: []byte("peer-2"),
	})

	select {
	case err := <-errCh:
		if err != ErrPeerAuthCertInvalid {
			t.Fatalf("got error %v, want ErrPeerAuthCertInvalid", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an EventError for an undecodable peer auth cert")
	}
}

// TestValidateAuthCertCarrierStoresOnceThenRefetches pins spec.md §8's
// carrier round-trip invariant directly: against a fresh storage, the
// first call stores the carrier exactly once and returns true; a second
// call against the same image finds it on the initial fetch and never
// attempts a second store.
func TestValidateAuthCertCarrierStoresOnceThenRefetches(t *testing.T) {
	off := crypto.NewOffloader()
	pub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	svc := New(off, fixedClock(1000), nil)
	svc.publicKey = pub

	driver := &fakeStorageDriver{}
	app, driverEnd := transport.Loopback()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go driver.Serve(ctx, driverEnd)

	storageClient := peerclient.New(app, peerclient.PeerInfo{}, peerclient.PeerInfo{}, peerclient.Permissions{
		Fetch: peerclient.FetchPermissions{AllowReadBlob: true},
		Store: peerclient.StorePermissions{AllowStore: true},
	}, 0, logrus.NewEntry(logrus.StandardLogger()))

	peerInfo := peerclient.PeerInfo{AuthCert: signedAuthCertImage(t, off, pub)}

	if !svc.validateAuthCertCarrier(storageClient, peerInfo) {
		t.Fatal("expected first validateAuthCertCarrier call to succeed")
	}
	driver.mu.Lock()
	storeCount := driver.storeCount
	driver.mu.Unlock()
	if storeCount != 1 {
		t.Fatalf("expected exactly one store after the first call, got %d", storeCount)
	}

	if !svc.validateAuthCertCarrier(storageClient, peerInfo) {
		t.Fatal("expected second validateAuthCertCarrier call to succeed")
	}
	driver.mu.Lock()
	storeCount = driver.storeCount
	driver.mu.Unlock()
	if storeCount != 1 {
		t.Fatalf("expected no additional store on the second call, got %d total", storeCount)
	}
}

// --- fixtures ---

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeStorageDriver is a minimal StorageDriver: Serve answers every
// StoreRequest with a StoredID1List derived the same way node.Build
// derives ID1 (hash of the body), indexing each stored body by its
// parentId so a subsequent FetchRequest can find it again — the same
// round trip validateAuthCertCarrier relies on; everything else gets a
// generic Result reply.
type fakeStorageDriver struct {
	mu         sync.Mutex
	opened     bool
	closed     bool
	byParent   map[string][][]byte
	storeCount int
}

func (d *fakeStorageDriver) Open() error         { d.mu.Lock(); d.opened = true; d.mu.Unlock(); return nil }
func (d *fakeStorageDriver) CreateTables() error { return nil }
func (d *fakeStorageDriver) Close() error        { d.mu.Lock(); d.closed = true; d.mu.Unlock(); return nil }

func (d *fakeStorageDriver) Serve(ctx context.Context, channel peerclient.Channel) error {
	channel.SetReceiver(func(msgID string, msg wire.Message) {
		switch m := msg.(type) {
		case *wire.StoreRequest:
			ids := make([][]byte, len(m.Nodes))
			d.mu.Lock()
			d.storeCount++
			if d.byParent == nil {
				d.byParent = make(map[string][][]byte)
			}
			for i, body := range m.Nodes {
				ids[i] = crypto.Hash(body)
				if n, err := node.Decode(body); err == nil {
					key := hex.EncodeToString(n.ParentID)
					d.byParent[key] = append(d.byParent[key], body)
				}
			}
			d.mu.Unlock()
			channel.Send(msgID, &wire.StoreResponse{Status: wire.StatusResult, StoredID1List: ids})
		case *wire.FetchRequest:
			d.mu.Lock()
			nodes := append([][]byte(nil), d.byParent[hex.EncodeToString(m.Query.ParentID)]...)
			d.mu.Unlock()
			channel.Send(msgID, &wire.FetchResponse{Status: wire.StatusResult, Result: wire.FetchResult{Nodes: nodes}, Seq: 1, EndSeq: 1})
		default:
			channel.Send(msgID, &wire.GenericMessageResponse{Status: wire.StatusResult})
		}
	})
	<-ctx.Done()
	return nil
}

// fakeHandshakeFactory is a hand-wired HandshakeFactory: Start records
// the onHandshake callback and blocks on ctx, deliver() feeds a
// HandshakeResult through it once Start has actually run.
type fakeHandshakeFactory struct {
	startOnce sync.Once
	started   chan struct{}

	mu          sync.Mutex
	onHandshake func(peerclient.HandshakeResult)
}

func newFakeHandshakeFactory() *fakeHandshakeFactory {
	return &fakeHandshakeFactory{started: make(chan struct{})}
}

func (f *fakeHandshakeFactory) Start(ctx context.Context, onHandshake func(peerclient.HandshakeResult)) error {
	f.mu.Lock()
	f.onHandshake = onHandshake
	f.mu.Unlock()
	f.startOnce.Do(func() { close(f.started) })
	<-ctx.Done()
	return nil
}

func (f *fakeHandshakeFactory) Close() error { return nil }

func (f *fakeHandshakeFactory) deliver(hr peerclient.HandshakeResult) {
	<-f.started
	f.mu.Lock()
	cb := f.onHandshake
	f.mu.Unlock()
	cb(hr)
}

// fakePeerChannel is a no-op peerclient.Channel standing in for a real
// peer connection: Send just records, nothing reads it back in these
// tests since the assertions only care about Service-side state.
type fakePeerChannel struct {
	mu   sync.Mutex
	sent []wire.Message
}

func (c *fakePeerChannel) Send(msgID string, msg wire.Message) error {
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}
func (c *fakePeerChannel) SetReceiver(func(msgID string, msg wire.Message)) {}
func (c *fakePeerChannel) Close() error                                    { return nil }
