package thread

import (
	"sync"
	"testing"

	"github.com/odinsync/core/autofetch"
	"github.com/odinsync/core/crypto"
	"github.com/odinsync/core/node"
	"github.com/odinsync/core/storageclient"
	"github.com/odinsync/core/wire"
)

type fakeSyncer struct {
	mu     sync.Mutex
	added  []autofetch.AutoFetch
	removed []autofetch.AutoFetch
}

func (f *fakeSyncer) AddAutoFetch(af autofetch.AutoFetch) {
	f.mu.Lock()
	f.added = append(f.added, af)
	f.mu.Unlock()
}
func (f *fakeSyncer) RemoveAutoFetch(af autofetch.AutoFetch) {
	f.mu.Lock()
	f.removed = append(f.removed, af)
	f.mu.Unlock()
}

func newControllerTestThread(t *testing.T, nodes [][]byte) (*Thread, crypto.PublicKey) {
	t.Helper()
	off := crypto.NewOffloader()
	pub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	c := storageclient.New(nil, nil)
	sender := &storageclient.EchoSender{Client: c, Reply: func(msgID string, msg wire.Message) (wire.Message, error) {
		switch msg.(type) {
		case *wire.FetchRequest:
			return &wire.FetchResponse{
				Status: wire.StatusResult,
				Result: wire.FetchResult{Nodes: nodes},
				Seq:    1, EndSeq: 1,
			}, nil
		case *wire.UnsubscribeRequest:
			return &wire.UnsubscribeResponse{Status: wire.StatusResult}, nil
		default:
			return &wire.GenericMessageResponse{Status: wire.StatusResult}, nil
		}
	}}
	*c = *storageclient.New(sender, nil)

	return &Thread{
		Factory: node.NewFactory(off, fixedClock(1000)),
		Client:  c,
		Signer:  pub,
	}, pub
}

func TestControllerRegistersForwardAndReverseAutoFetch(t *testing.T) {
	th, _ := newControllerTestThread(t, nil)
	syncer := &fakeSyncer{}

	ctrl, err := NewController(th, wire.FetchRequest{Query: wire.FetchQuery{ParentID: zero32Bytes()}}, syncer, ControllerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()

	if len(syncer.added) != 2 {
		t.Fatalf("expected forward+reverse AutoFetch registration, got %d", len(syncer.added))
	}
	if syncer.added[0].Reverse || !syncer.added[1].Reverse {
		t.Fatalf("expected forward (Reverse=false) then reverse (Reverse=true), got %+v", syncer.added)
	}
}

func TestControllerDisableAutoSyncSkipsRegistration(t *testing.T) {
	th, _ := newControllerTestThread(t, nil)
	syncer := &fakeSyncer{}

	ctrl, err := NewController(th, wire.FetchRequest{Query: wire.FetchQuery{ParentID: zero32Bytes()}}, syncer, ControllerConfig{DisableAutoSync: true})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()

	if len(syncer.added) != 0 {
		t.Fatalf("DisableAutoSync should skip AutoFetch registration, got %d", len(syncer.added))
	}
}

func TestControllerTracksAddedEntriesInSnapshot(t *testing.T) {
	off := crypto.NewOffloader()
	pub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	factory := node.NewFactory(off, fixedClock(1000))
	n, err := factory.Build(node.KindData, node.Params{Owner: pub, ParentID: zero32Bytes()}, pub, nil)
	if err != nil {
		t.Fatal(err)
	}

	th, _ := newControllerTestThread(t, [][]byte{n.Body()})
	syncer := &fakeSyncer{}

	ctrl, err := NewController(th, wire.FetchRequest{Query: wire.FetchQuery{ParentID: zero32Bytes()}}, syncer, ControllerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()

	snap := ctrl.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() = %d entries, want 1", len(snap))
	}
	if string(snap[0].Node.ID1) != string(n.ID1) {
		t.Fatalf("tracked entry id1 mismatch")
	}
}

func TestControllerCloseUnregistersAndPurges(t *testing.T) {
	off := crypto.NewOffloader()
	pub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	factory := node.NewFactory(off, fixedClock(1000))
	n, err := factory.Build(node.KindData, node.Params{Owner: pub, ParentID: zero32Bytes()}, pub, nil)
	if err != nil {
		t.Fatal(err)
	}

	th, _ := newControllerTestThread(t, [][]byte{n.Body()})
	syncer := &fakeSyncer{}

	ctrl, err := NewController(th, wire.FetchRequest{Query: wire.FetchQuery{ParentID: zero32Bytes()}}, syncer, ControllerConfig{})
	if err != nil {
		t.Fatal(err)
	}

	var closed bool
	ctrl.OnClose(func() { closed = true })

	ctrl.Close()
	ctrl.Close() // idempotent

	if !closed {
		t.Fatalf("OnClose callback should have fired")
	}
	if len(syncer.removed) != 2 {
		t.Fatalf("expected forward+reverse AutoFetch removal, got %d", len(syncer.removed))
	}
	if len(ctrl.Snapshot()) != 0 {
		t.Fatalf("Close should purge every tracked entry")
	}
}

func TestControllerPurgeDropsStaleEntries(t *testing.T) {
	off := crypto.NewOffloader()
	pub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	factory := node.NewFactory(off, fixedClock(1000))
	n, err := factory.Build(node.KindData, node.Params{Owner: pub, ParentID: zero32Bytes()}, pub, nil)
	if err != nil {
		t.Fatal(err)
	}

	th, _ := newControllerTestThread(t, [][]byte{n.Body()})
	ctrl, err := NewController(th, wire.FetchRequest{Query: wire.FetchQuery{ParentID: zero32Bytes()}}, &fakeSyncer{}, ControllerConfig{DisableAutoSync: true})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()

	if len(ctrl.Snapshot()) != 1 {
		t.Fatalf("expected the fetched node to be tracked before purge")
	}

	ctrl.purge(0)

	if len(ctrl.Snapshot()) != 0 {
		t.Fatalf("purge(0) should drop every entry regardless of age")
	}
}

func zero32Bytes() []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = 0xAA
	}
	return b
}
