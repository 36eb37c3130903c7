package peerproxy

import (
	"testing"

	"github.com/odinsync/core/peerclient"
	"github.com/odinsync/core/wire"
)

func TestForwarderRelaysAllowedFetch(t *testing.T) {
	localCh := &fakeChannel{}
	remoteCh := &fakeChannel{}
	local := peerclient.New(localCh, peerclient.PeerInfo{}, peerclient.PeerInfo{}, peerclient.Permissions{}, 0, nil)
	remote := peerclient.New(remoteCh, peerclient.PeerInfo{}, peerclient.PeerInfo{}, peerclient.Permissions{
		Fetch: peerclient.FetchPermissions{},
	}, 0, nil)
	NewForwarder(remote, local, NewMuteLists(), nil)

	req := &wire.FetchRequest{Query: wire.DefaultFetchQuery()}
	remoteCh.receiver("req-1", req)

	if len(localCh.sent) != 1 {
		t.Fatalf("forwarder did not relay the fetch request to local storage")
	}

	if _, ok := localCh.sent[0].(*wire.FetchRequest); !ok {
		t.Fatalf("local send got %T, want *wire.FetchRequest", localCh.sent[0])
	}

	resp := &wire.FetchResponse{Status: wire.StatusResult}
	localCh.receiver(localCh.lastMsgID(), resp)

	if got := remoteCh.last(); got != wire.Message(resp) {
		t.Fatalf("forwarder did not relay the reply back to remote: %v", got)
	}
}

func TestForwarderRejectsDisallowedStore(t *testing.T) {
	localCh := &fakeChannel{}
	remoteCh := &fakeChannel{}
	local := peerclient.New(localCh, peerclient.PeerInfo{}, peerclient.PeerInfo{}, peerclient.Permissions{}, 0, nil)
	remote := peerclient.New(remoteCh, peerclient.PeerInfo{}, peerclient.PeerInfo{}, peerclient.Permissions{
		Store: peerclient.StorePermissions{AllowStore: false},
	}, 0, nil)
	NewForwarder(remote, local, NewMuteLists(), nil)

	remoteCh.receiver("req-1", &wire.StoreRequest{})

	if len(localCh.sent) != 0 {
		t.Fatalf("forwarder should not have relayed a disallowed store request")
	}
	resp, ok := remoteCh.last().(*wire.StoreResponse)
	if !ok || resp.Status != wire.StatusNotAllowed {
		t.Fatalf("forwarder should reply NotAllowed, got %#v", remoteCh.last())
	}
}

func TestForwarderMutedRequestIsIgnored(t *testing.T) {
	localCh := &fakeChannel{}
	remoteCh := &fakeChannel{}
	local := peerclient.New(localCh, peerclient.PeerInfo{}, peerclient.PeerInfo{}, peerclient.Permissions{}, 0, nil)
	remote := peerclient.New(remoteCh, peerclient.PeerInfo{}, peerclient.PeerInfo{}, peerclient.Permissions{
		Store: peerclient.StorePermissions{AllowStore: true},
	}, 0, nil)
	mutes := NewMuteLists()
	mutes.Mute("muted-1")
	NewForwarder(remote, local, mutes, nil)

	remoteCh.receiver("muted-1", &wire.StoreRequest{})

	if len(localCh.sent) != 0 || len(remoteCh.sent) != 0 {
		t.Fatalf("muted request should produce no forwarding and no reply")
	}
}

func TestForwarderClosingRemoteClosesLocal(t *testing.T) {
	localCh := &fakeChannel{}
	remoteCh := &fakeChannel{}
	local := peerclient.New(localCh, peerclient.PeerInfo{}, peerclient.PeerInfo{}, peerclient.Permissions{}, 0, nil)
	remote := peerclient.New(remoteCh, peerclient.PeerInfo{}, peerclient.PeerInfo{}, peerclient.Permissions{}, 0, nil)
	NewForwarder(remote, local, NewMuteLists(), nil)

	remote.Close()
	if !local.Closed() {
		t.Fatalf("closing the remote client should cascade-close local")
	}
}
