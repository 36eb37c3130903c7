package peerproxy

import (
	"testing"

	"github.com/odinsync/core/cert"
	"github.com/odinsync/core/crypto"
	"github.com/odinsync/core/node"
	"github.com/odinsync/core/peerclient"
	"github.com/odinsync/core/wire"
)

func fixedClock(t uint64) node.Clock { return func() uint64 { return t } }

func TestExtenderResignsLicenseNodesWhenEmbedAllowed(t *testing.T) {
	off := crypto.NewOffloader()
	owner, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	factory := node.NewFactory(off, fixedClock(1000))

	license, err := factory.Build(node.KindLicense, node.Params{Owner: owner}, owner, nil)
	if err != nil {
		t.Fatal(err)
	}

	localCh := &fakeChannel{}
	remoteCh := &fakeChannel{}
	local := peerclient.New(localCh, peerclient.PeerInfo{}, peerclient.PeerInfo{}, peerclient.Permissions{}, 0, nil)
	remote := peerclient.New(remoteCh, peerclient.PeerInfo{}, peerclient.PeerInfo{}, peerclient.Permissions{
		Fetch: peerclient.FetchPermissions{AllowEmbed: true},
	}, 0, nil)

	extender := NewExtender(remote, local, NewMuteLists(), factory, owner, nil)
	extender.SetSignCerts([]*cert.Cert{{
		Family: cert.FamilyLicenseSign,
		Props:  cert.Props{Owner: owner, TargetPublicKeys: []crypto.PublicKey{owner}},
	}})

	req := &wire.FetchRequest{Query: wire.DefaultFetchQuery()}
	remoteCh.receiver("req-1", req)

	resp := &wire.FetchResponse{Status: wire.StatusResult, Result: wire.FetchResult{Nodes: [][]byte{license.Body()}}}
	localCh.receiver(localCh.lastMsgID(), resp)

	got, ok := remoteCh.last().(*wire.FetchResponse)
	if !ok {
		t.Fatalf("remote did not receive a *wire.FetchResponse: %#v", remoteCh.last())
	}
	if len(got.Result.Nodes) != 1 {
		t.Fatalf("expected 1 node in response, got %d", len(got.Result.Nodes))
	}

	decoded, err := node.Decode(got.Result.Nodes[0])
	if err != nil {
		t.Fatalf("decode resigned node: %v", err)
	}
	if string(decoded.Owner) != string(owner) {
		t.Fatalf("resigned node owner mismatch")
	}
}

func TestExtenderPassesThroughWithoutEmbedPermission(t *testing.T) {
	off := crypto.NewOffloader()
	owner, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	factory := node.NewFactory(off, fixedClock(1000))

	localCh := &fakeChannel{}
	remoteCh := &fakeChannel{}
	local := peerclient.New(localCh, peerclient.PeerInfo{}, peerclient.PeerInfo{}, peerclient.Permissions{}, 0, nil)
	remote := peerclient.New(remoteCh, peerclient.PeerInfo{}, peerclient.PeerInfo{}, peerclient.Permissions{
		Fetch: peerclient.FetchPermissions{},
	}, 0, nil)
	NewExtender(remote, local, NewMuteLists(), factory, owner, nil)

	req := &wire.FetchRequest{Query: wire.DefaultFetchQuery()}
	remoteCh.receiver("req-1", req)

	resp := &wire.FetchResponse{Status: wire.StatusResult, Result: wire.FetchResult{Nodes: [][]byte{[]byte("raw-body")}}}
	localCh.receiver(localCh.lastMsgID(), resp)

	got, ok := remoteCh.last().(*wire.FetchResponse)
	if !ok {
		t.Fatalf("remote did not receive a *wire.FetchResponse")
	}
	if string(got.Result.Nodes[0]) != "raw-body" {
		t.Fatalf("node body should pass through unchanged without embed permission")
	}
}
