package thread

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/odinsync/core/crypto"
	"github.com/odinsync/core/node"
	"github.com/odinsync/core/storageclient"
	"github.com/odinsync/core/wire"
)

func fixedClock(t uint64) node.Clock { return func() uint64 { return t } }

func newTestThread(t *testing.T, reply func(msgID string, msg wire.Message) (wire.Message, error)) (*Thread, crypto.PublicKey) {
	t.Helper()
	off := crypto.NewOffloader()
	pub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	c := storageclient.New(nil, nil)
	sender := &storageclient.EchoSender{Client: c, Reply: reply}
	*c = *storageclient.New(sender, nil)

	return &Thread{
		Factory: node.NewFactory(off, fixedClock(1000)),
		Client:  c,
		Signer:  pub,
	}, pub
}

func TestGetFetchRequestMergePrecedence(t *testing.T) {
	th := &Thread{
		Template: Template{Query: wire.FetchQuery{ParentID: []byte("template"), Limit: 1}},
		Defaults: Defaults{Query: wire.FetchQuery{ParentID: []byte("defaults"), Limit: 2}},
	}
	req, err := th.GetFetchRequest(wire.FetchRequest{Query: wire.FetchQuery{Limit: 10}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(req.Query.ParentID, []byte("defaults")) {
		t.Fatalf("parentId = %q, want thread defaults to win over template", req.Query.ParentID)
	}
	if req.Query.Limit != 10 {
		t.Fatalf("limit = %d, want per-call value to win", req.Query.Limit)
	}
}

func TestGetFetchRequestStreamingPromotion(t *testing.T) {
	th := &Thread{
		Template: Template{Query: wire.FetchQuery{ParentID: bytes.Repeat([]byte{0xAA}, 32)}},
	}
	req, err := th.GetFetchRequest(wire.FetchRequest{}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(req.Query.TriggerNodeID, bytes.Repeat([]byte{0xAA}, 32)) {
		t.Fatalf("triggerNodeId = %x", req.Query.TriggerNodeID)
	}
	if req.Query.TriggerInterval != 60 {
		t.Fatalf("triggerInterval = %d, want 60", req.Query.TriggerInterval)
	}
	if len(req.CRDT.MsgID) != 0 {
		t.Fatal("expected crdt.msgId cleared on streaming promotion")
	}
}

func TestGetFetchRequestStreamingFailsWithNoTrigger(t *testing.T) {
	th := &Thread{}
	if _, err := th.GetFetchRequest(wire.FetchRequest{}, true); err != ErrNeitherTriggerSet {
		t.Fatalf("err = %v, want ErrNeitherTriggerSet", err)
	}
}

func TestGetFetchRequestNonStreamingDemotion(t *testing.T) {
	th := &Thread{Template: Template{Query: wire.FetchQuery{ParentID: []byte("p"), TriggerNodeID: []byte("t"), TriggerInterval: 5, OnlyTrigger: true}}}
	req, err := th.GetFetchRequest(wire.FetchRequest{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(req.Query.TriggerNodeID) != 0 || req.Query.TriggerInterval != 0 || req.Query.OnlyTrigger {
		t.Fatalf("expected demotion, got %+v", req.Query)
	}
}

func TestGetFetchRequestRejectsAmbiguousTarget(t *testing.T) {
	th := &Thread{}
	_, err := th.GetFetchRequest(wire.FetchRequest{Query: wire.FetchQuery{ParentID: []byte("p"), RootNodeID1: []byte("r")}}, false)
	if err != ErrAmbiguousFetchTarget {
		t.Fatalf("err = %v, want ErrAmbiguousFetchTarget", err)
	}
}

func TestPostSignsAndStores(t *testing.T) {
	var stored [][]byte
	th, pub := newTestThread(t, func(msgID string, msg wire.Message) (wire.Message, error) {
		req := msg.(*wire.StoreRequest)
		stored = append(stored, req.Nodes...)
		return &wire.StoreResponse{Status: wire.StatusResult, StoredID1List: [][]byte{[]byte("ok")}}, nil
	})

	n, err := th.Post("note", node.Params{Data: []byte("hello")})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(n.Owner, pub) {
		t.Fatalf("owner = %x", n.Owner)
	}
	if len(stored) != 1 {
		t.Fatalf("expected one stored node, got %d", len(stored))
	}
}

func TestPostEditSetsParentAndAnnotation(t *testing.T) {
	th, _ := newTestThread(t, func(msgID string, msg wire.Message) (wire.Message, error) {
		return &wire.StoreResponse{Status: wire.StatusResult}, nil
	})

	original, err := th.Post("note", node.Params{Data: []byte("v1")})
	if err != nil {
		t.Fatal(err)
	}
	edit, err := th.PostEdit("note", original, node.Params{Data: []byte("v2")})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(edit.ParentID, original.ID1) {
		t.Fatalf("parentId = %x, want %x", edit.ParentID, original.ID1)
	}
	if edit.DataConfig&node.AnnotationEdit == 0 {
		t.Fatal("expected ANNOTATION_EDIT bit set")
	}
}

func TestDeleteEmitsDestroyNodes(t *testing.T) {
	th, pub := newTestThread(t, func(msgID string, msg wire.Message) (wire.Message, error) {
		return &wire.StoreResponse{Status: wire.StatusResult}, nil
	})

	target, err := th.Post("note", node.Params{Data: []byte("x"), Flags: node.Flags{IsLicensed: true}})
	if err != nil {
		t.Fatal(err)
	}

	destroys, err := th.Delete(target)
	if err != nil {
		t.Fatal(err)
	}
	if len(destroys) != 2 {
		t.Fatalf("expected destroy node + destroy-licenses node, got %d", len(destroys))
	}
	want := node.RefID("DESTROY_NODE", pub, target.ID1)
	if !bytes.Equal(destroys[0].Data, want) {
		t.Fatalf("refId = %x, want %x", destroys[0].Data, want)
	}
}

func TestDeleteSkipsIndestructible(t *testing.T) {
	th, _ := newTestThread(t, func(msgID string, msg wire.Message) (wire.Message, error) {
		return &wire.StoreResponse{Status: wire.StatusResult}, nil
	})
	target, err := th.Post("note", node.Params{Data: []byte("x"), Flags: node.Flags{IsIndestructible: true}})
	if err != nil {
		t.Fatal(err)
	}
	destroys, err := th.Delete(target)
	if err != nil {
		t.Fatal(err)
	}
	if len(destroys) != 0 {
		t.Fatalf("expected no destroy nodes for indestructible target, got %d", len(destroys))
	}
}

func TestStreamDispatchesOnDataAndOnChangeAtEndSeq(t *testing.T) {
	off := crypto.NewOffloader()
	pub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	factory := node.NewFactory(off, fixedClock(1))
	n, err := factory.Build(node.KindData, node.Params{Owner: pub, Data: []byte("a")}, pub, nil)
	if err != nil {
		t.Fatal(err)
	}

	c := storageclient.New(nil, nil)
	sender := &storageclient.EchoSender{Client: c, Reply: func(msgID string, msg wire.Message) (wire.Message, error) {
		return &wire.FetchResponse{Status: wire.StatusResult, Result: wire.FetchResult{Nodes: [][]byte{n.Body()}}, Seq: 1, EndSeq: 1}, nil
	}}
	*c = *storageclient.New(sender, nil)

	th := &Thread{Client: c, Template: Template{Query: wire.FetchQuery{ParentID: bytes.Repeat([]byte{1}, 32)}}}

	var dataCalls, changeCalls int
	var addedCount int
	stream, err := th.Stream(wire.FetchRequest{})
	if err != nil {
		t.Fatal(err)
	}
	stream.OnData(func(batch []*node.Node) { dataCalls++ })
	stream.OnChange(func(added, updated, deleted []*node.Node) { changeCalls++; addedCount = len(added) })

	// The fetch already ran synchronously via EchoSender before OnData/OnChange
	// were registered above, so re-issue to exercise the live dispatch path.
	if err := stream.UpdateStream(wire.FetchRequest{}); err != nil {
		t.Fatal(err)
	}

	if dataCalls == 0 {
		t.Fatal("expected onData to fire")
	}
	if changeCalls != 1 {
		t.Fatalf("onChange called %d times, want 1", changeCalls)
	}
	if addedCount != 1 {
		t.Fatalf("added = %d, want 1", addedCount)
	}
}

func TestViewDiffTracksAddedAndUpdated(t *testing.T) {
	body1, _ := json.Marshal(map[string]interface{}{"data": "eA=="})
	_ = body1
	off := crypto.NewOffloader()
	pub, _, _ := off.GenKeyPair()
	factory := node.NewFactory(off, fixedClock(1))

	n1, err := factory.Build(node.KindData, node.Params{Owner: pub, Data: []byte("v1")}, pub, nil)
	if err != nil {
		t.Fatal(err)
	}
	v := NewView()
	added, updated, deleted := v.ApplyBatch([]*node.Node{n1})
	if len(added) != 1 || len(updated) != 0 || len(deleted) != 0 {
		t.Fatalf("first batch: added=%d updated=%d deleted=%d", len(added), len(updated), len(deleted))
	}

	// Re-decode the same body (same id1) to simulate an identical re-fetch:
	// no change.
	same, err := node.Decode(n1.Body())
	if err != nil {
		t.Fatal(err)
	}
	added, updated, deleted = v.ApplyBatch([]*node.Node{same})
	if len(added) != 0 || len(updated) != 0 || len(deleted) != 0 {
		t.Fatalf("second batch should be a no-op: added=%d updated=%d deleted=%d", len(added), len(updated), len(deleted))
	}
}

func TestPostLicenseAgainstNonExpiringTargetDoesNotZeroExpireTime(t *testing.T) {
	var storedExpire uint64
	th, pub := newTestThread(t, func(msgID string, msg wire.Message) (wire.Message, error) {
		req := msg.(*wire.StoreRequest)
		n, err := node.Decode(req.Nodes[0])
		if err != nil {
			t.Fatal(err)
		}
		storedExpire = n.ExpireTime
		return &wire.StoreResponse{Status: wire.StatusResult, StoredID1List: [][]byte{n.ID1}}, nil
	})

	target, err := th.Factory.Build(node.KindData, node.Params{Owner: pub, Data: []byte("x")}, pub, nil)
	if err != nil {
		t.Fatal(err)
	}
	if target.ExpireTime != 0 {
		t.Fatalf("precondition: target should be non-expiring, got ExpireTime=%d", target.ExpireTime)
	}

	out, err := th.PostLicense("grant", target, node.Params{Targets: []crypto.PublicKey{pub}}, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one stored license, got %d", len(out))
	}
	want := uint64(1000) + thirtyDaysSeconds
	if storedExpire != want {
		t.Fatalf("license ExpireTime = %d, want %d (non-expiring target must not clamp it to 0)", storedExpire, want)
	}
}
