package thread

import (
	"testing"

	"github.com/odinsync/core/node"
	"github.com/odinsync/core/tmpl"
	"github.com/odinsync/core/wire"
)

func TestSubstituteParamsResolvesTokensAndDefaults(t *testing.T) {
	preset := node.Params{Info: "${kind:string:note}", DataConfig: 0, Data: []byte("fixed")}
	got, err := substituteParams(preset, tmpl.Variables{"kind": "announcement"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Info != "announcement" {
		t.Fatalf("Info = %q, want substituted value", got.Info)
	}
	if string(got.Data) != "fixed" {
		t.Fatalf("non-templated field should round-trip unchanged, got %q", got.Data)
	}
}

func TestSubstituteParamsFallsBackToDefault(t *testing.T) {
	preset := node.Params{Info: "${kind:string:note}"}
	got, err := substituteParams(preset, tmpl.Variables{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Info != "note" {
		t.Fatalf("Info = %q, want default value", got.Info)
	}
}

func TestPostWithVarsSubstitutesBeforeStoring(t *testing.T) {
	var storedInfo string
	th, pub := newTestThread(t, func(msgID string, msg wire.Message) (wire.Message, error) {
		req := msg.(*wire.StoreRequest)
		n, err := node.Decode(req.Nodes[0])
		if err != nil {
			t.Fatal(err)
		}
		storedInfo = n.Info
		return &wire.StoreResponse{Status: wire.StatusResult, StoredID1List: [][]byte{n.ID1}}, nil
	})
	th.Template.Post = map[string]node.Params{
		"note": {Owner: pub, Info: "${title:string:untitled}"},
	}

	if _, err := th.PostWithVars("note", tmpl.Variables{"title": "hello"}); err != nil {
		t.Fatal(err)
	}
	if storedInfo != "hello" {
		t.Fatalf("stored node Info = %q, want substituted title", storedInfo)
	}
}
