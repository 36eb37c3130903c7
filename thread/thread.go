// Package thread implements Thread and ThreadController (spec.md §4.7,
// §4.8): deriving FetchRequests from templates, posting/editing/
// reacting/licensing/deleting nodes through a Thread, and streaming CRDT
// view updates.
package thread

import (
	"errors"
	"fmt"

	"github.com/odinsync/core/cert"
	"github.com/odinsync/core/crypto"
	"github.com/odinsync/core/node"
	"github.com/odinsync/core/storageclient"
	"github.com/odinsync/core/wire"
)

// ErrNeitherTriggerSet is returned by GetFetchRequest when streaming
// promotion leaves both parentId and triggerNodeId empty.
var ErrNeitherTriggerSet = errors.New("thread: streaming fetch has neither parentId nor triggerNodeId")

// ErrAmbiguousFetchTarget is the FetchRequest invariant from spec.md §3:
// parentId xor rootNodeId1 must be set unless streaming with a trigger.
var ErrAmbiguousFetchTarget = errors.New("thread: exactly one of parentId or rootNodeId1 must be set")

// Thread translates a Template + thread-level Defaults + per-call
// parameters into concrete FetchRequests and node operations.
type Thread struct {
	Template  Template
	Defaults  Defaults
	Factory   *node.Factory
	Client    *storageclient.Client
	SignCerts []*cert.Cert
	Signer    crypto.PublicKey
}

// GetFetchRequest merges template, thread defaults, and perCall (highest
// precedence wins per non-zero field) and applies streaming promotion or
// non-streaming demotion.
func (t *Thread) GetFetchRequest(perCall wire.FetchRequest, stream bool) (wire.FetchRequest, error) {
	query := merge3(t.Template.Query, t.Defaults.Query, perCall.Query)
	crdt := merge3(t.Template.CRDT, t.Defaults.CRDT, perCall.CRDT)

	if stream {
		if len(query.TriggerNodeID) == 0 && query.TriggerInterval == 0 {
			query.TriggerNodeID = query.ParentID
		}
		if query.TriggerInterval == 0 {
			query.TriggerInterval = 60
		}
		crdt.MsgID = nil
		if len(query.TriggerNodeID) == 0 {
			return wire.FetchRequest{}, ErrNeitherTriggerSet
		}
	} else {
		query.TriggerNodeID = nil
		query.TriggerInterval = 0
		query.OnlyTrigger = false
	}

	hasParent := len(query.ParentID) != 0
	hasRoot := len(query.RootNodeID1) != 0
	if hasParent == hasRoot && !(stream && len(query.TriggerNodeID) != 0) {
		return wire.FetchRequest{}, ErrAmbiguousFetchTarget
	}

	return wire.FetchRequest{Query: query, CRDT: crdt}, nil
}

// storeAndWait issues a StoreRequest for n's body and blocks for the
// first reply, error, or cancellation.
func (t *Thread) storeAndWait(n *node.Node) (*wire.StoreResponse, error) {
	g, err := t.Client.Store(&wire.StoreRequest{Nodes: [][]byte{n.Body()}})
	if err != nil {
		return nil, err
	}
	ev := g.OnceAny()
	switch ev.Kind {
	case storageclient.EventReply:
		resp, ok := ev.Response.(*wire.StoreResponse)
		if !ok {
			return nil, fmt.Errorf("thread: unexpected reply type %T", ev.Response)
		}
		return resp, nil
	case storageclient.EventError:
		return nil, ev.Err
	default:
		return nil, fmt.Errorf("thread: store cancelled")
	}
}

func stored(resp *wire.StoreResponse) bool {
	return resp != nil && resp.Status == wire.StatusResult
}

// Post builds a Data node from template.Post[name] + thread defaults +
// params, signs, and stores it.
func (t *Thread) Post(name string, params node.Params) (*node.Node, error) {
	merged := merge3(t.Template.Post[name], t.Defaults.Data, params)
	n, err := t.Factory.Build(node.KindData, merged, t.Signer, t.SignCerts)
	if err != nil {
		return nil, err
	}
	if _, err := t.storeAndWait(n); err != nil {
		return nil, err
	}
	return n, nil
}

// PostEdit rebases params onto nodeToEdit's id/expiry and ORs in the
// ANNOTATION_EDIT bit before posting.
func (t *Thread) PostEdit(name string, nodeToEdit *node.Node, params node.Params) (*node.Node, error) {
	params.ParentID = nodeToEdit.ID1
	params.ExpireTime = nodeToEdit.ExpireTime
	params.DataConfig |= node.AnnotationEdit
	return t.Post(name, params)
}

// PostReaction mirrors PostEdit with ANNOTATION_REACTION.
func (t *Thread) PostReaction(name string, target *node.Node, params node.Params) (*node.Node, error) {
	params.ParentID = target.ID1
	params.ExpireTime = target.ExpireTime
	params.DataConfig |= node.AnnotationReaction
	return t.Post(name, params)
}

const thirtyDaysSeconds = 30 * 24 * 3600

func minU64(vals ...uint64) uint64 {
	min := vals[0]
	for _, v := range vals[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

// PostLicense iterates the first defined target list among
// params/defaults/template, signs and stores a license node per target,
// and returns only the ones that stored successfully.
func (t *Thread) PostLicense(name string, target *node.Node, params node.Params, now uint64) ([]*node.Node, error) {
	merged := merge3(t.Template.PostLicense[name], t.Defaults.License, params)

	targets := params.Targets
	if len(targets) == 0 {
		targets = t.Defaults.Targets
	}
	if len(targets) == 0 {
		targets = t.Template.Targets
	}

	bounds := []uint64{now + thirtyDaysSeconds}
	if target.ExpireTime != 0 {
		bounds = append(bounds, target.ExpireTime)
	}
	if merged.ExpireTime != 0 {
		bounds = append(bounds, merged.ExpireTime)
	}
	if merged.ValidSeconds != 0 {
		bounds = append(bounds, now+merged.ValidSeconds)
	}
	expireTime := minU64(bounds...)

	var out []*node.Node
	for _, recipient := range targets {
		p := merged
		p.Owner = recipient
		p.ParentID = target.ID1
		p.ExpireTime = expireTime
		p.Flags.IsLicensed = true

		n, err := t.Factory.Build(node.KindLicense, p, t.Signer, t.SignCerts)
		if err != nil {
			continue
		}
		resp, err := t.storeAndWait(n)
		if err != nil || !stored(resp) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Delete emits up to two destroy nodes for target: one destroying it (if
// destructible), one destroying its licenses (if licensed with
// licenseMinDistance == 0). Returns only the ones that stored
// successfully.
func (t *Thread) Delete(target *node.Node) ([]*node.Node, error) {
	var out []*node.Node

	if !target.Flags.IsIndestructible {
		n, err := t.buildDestroy(node.RefID("DESTROY_NODE", t.Signer, target.ID1), "DESTROY_NODE")
		if err == nil {
			if resp, err := t.storeAndWait(n); err == nil && stored(resp) {
				out = append(out, n)
			}
		}
	}

	if target.Flags.IsLicensed && target.LicenseMinDistance == 0 {
		n, err := t.buildDestroy(node.RefID("DESTROY_LICENSES_FOR_NODE", t.Signer, target.ID1), "DESTROY_LICENSES_FOR_NODE")
		if err == nil {
			if resp, err := t.storeAndWait(n); err == nil && stored(resp) {
				out = append(out, n)
			}
		}
	}

	return out, nil
}

func (t *Thread) buildDestroy(refID []byte, tag string) (*node.Node, error) {
	return t.Factory.Build(node.KindData, node.Params{
		Owner: t.Signer,
		Data:  refID,
		Info:  tag,
		Flags: node.Flags{IsSpecial: true},
	}, t.Signer, t.SignCerts)
}
