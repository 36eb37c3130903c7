package thread

import (
	"bytes"
	"encoding/hex"

	"github.com/odinsync/core/node"
)

// destroy tags mirrored from node.RefID's callers (spec.md §4.7 delete()).
const (
	tagDestroyNode           = "DESTROY_NODE"
	tagDestroyLicensesForNode = "DESTROY_LICENSES_FOR_NODE"
)

// View is the long-lived, id1-keyed snapshot a ThreadController streams
// CRDT updates into. It only tracks add/update/remove of nodes it has
// actually seen; merge-algorithm semantics for the transported CRDT
// delta itself are explicitly out of scope (spec.md Non-goals) — View
// only reacts to the node list each fetch batch resolves to.
type View struct {
	nodes map[string]*node.Node
}

// NewView returns an empty View.
func NewView() *View { return &View{nodes: make(map[string]*node.Node)} }

// ApplyBatch folds one completed fetch batch (already decoded) into the
// view and returns the (added, updated, deleted) partition spec.md
// §4.7's onChange dispatches. A node whose Info names a destroy tag
// removes any tracked node whose id1 its Data field's refId was computed
// against, instead of being added itself; other special nodes are
// skipped.
func (v *View) ApplyBatch(batch []*node.Node) (added, updated, deleted []*node.Node) {
	for _, n := range batch {
		if n.Info == tagDestroyNode || n.Info == tagDestroyLicensesForNode {
			if removed := v.resolveDestroy(n); removed != nil {
				deleted = append(deleted, removed)
			}
			continue
		}
		if n.Flags.IsSpecial {
			continue
		}

		key := hex.EncodeToString(n.ID1)
		prev, existed := v.nodes[key]
		v.nodes[key] = n
		switch {
		case !existed:
			added = append(added, n)
		case !bytes.Equal(prev.Body(), n.Body()):
			updated = append(updated, n)
		}
	}
	return added, updated, deleted
}

// resolveDestroy scans tracked nodes for one whose refId (under the
// destroy node's owner) matches the destroy node's Data field, removing
// and returning it.
func (v *View) resolveDestroy(destroyNode *node.Node) *node.Node {
	for key, n := range v.nodes {
		ref := node.RefID(destroyNode.Info, destroyNode.Owner, n.ID1)
		if bytes.Equal(ref, destroyNode.Data) {
			delete(v.nodes, key)
			return n
		}
	}
	return nil
}

// Remove evicts id1 from the view directly. Reports whether anything was
// removed.
func (v *View) Remove(id1 []byte) (*node.Node, bool) {
	key := hex.EncodeToString(id1)
	n, ok := v.nodes[key]
	if ok {
		delete(v.nodes, key)
	}
	return n, ok
}

// Len reports the number of nodes currently tracked.
func (v *View) Len() int { return len(v.nodes) }

// Snapshot returns every currently tracked node, in no particular order.
func (v *View) Snapshot() []*node.Node {
	out := make([]*node.Node, 0, len(v.nodes))
	for _, n := range v.nodes {
		out = append(out, n)
	}
	return out
}
