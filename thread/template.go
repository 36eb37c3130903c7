package thread

import (
	"github.com/odinsync/core/crypto"
	"github.com/odinsync/core/node"
	"github.com/odinsync/core/wire"
)

// Template is a ThreadTemplate (spec.md §3): the query/CRDT shape a
// Thread streams, plus named post/postLicense parameter presets. String
// fields inside these structs may carry `${name:type:default}` tokens,
// substituted per-thread by tmpl.Substitute before a Thread is opened.
type Template struct {
	Query       wire.FetchQuery
	CRDT        wire.FetchCRDT
	Post        map[string]node.Params
	PostLicense map[string]node.Params
	// Targets is the template-level default license target list,
	// consulted by postLicense when neither params nor Defaults sets one.
	Targets []crypto.PublicKey
}

// Defaults is the thread-level override layer, sitting between Template
// and the per-call parameters passed to each Thread method.
type Defaults struct {
	Query   wire.FetchQuery
	CRDT    wire.FetchCRDT
	Data    node.Params
	License node.Params
	Targets []crypto.PublicKey
}
