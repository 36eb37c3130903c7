// Package node implements NodeFactory (spec.md §4.5): construction,
// default-stamping, sign-cert selection, and signing of Data/License/
// Carrier nodes.
package node

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/odinsync/core/cert"
	"github.com/odinsync/core/crypto"
)

// ErrNoMatchingSignCert is returned when owner != signer and no attached
// signCert accepts the node's parameters.
var ErrNoMatchingSignCert = errors.New("node: no matching sign cert")

// Flags packs the four boolean node flags from spec.md §3.
type Flags struct {
	IsLicensed      bool
	IsIndestructible bool
	IsSpecial       bool
	IsPublic        bool
}

// Kind distinguishes the three node shapes NodeFactory constructs.
type Kind uint8

const (
	KindData Kind = iota
	KindLicense
	KindCarrier
)

// Annotation bits ORed into DataConfig by Thread's postEdit/postReaction.
const (
	AnnotationEdit     uint32 = 1 << 0
	AnnotationReaction uint32 = 1 << 1
)

// Params is the common parameter struct passed to NodeFactory, mirroring
// DataParams/LicenseParams/CarrierParams (spec.md §4.5, §4.7).
type Params struct {
	ParentID          []byte
	Owner             crypto.PublicKey
	EmbeddedImage     []byte
	SignCert          []byte
	CreationTime      uint64
	ExpireTime        uint64
	Flags             Flags
	LicenseMinDistance int32
	LicenseMaxDistance int32
	Data              []byte
	DataConfig        uint32

	// Targets and ValidSeconds are consulted only for LicenseNode
	// construction (postLicense).
	Targets      []crypto.PublicKey
	ValidSeconds uint64

	// Info is a free-form tag used by CarrierNode construction (e.g.
	// "AuthCert") and by DataNode annotations.
	Info string
}

// Node is the constructed, content-addressed unit spec.md §3 describes.
// ID1 is filled once Factory.Build has signed it.
type Node struct {
	Kind Kind
	ID1  []byte
	Params

	Signature crypto.Signature
	body      []byte
}

// Clock abstracts time so factories and tests can inject a fixed now().
type Clock func() uint64

// Factory constructs and signs nodes per spec.md §4.5.
type Factory struct {
	Now    Clock
	Offloader crypto.SignatureOffloader
}

// NewFactory returns a Factory using off for signing and now for the
// current time (seconds since epoch).
func NewFactory(off crypto.SignatureOffloader, now Clock) *Factory {
	return &Factory{Now: now, Offloader: off}
}

func zero32() []byte { return make([]byte, 32) }

// applyDefaults fills creationTime, parentId, license expireTime, and
// owner in the order spec.md §4.5 lists.
func (f *Factory) applyDefaults(kind Kind, p *Params, signerPublicKey crypto.PublicKey) {
	if p.CreationTime == 0 {
		p.CreationTime = f.Now()
	}
	if len(p.ParentID) == 0 {
		p.ParentID = zero32()
	}
	if kind == KindLicense && p.ExpireTime == 0 {
		p.ExpireTime = p.CreationTime + 3600
	}
	if len(p.Owner) == 0 && len(signerPublicKey) != 0 {
		p.Owner = signerPublicKey
	}
}

// body is the packed payload that gets hashed (id1) and signed.
func (p Params) packBody(kind Kind) ([]byte, error) {
	j, err := json.Marshal(struct {
		Kind               Kind             `json:"kind"`
		ParentID           []byte           `json:"parentId"`
		Owner              crypto.PublicKey `json:"owner"`
		EmbeddedImage      []byte           `json:"embeddedImage,omitempty"`
		CreationTime       uint64           `json:"creationTime"`
		ExpireTime         uint64           `json:"expireTime,omitempty"`
		Flags              Flags            `json:"flags"`
		LicenseMinDistance int32            `json:"licenseMinDistance,omitempty"`
		LicenseMaxDistance int32            `json:"licenseMaxDistance,omitempty"`
		Data               []byte           `json:"data,omitempty"`
		DataConfig         uint32           `json:"dataConfig,omitempty"`
		Info               string           `json:"info,omitempty"`
	}{
		Kind: kind, ParentID: p.ParentID, Owner: p.Owner, EmbeddedImage: p.EmbeddedImage,
		CreationTime: p.CreationTime, ExpireTime: p.ExpireTime, Flags: p.Flags,
		LicenseMinDistance: p.LicenseMinDistance, LicenseMaxDistance: p.LicenseMaxDistance,
		Data: p.Data, DataConfig: p.DataConfig, Info: p.Info,
	})
	if err != nil {
		return nil, fmt.Errorf("node: pack body: %w", err)
	}
	return j, nil
}

// selectSignCert implements "if owner differs from signer, search
// signCerts for one that matchSignCert accepts".
func selectSignCert(p Params, signerPublicKey crypto.PublicKey, signCerts []*cert.Cert) (*cert.Cert, error) {
	if string(p.Owner) == string(signerPublicKey) {
		return nil, nil
	}
	nodeType := []byte(p.Info)
	picked, err := cert.MatchNodeCert(cert.NodeParams{NodeType: nodeType}, signerPublicKey, signCerts)
	if err != nil {
		return nil, ErrNoMatchingSignCert
	}
	return picked, nil
}

// Build constructs a node of kind, stamps defaults, selects a sign-cert
// if owner != signer, and signs it via signerPublicKey. signCerts is the
// candidate pool consulted only when a sign-cert is actually needed.
func (f *Factory) Build(kind Kind, p Params, signerPublicKey crypto.PublicKey, signCerts []*cert.Cert) (*Node, error) {
	f.applyDefaults(kind, &p, signerPublicKey)

	signCert, err := selectSignCert(p, signerPublicKey, signCerts)
	if err != nil {
		return nil, err
	}
	if signCert != nil {
		body, err := cert.Pack(signCert.Family, signCert.Props, signCert.Signature)
		if err != nil {
			return nil, err
		}
		p.SignCert = body
	}

	body, err := p.packBody(kind)
	if err != nil {
		return nil, err
	}
	sig, err := f.Offloader.Sign(signerPublicKey, body)
	if err != nil {
		return nil, fmt.Errorf("node: sign: %w", err)
	}

	return &Node{
		Kind:      kind,
		ID1:       crypto.Hash(body),
		Params:    p,
		Signature: sig,
		body:      body,
	}, nil
}

// RefID computes the destroy-node refId = H(tag || publicKey || id1)
// used by thread.Delete (spec.md §4.7).
func RefID(tag string, publicKey crypto.PublicKey, id1 []byte) []byte {
	return crypto.Hash([]byte(tag), publicKey, id1)
}

// Body returns the packed payload that was hashed into ID1 and signed.
// Callers that relay a node across the wire (Thread, storageclient) pass
// this around as the opaque body; the node/cert binary model proper is
// out of scope for this core (spec.md §1).
func (n *Node) Body() []byte { return n.body }

// Decode reverses packBody: given a node's raw body bytes (as carried in
// a FetchResponse's node list), it reconstructs the Node and recomputes
// ID1 as the hash of that body, mirroring how Build derives it at
// construction time. The node's own kind travels with the body.
func Decode(body []byte) (*Node, error) {
	var j struct {
		Kind               Kind             `json:"kind"`
		ParentID           []byte           `json:"parentId"`
		Owner              crypto.PublicKey `json:"owner"`
		EmbeddedImage      []byte           `json:"embeddedImage,omitempty"`
		CreationTime       uint64           `json:"creationTime"`
		ExpireTime         uint64           `json:"expireTime,omitempty"`
		Flags              Flags            `json:"flags"`
		LicenseMinDistance int32            `json:"licenseMinDistance,omitempty"`
		LicenseMaxDistance int32            `json:"licenseMaxDistance,omitempty"`
		Data               []byte           `json:"data,omitempty"`
		DataConfig         uint32           `json:"dataConfig,omitempty"`
		Info               string           `json:"info,omitempty"`
	}
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("node: decode: %w", err)
	}
	return &Node{
		Kind: j.Kind,
		ID1:  crypto.Hash(body),
		Params: Params{
			ParentID: j.ParentID, Owner: j.Owner, EmbeddedImage: j.EmbeddedImage,
			CreationTime: j.CreationTime, ExpireTime: j.ExpireTime, Flags: j.Flags,
			LicenseMinDistance: j.LicenseMinDistance, LicenseMaxDistance: j.LicenseMaxDistance,
			Data: j.Data, DataConfig: j.DataConfig, Info: j.Info,
		},
		body: body,
	}, nil
}
