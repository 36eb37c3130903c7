// Package cert implements the recursive certificate-chain decode/verify
// logic of spec.md §4.4. The binary serialization of a certificate's own
// body is explicitly out of scope (spec.md §1: "Node/cert binary model
// ... the core assumes an opaque pack()/load() contract") — Props here
// stands in for that opaque payload, and Pack/Load are the minimal
// concrete implementation of that contract this module needs to run.
package cert

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/odinsync/core/crypto"
)

// Family is the 2-byte primary interface identifier at offset 0 of every
// cert image, used to classify it before decoding the rest.
type Family uint16

const (
	FamilyUnknown Family = iota
	FamilyAuth
	FamilyChain
	FamilyFriend
	FamilyDataSign
	FamilyLicenseSign
)

// Props is the opaque decoded payload of a cert: target keys it binds,
// declared lock constraints, and an optional embedded cert image.
type Props struct {
	Owner             crypto.PublicKey   `json:"owner"`
	TargetPublicKeys  []crypto.PublicKey `json:"targetPublicKeys"`
	AcceptedNodeTypes [][]byte           `json:"acceptedNodeTypes,omitempty"`
	Constraints       map[string]interface{} `json:"constraints,omitempty"`
	Region            string             `json:"region,omitempty"`
	Jurisdiction      string             `json:"jurisdiction,omitempty"`
	EmbeddedCertImage []byte             `json:"embeddedCertImage,omitempty"`
}

// Cert is one certificate in a chain: its own family/props, plus the
// parent chain cert it was decoded with (nil if none).
type Cert struct {
	Family    Family
	Props     Props
	Signature crypto.Signature
	Chain     *Cert
	rawBody   []byte // body used as the signed payload
}

// Pack serializes family + props + sig into an opaque image: 2-byte
// family, 4-byte signature length, signature bytes, then the props JSON
// that was the signed payload. sig may be nil for an unsigned image.
func Pack(family Family, props Props, sig crypto.Signature) ([]byte, error) {
	body, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("cert: pack props: %w", err)
	}
	out := make([]byte, 2+4+len(sig)+len(body))
	binary.BigEndian.PutUint16(out[0:2], uint16(family))
	binary.BigEndian.PutUint32(out[2:6], uint32(len(sig)))
	copy(out[6:6+len(sig)], sig)
	copy(out[6+len(sig):], body)
	return out, nil
}

// Load decodes an opaque cert image back into family + props + signature,
// without verifying the signature (callers call Verify separately).
func Load(image []byte) (*Cert, error) {
	if len(image) < 6 {
		return nil, fmt.Errorf("cert: image too short")
	}
	family := Family(binary.BigEndian.Uint16(image[0:2]))
	sigLen := binary.BigEndian.Uint32(image[2:6])
	if uint64(len(image)) < 6+uint64(sigLen) {
		return nil, fmt.Errorf("cert: image truncated")
	}
	var sig crypto.Signature
	if sigLen > 0 {
		sig = append(crypto.Signature(nil), image[6:6+sigLen]...)
	}
	rest := image[6+sigLen:]
	var props Props
	if err := json.Unmarshal(rest, &props); err != nil {
		return nil, fmt.Errorf("cert: load props: %w", err)
	}
	return &Cert{Family: family, Props: props, Signature: sig, rawBody: rest}, nil
}

// Sign packs c and signs it under signer's private key via off, storing
// the body used for later verification. Callers that need a transmittable
// image call Pack(c.Family, c.Props, c.Signature) afterward.
func Sign(c *Cert, off crypto.SignatureOffloader, signer crypto.PublicKey) error {
	body, err := json.Marshal(c.Props)
	if err != nil {
		return err
	}
	sig, err := off.Sign(signer, body)
	if err != nil {
		return fmt.Errorf("cert: sign: %w", err)
	}
	c.Signature = sig
	c.rawBody = body
	return nil
}

// SignedImage signs c under signer via off and returns its packed,
// transmittable image in one step.
func SignedImage(c *Cert, off crypto.SignatureOffloader, signer crypto.PublicKey) ([]byte, error) {
	if err := Sign(c, off, signer); err != nil {
		return nil, err
	}
	return Pack(c.Family, c.Props, c.Signature)
}
