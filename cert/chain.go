package cert

import (
	"bytes"
	"fmt"

	"github.com/odinsync/core/crypto"
)

// Chain decodes and verifies cert stacks (auth, chain, friend, node-sign).
// It is the sole entry point spec.md §4.4 describes as "CertChain".
type Chain struct {
	Offloader crypto.SignatureOffloader
}

// NewChain returns a Chain using off for signature verification.
func NewChain(off crypto.SignatureOffloader) *Chain {
	return &Chain{Offloader: off}
}

// Decode classifies image by its family tag, loads it, and recursively
// decodes any embedded cert image as a chain cert. Decode failure of an
// embedded cert is non-fatal: the parent keeps the raw embedded image
// and Chain stays nil (spec.md §4.4, §3 "Invariant").
func (c *Chain) Decode(image []byte) (*Cert, error) {
	top, err := Load(image)
	if err != nil {
		return nil, err
	}
	return c.decodeEmbedded(top), nil
}

func (c *Chain) decodeEmbedded(parent *Cert) *Cert {
	if len(parent.Props.EmbeddedCertImage) == 0 {
		return parent
	}
	child, err := Load(parent.Props.EmbeddedCertImage)
	if err != nil {
		// Swallowed: parent keeps the raw image, node can still self-validate.
		return parent
	}
	parent.Chain = c.decodeEmbedded(child)
	return parent
}

// Verify checks the signature of every cert in the chain, recursing
// through Chain links, offloading each check to c.Offloader.
func (c *Chain) Verify(top *Cert) (bool, error) {
	cur := top
	for cur != nil {
		if len(cur.Signature) == 0 {
			return false, fmt.Errorf("cert: missing signature")
		}
		if !c.Offloader.Verify(cur.Props.Owner, cur.rawBody, cur.Signature) {
			return false, nil
		}
		cur = cur.Chain
	}
	return true, nil
}

// Targets contains the values validate() checks declared lock constraints
// against.
type Targets struct {
	Region       string
	Jurisdiction string
	LicenseConfig string
}

// Validate checks every declared lock constraint in c.Props.Constraints
// against target, e.g. "isLockedOnLicenseConfig" enforces equality with
// target.LicenseConfig.
func (c *Cert) Validate(target Targets) (bool, string) {
	for name, want := range c.Props.Constraints {
		switch name {
		case "isLockedOnRegion":
			if want.(string) != target.Region {
				return false, "region mismatch"
			}
		case "isLockedOnJurisdiction":
			if want.(string) != target.Jurisdiction {
				return false, "jurisdiction mismatch"
			}
		case "isLockedOnLicenseConfig":
			if want.(string) != target.LicenseConfig {
				return false, "license config mismatch"
			}
		}
	}
	return true, ""
}

// HasTarget reports whether pub is among c's bound target public keys.
func (c *Cert) HasTarget(pub crypto.PublicKey) bool {
	for _, t := range c.Props.TargetPublicKeys {
		if bytes.Equal(t, pub) {
			return true
		}
	}
	return false
}

// AcceptsNodeType reports whether c may sign a node of the given type.
func (c *Cert) AcceptsNodeType(nodeType []byte) bool {
	if len(c.Props.AcceptedNodeTypes) == 0 {
		return true
	}
	for _, t := range c.Props.AcceptedNodeTypes {
		if bytes.Equal(t, nodeType) {
			return true
		}
	}
	return false
}

// NodeParams is the minimal structural view of a node matchNodeCert
// validates a candidate sign-cert against (depth-2: structural + target
// match only, no signature check — spec.md §4.4).
type NodeParams struct {
	NodeType      []byte
	Region        string
	Jurisdiction  string
	LicenseConfig string
}

// MatchNodeCert scans candidates and accepts the first cert whose target
// keys include signerPublicKey, whose type is accepted by the node, and
// which validates against params.
func MatchNodeCert(params NodeParams, signerPublicKey crypto.PublicKey, candidates []*Cert) (*Cert, error) {
	for _, cand := range candidates {
		if !cand.HasTarget(signerPublicKey) {
			continue
		}
		if !cand.AcceptsNodeType(params.NodeType) {
			continue
		}
		ok, _ := cand.Validate(Targets{Region: params.Region, Jurisdiction: params.Jurisdiction, LicenseConfig: params.LicenseConfig})
		if !ok {
			continue
		}
		return cand, nil
	}
	return nil, fmt.Errorf("cert: no matching sign cert")
}
