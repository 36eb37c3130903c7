package node

import (
	"bytes"
	"testing"

	"github.com/odinsync/core/cert"
	"github.com/odinsync/core/crypto"
)

func fixedClock(t uint64) Clock { return func() uint64 { return t } }

func TestBuildAppliesDefaults(t *testing.T) {
	off := crypto.NewOffloader()
	pub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	f := NewFactory(off, fixedClock(1000))

	n, err := f.Build(KindData, Params{Owner: pub}, pub, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n.CreationTime != 1000 {
		t.Fatalf("creationTime = %d", n.CreationTime)
	}
	if !bytes.Equal(n.ParentID, zero32()) {
		t.Fatalf("parentId = %x", n.ParentID)
	}
	if len(n.ID1) == 0 {
		t.Fatal("expected id1 to be set")
	}
}

func TestBuildLicenseDefaultExpireTime(t *testing.T) {
	off := crypto.NewOffloader()
	pub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	f := NewFactory(off, fixedClock(500))

	n, err := f.Build(KindLicense, Params{Owner: pub}, pub, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n.ExpireTime != 500+3600 {
		t.Fatalf("expireTime = %d", n.ExpireTime)
	}
}

func TestBuildOwnerDefaultsToSigner(t *testing.T) {
	off := crypto.NewOffloader()
	pub, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	f := NewFactory(off, fixedClock(1))

	n, err := f.Build(KindData, Params{}, pub, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(n.Owner, pub) {
		t.Fatalf("owner = %x, want %x", n.Owner, pub)
	}
}

func TestBuildFailsWithoutMatchingSignCert(t *testing.T) {
	off := crypto.NewOffloader()
	owner, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	signer, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	f := NewFactory(off, fixedClock(1))

	_, err = f.Build(KindData, Params{Owner: owner}, signer, nil)
	if err != ErrNoMatchingSignCert {
		t.Fatalf("err = %v, want ErrNoMatchingSignCert", err)
	}
}

func TestBuildSucceedsWithMatchingSignCert(t *testing.T) {
	off := crypto.NewOffloader()
	owner, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	signer, _, err := off.GenKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	f := NewFactory(off, fixedClock(1))

	sc := &cert.Cert{Family: cert.FamilyDataSign, Props: cert.Props{TargetPublicKeys: []crypto.PublicKey{signer}}}
	n, err := f.Build(KindData, Params{Owner: owner}, signer, []*cert.Cert{sc})
	if err != nil {
		t.Fatal(err)
	}
	if len(n.SignCert) == 0 {
		t.Fatal("expected signCert to be attached to the node")
	}
}

func TestRefIDDeterministic(t *testing.T) {
	pub := crypto.PublicKey("pub")
	id1 := []byte("id1")
	a := RefID("DESTROY_NODE", pub, id1)
	b := RefID("DESTROY_NODE", pub, id1)
	if !bytes.Equal(a, b) {
		t.Fatal("expected deterministic refId")
	}
	c := RefID("DESTROY_LICENSES_FOR_NODE", pub, id1)
	if bytes.Equal(a, c) {
		t.Fatal("expected different tags to produce different refIds")
	}
}
