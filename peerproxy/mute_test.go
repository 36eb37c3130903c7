package peerproxy

import "testing"

func TestMuteListsMuteAndIsMuted(t *testing.T) {
	m := NewMuteLists()
	if m.IsMuted("a") {
		t.Fatalf("fresh MuteLists should not report a as muted")
	}
	m.Mute("a")
	if !m.IsMuted("a") {
		t.Fatalf("Mute(a) should make IsMuted(a) true")
	}
	if m.IsReverseMuted("a") {
		t.Fatalf("Mute should not affect the reverse mute set")
	}
}

func TestMuteListsReverseMute(t *testing.T) {
	m := NewMuteLists()
	m.ReverseMute("b")
	if !m.IsReverseMuted("b") {
		t.Fatalf("ReverseMute(b) should make IsReverseMuted(b) true")
	}
	if m.IsMuted("b") {
		t.Fatalf("ReverseMute should not affect the forward mute set")
	}
}

func TestMuteListsUnmuteClearsBothSets(t *testing.T) {
	m := NewMuteLists()
	m.Mute("c")
	m.ReverseMute("c")
	m.Unmute("c")
	if m.IsMuted("c") || m.IsReverseMuted("c") {
		t.Fatalf("Unmute should clear c from both sets")
	}
}
