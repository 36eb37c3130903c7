package transport

import (
	"testing"
	"time"

	"github.com/odinsync/core/wire"
)

func TestLoopbackDeliversToPeer(t *testing.T) {
	a, b := Loopback()

	recv := make(chan wire.Message, 1)
	b.SetReceiver(func(msgID string, msg wire.Message) {
		if msgID != "req-1" {
			t.Errorf("msgID = %q, want req-1", msgID)
		}
		recv <- msg
	})

	req := wire.FetchRequest{Query: wire.FetchQuery{Limit: 3}}
	if err := a.Send("req-1", req); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case got := <-recv:
		fr, ok := got.(wire.FetchRequest)
		if !ok || fr.Query.Limit != 3 {
			t.Fatalf("received %#v, want the sent FetchRequest", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for loopback delivery")
	}
}

func TestLoopbackIsBidirectional(t *testing.T) {
	a, b := Loopback()

	recvA := make(chan wire.Message, 1)
	recvB := make(chan wire.Message, 1)
	a.SetReceiver(func(_ string, msg wire.Message) { recvA <- msg })
	b.SetReceiver(func(_ string, msg wire.Message) { recvB <- msg })

	if err := a.Send("to-b", wire.StoreRequest{}); err != nil {
		t.Fatal(err)
	}
	if err := b.Send("to-a", wire.StoreResponse{}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-recvB:
	case <-time.After(time.Second):
		t.Fatal("b never received a's message")
	}
	select {
	case <-recvA:
	case <-time.After(time.Second):
		t.Fatal("a never received b's message")
	}
}

func TestLoopbackCloseDoesNotPanicOnSend(t *testing.T) {
	a, b := Loopback()
	_ = a.Close()
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Send("after-close", wire.StoreRequest{}); err == nil {
		t.Fatal("expected Send on a closed loopback end to fail")
	}
}
