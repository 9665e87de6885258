package mailbox

import (
	"testing"
	"time"
)

// pipeChannel delivers sent bytes synchronously to its linked peer.
type pipeChannel struct {
	peer *pipeChannel
	recv func(data []byte)
}

func newPipe() (*pipeChannel, *pipeChannel) {
	a, b := &pipeChannel{}, &pipeChannel{}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeChannel) Send(data []byte) error {
	if p.peer.recv != nil {
		p.peer.recv(data)
	}
	return nil
}

func (p *pipeChannel) OnMessage(fn func(data []byte)) { p.recv = fn }

func TestSetUpdatesRemoteValue(t *testing.T) {
	chA, chB := newPipe()
	a := New(chA)
	b := New(chB)

	if err := a.Set("color", "green"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if v, ok := b.Value("color"); !ok || v != "green" {
		t.Fatalf("Value(color) = %q, %v; want green, true", v, ok)
	}
	if _, ok := a.Value("color"); ok {
		t.Fatal("sender's own store was updated")
	}

	// Later writes win.
	if err := a.Set("color", "blue"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, _ := b.Value("color"); v != "blue" {
		t.Fatalf("Value(color) = %q, want blue", v)
	}
}

func TestValueMissingKey(t *testing.T) {
	chA, _ := newPipe()
	a := New(chA)

	if _, ok := a.Value("absent"); ok {
		t.Fatal("Value reported a key that was never set")
	}
}

func TestEventsAreForwarded(t *testing.T) {
	chA, chB := newPipe()
	a := New(chA)
	b := New(chB)

	if err := a.SendEvent("ping", "1"); err != nil {
		t.Fatalf("SendEvent failed: %v", err)
	}

	select {
	case ev := <-b.Events():
		if ev.Name != "ping" || ev.Value != "1" {
			t.Fatalf("event = %+v, want ping/1", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}
}

func TestUnknownTypeDropped(t *testing.T) {
	chA, _ := newPipe()
	a := New(chA)

	chA.recv([]byte(`{"type":"RESET","key":"color"}`))
	chA.recv([]byte(`not json`))

	if _, ok := a.Value("color"); ok {
		t.Fatal("unknown message type mutated the value store")
	}
	select {
	case ev := <-a.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}
