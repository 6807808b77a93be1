package network

import (
	"bytes"
	"testing"
)

func TestSwitchDelivery(t *testing.T) {
	sw := NewSwitch()
	a := sw.Attach("127.0.0.1:1")
	b := sw.Attach("127.0.0.1:2")

	if err := a.Send("127.0.0.1:2", []byte("one")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := a.Send("127.0.0.1:2", []byte("two")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	d, ok := b.Recv()
	if !ok || !bytes.Equal(d.Data, []byte("one")) {
		t.Fatalf("first datagram wrong: %v %q", ok, d.Data)
	}
	if d.Src != "127.0.0.1:1" {
		t.Fatalf("source address wrong: %s", d.Src)
	}
	d, ok = b.Recv()
	if !ok || !bytes.Equal(d.Data, []byte("two")) {
		t.Fatalf("second datagram wrong: %v %q", ok, d.Data)
	}
	if _, ok := b.Recv(); ok {
		t.Fatalf("empty queue yielded a datagram")
	}
	if _, ok := a.Recv(); ok {
		t.Fatalf("sender received its own datagram")
	}
}

func TestSwitchUnknownDestination(t *testing.T) {
	sw := NewSwitch()
	a := sw.Attach("127.0.0.1:1")
	if err := a.Send("127.0.0.1:9", []byte("x")); err == nil {
		t.Fatalf("send to unattached address succeeded")
	}
}

func TestSwitchDrop(t *testing.T) {
	sw := NewSwitch()
	a := sw.Attach("127.0.0.1:1")
	sw.Attach("127.0.0.1:2")
	sw.Drop("127.0.0.1:2")
	if err := a.Send("127.0.0.1:2", []byte("x")); err == nil {
		t.Fatalf("send to dropped address succeeded")
	}
}
