package fabric

import (
	"context"
	"testing"
	"time"

	"github.com/jabolina/dupres/pkg/dupres/types"
)

func TestMemoryFabric_SendDeliversToRegisteredHandler(t *testing.T) {
	sw := NewSwitch()
	a := NewMemoryFabric(sw, "a")
	b := NewMemoryFabric(sw, "b")
	defer a.Close()
	defer b.Close()

	received := make(chan string, 1)
	b.Register(types.RW, func(from types.NodeID, msg *types.FabricMessage) {
		received <- string(msg.Payload)
		b.MessagePut(msg)
	})

	msg := a.MessageGet()
	msg.Payload = []byte("hello")
	if err := a.Send(context.Background(), "b", msg, types.RW); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case got := <-received:
		if got != "hello" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemoryFabric_SendToUnknownNodeErrors(t *testing.T) {
	sw := NewSwitch()
	a := NewMemoryFabric(sw, "a")
	defer a.Close()

	msg := a.MessageGet()
	if err := a.Send(context.Background(), "ghost", msg, types.RW); err == nil {
		t.Fatal("expected an error sending to an unattached node")
	}
	a.MessagePut(msg)
}

func TestPool_GetPutResetsPayload(t *testing.T) {
	p := newPool()
	msg := p.get()
	msg.Payload = []byte("x")
	p.put(msg)
	again := p.get()
	if again.Payload != nil {
		t.Fatalf("expected reset payload, got %v", again.Payload)
	}
}
