package hub

import (
	"context"
	"testing"
	"time"
)

func startedNode(t *testing.T) *Node {
	t.Helper()
	n := NewNode(DefaultConfig())
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { _ = n.Stop(context.Background()) })
	return n
}

func TestNodeLifecycle(t *testing.T) {
	n := NewNode(DefaultConfig())
	if s := n.Status(); s.State != StateDisconnected {
		t.Fatalf("expected disconnected initially, got %s", s.State)
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if s := n.Status(); s.State != StateConnected {
		t.Fatalf("expected connected after start, got %s", s.State)
	}
	if err := n.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if s := n.Status(); s.State != StateDisconnected {
		t.Fatalf("expected disconnected after stop, got %s", s.State)
	}
}

func TestSubscribeRequiresConnection(t *testing.T) {
	n := NewNode(DefaultConfig())
	if _, err := n.Subscribe("chan-a"); err == nil {
		t.Fatal("expected subscribe to fail before start")
	}
	if err := n.Broadcast(context.Background(), "chan-a", []byte("x")); err == nil {
		t.Fatal("expected broadcast to fail before start")
	}
}

func TestBroadcastFansOutToAllSubscribers(t *testing.T) {
	n := startedNode(t)

	subA, err := n.Subscribe("fanout-test-channel")
	if err != nil {
		t.Fatalf("subscribe A failed: %v", err)
	}
	defer subA.Close()
	subB, err := n.Subscribe("fanout-test-channel")
	if err != nil {
		t.Fatalf("subscribe B failed: %v", err)
	}
	defer subB.Close()

	if err := n.Broadcast(context.Background(), "fanout-test-channel", []byte("hello")); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	for name, sub := range map[string]*Subscription{"A": subA, "B": subB} {
		select {
		case msg := <-sub.C():
			if string(msg) != "hello" {
				t.Fatalf("subscriber %s got %q", name, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s timed out", name)
		}
	}
}

func TestMailboxHoldsMessagesForFirstSubscriber(t *testing.T) {
	n := startedNode(t)

	if err := n.Broadcast(context.Background(), "mailbox-test-channel", []byte("early")); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	sub, err := n.Subscribe("mailbox-test-channel")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	select {
	case msg := <-sub.C():
		if string(msg) != "early" {
			t.Fatalf("got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("pending message was not delivered")
	}
}

func TestSubscriptionCloseEndsStream(t *testing.T) {
	n := startedNode(t)

	sub, err := n.Subscribe("close-test-channel")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	sub.Close()
	sub.Close() // idempotent

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected closed stream")
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not close")
	}

	if globalBus.subscriberCount("close-test-channel") != 0 {
		t.Fatal("subscriber leaked after close")
	}
}
