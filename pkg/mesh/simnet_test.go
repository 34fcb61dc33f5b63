package mesh

import (
	"context"
	"testing"
	"time"
)

func TestSimulatorConnectAndSend(t *testing.T) {
	net := NewSimNetwork()
	a := net.NewTransport("a", 4)
	b := net.NewTransport("b", 4)

	ctx := context.Background()
	if err := a.ConnectTo(ctx, "b"); err != nil {
		t.Fatalf("ConnectTo: %v", err)
	}
	if !a.ConnectedPeers().Contains("b") {
		t.Fatal("a should be connected to b")
	}
	if !b.ConnectedPeers().Contains("a") {
		t.Fatal("connection should be bidirectional")
	}

	if err := a.SendPayload([]NodeID{"b"}, []byte("hello")); err != nil {
		t.Fatalf("SendPayload: %v", err)
	}

	select {
	case p := <-b.IncomingPayloads():
		if p.SenderID != "a" || string(p.Data) != "hello" {
			t.Fatalf("unexpected payload: %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for payload")
	}
}

func TestSimulatorDisconnect(t *testing.T) {
	net := NewSimNetwork()
	a := net.NewTransport("a", 4)
	b := net.NewTransport("b", 4)
	ctx := context.Background()
	_ = a.ConnectTo(ctx, "b")

	if err := a.DisconnectFrom("b"); err != nil {
		t.Fatalf("DisconnectFrom: %v", err)
	}
	if a.ConnectedPeers().Contains("b") || b.ConnectedPeers().Contains("a") {
		t.Fatal("expected disconnection to be mutual")
	}
}

func TestSimulatorDiscoveryLink(t *testing.T) {
	net := NewSimNetwork()
	a := net.NewTransport("a", 4)
	b := net.NewTransport("b", 4)
	net.Link("a", "b")

	select {
	case id := <-a.DiscoveredEndpoints():
		if id != "b" {
			t.Fatalf("a discovered %q, want b", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for discovery event")
	}
	select {
	case id := <-b.DiscoveredEndpoints():
		if id != "a" {
			t.Fatalf("b discovered %q, want a", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for discovery event")
	}
}

func TestSimulatorConnectToEnforcesMaxConnections(t *testing.T) {
	net := NewSimNetwork()
	a := net.NewTransport("a", 1)
	b := net.NewTransport("b", 4)
	c := net.NewTransport("c", 4)
	ctx := context.Background()

	if err := a.ConnectTo(ctx, "b"); err != nil {
		t.Fatalf("ConnectTo(b): %v", err)
	}
	if err := a.ConnectTo(ctx, "c"); err == nil {
		t.Fatal("expected ConnectTo(c) to fail: a is already at its connection limit")
	}
	if a.ConnectedPeers().Len() != 1 {
		t.Fatalf("a.ConnectedPeers().Len() = %d, want 1", a.ConnectedPeers().Len())
	}
	if c.ConnectedPeers().Contains("a") {
		t.Fatal("c should not have been left connected to a after the refusal")
	}

	// The limit is enforced on the peer's side too.
	d := net.NewTransport("d", 1)
	if err := d.ConnectTo(ctx, "c"); err != nil {
		t.Fatalf("ConnectTo(c): %v", err)
	}
	e := net.NewTransport("e", 4)
	if err := e.ConnectTo(ctx, "d"); err == nil {
		t.Fatal("expected ConnectTo(d) to fail: d is already at its connection limit")
	}
}

func TestSimulatorPeerSetSubscribe(t *testing.T) {
	net := NewSimNetwork()
	a := net.NewTransport("a", 4)
	b := net.NewTransport("b", 4)

	ch, cancel := a.ConnectedPeers().Subscribe()
	defer cancel()

	go func() { _ = a.ConnectTo(context.Background(), "b") }()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a peer-set change notification")
	}
	if a.ConnectedPeers().Len() != 1 {
		t.Fatalf("Len() = %d, want 1", a.ConnectedPeers().Len())
	}
	_ = b
}
