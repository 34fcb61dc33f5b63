package mesh

import (
	"context"
	"testing"
	"time"
)

type recordingSink struct {
	requests []HttpRequestWrapper
}

func (s *recordingSink) OnApplicationRequest(req HttpRequestWrapper) {
	s.requests = append(s.requests, req)
}

func TestDispatcherDeliversAndForwards(t *testing.T) {
	net := NewSimNetwork()
	n1 := net.NewTransport("n1", 4)
	n2 := net.NewTransport("n2", 4)
	n3 := net.NewTransport("n3", 4)
	ctx := context.Background()
	_ = n2.ConnectTo(ctx, "n1")
	_ = n2.ConnectTo(ctx, "n3")

	sink := &recordingSink{}
	d := NewDispatcher("n2", DefaultConfig(), nil, sink, nil)

	msg := &NetworkMessage{MessageID: "m1", HopCount: 0, HTTPRequest: &HttpRequestWrapper{
		Method: "GET", Path: "/x", SourceNodeID: "n1",
	}}
	frame, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	d.Handle(n2, "n1", frame)

	if len(sink.requests) != 1 {
		t.Fatalf("delivered %d requests, want 1", len(sink.requests))
	}

	select {
	case p := <-n3.IncomingPayloads():
		got, err := Decode(p.Data)
		if err != nil {
			t.Fatalf("Decode forwarded: %v", err)
		}
		if got.HopCount != 1 {
			t.Fatalf("forwarded hopCount = %d, want 1", got.HopCount)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the message to be forwarded to n3")
	}

	select {
	case <-n1.IncomingPayloads():
		t.Fatal("message should never be forwarded back to the sender")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcherDropsDuplicates(t *testing.T) {
	net := NewSimNetwork()
	n1 := net.NewTransport("n1", 4)
	n2 := net.NewTransport("n2", 4)
	ctx := context.Background()
	_ = n1.ConnectTo(ctx, "n2")

	sink := &recordingSink{}
	d := NewDispatcher("n1", DefaultConfig(), nil, sink, nil)

	msg := &NetworkMessage{MessageID: "dup", HopCount: 0, HTTPRequest: &HttpRequestWrapper{
		Method: "GET", SourceNodeID: "n2",
	}}
	frame, _ := Encode(msg)

	d.Handle(n1, "n2", frame)
	d.Handle(n1, "n2", frame)

	if len(sink.requests) != 1 {
		t.Fatalf("delivered %d requests for duplicate message, want 1", len(sink.requests))
	}
}

func TestDispatcherNeverForwardsGossip(t *testing.T) {
	net := NewSimNetwork()
	n1 := net.NewTransport("n1", 4)
	n2 := net.NewTransport("n2", 4)
	n3 := net.NewTransport("n3", 4)
	ctx := context.Background()
	_ = n2.ConnectTo(ctx, "n1")
	_ = n2.ConnectTo(ctx, "n3")

	d := NewDispatcher("n2", DefaultConfig(), nil, nil, nil)
	msg := &NetworkMessage{MessageID: "g1", HopCount: 0, Gossip: GossipPayload{"peerList": {"n1", "nX"}}}
	frame, _ := Encode(msg)

	d.Handle(n2, "n1", frame)

	select {
	case <-n3.IncomingPayloads():
		t.Fatal("gossip must never be forwarded")
	case <-time.After(50 * time.Millisecond):
	}

	lists := d.NeighborPeerListSnapshot()
	got, ok := lists["n1"]
	if !ok || len(got) != 2 {
		t.Fatalf("NeighborPeerListSnapshot()[n1] = %v, want 2 entries", got)
	}
}

func TestDispatcherRejectsMalformedFrame(t *testing.T) {
	net := NewSimNetwork()
	n1 := net.NewTransport("n1", 4)

	sink := &recordingSink{}
	d := NewDispatcher("n1", DefaultConfig(), nil, sink, nil)
	d.Handle(n1, "n2", []byte{0xFF})

	if len(sink.requests) != 0 {
		t.Fatalf("malformed frame should not be delivered, got %d requests", len(sink.requests))
	}
}
