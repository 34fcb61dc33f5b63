package mesh

import (
	"context"
	"sync"
)

// IncomingPayload is one frame delivered from a connected peer.
type IncomingPayload struct {
	SenderID NodeID
	Data     []byte
}

// PeerSet is a reactive view of the peers this node is currently connected
// to: any number of consumers may read a consistent snapshot and subscribe
// to change notifications independently of one another.
type PeerSet interface {
	// Snapshot returns the current member set. The returned slice is the
	// caller's to keep; it is never mutated after being handed out.
	Snapshot() []NodeID
	Contains(id NodeID) bool
	Len() int
	// Subscribe returns a channel that receives a value every time
	// membership changes, and a cancel function to stop receiving. The
	// channel is never closed by the implementation except on Stop.
	Subscribe() (<-chan struct{}, func())
}

// ConnectionManager is the capability set the core requires from whatever
// radio-layer transport backs a node. It is deliberately narrow: the core
// never learns about addresses, transports, or discovery mechanisms, only
// this interface's vocabulary of peer IDs and byte payloads. A concrete
// implementation (e.g. a libp2p host) is an external collaborator outside
// this module's scope; Simulator (simnet.go) is the in-memory reference used for
// tests and local demos.
type ConnectionManager interface {
	// StartDiscovery begins advertising and searching for peers, using
	// advertisePayload as an opaque endpoint-identifying token.
	StartDiscovery(advertisePayload []byte) error
	StopDiscovery()

	// ConnectTo attempts to establish a direct connection. Failure may be
	// silent at this layer; callers detect it by the peer's continued
	// absence from ConnectedPeers().
	ConnectTo(ctx context.Context, peerID NodeID) error
	DisconnectFrom(peerID NodeID) error

	// SendPayload delivers payload to each of peerIDs. Per-sender order is
	// preserved at each receiver.
	SendPayload(peerIDs []NodeID, payload []byte) error

	// Stop releases all resources. After Stop, every other method is
	// invalid.
	Stop() error

	MaxConnections() int
	ConnectedPeers() PeerSet

	// DiscoveredEndpoints is an append-only stream of discovered peer IDs.
	// The same ID may appear more than once.
	DiscoveredEndpoints() <-chan NodeID
	// IncomingPayloads is an ordered stream of payloads received from
	// connected peers.
	IncomingPayloads() <-chan IncomingPayload
}

// signalBus is a small single-producer, many-consumer notification
// primitive: Publish wakes every current subscriber without blocking on any
// of them. Modeled on the libp2p event-bus subscribe/cancel shape the
// teacher's peer manager uses for connectedness notifications.
type signalBus struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newSignalBus() *signalBus {
	return &signalBus{subs: make(map[chan struct{}]struct{})}
}

func (b *signalBus) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *signalBus) Publish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
			// subscriber hasn't drained the previous signal yet; a pending
			// signal already covers this change.
		}
	}
}

func (b *signalBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
