package mesh

import (
	"context"
	"fmt"
	"sync"
)

// SimNetwork is a shared in-memory medium a test or demo uses to wire up
// several Simulator transports without any real radio layer. It plays the
// role spec.md assigns to "the radio-layer implementation of
// ConnectionManager", reduced to exactly what the core needs to exercise.
type SimNetwork struct {
	mu    sync.Mutex
	nodes map[NodeID]*Simulator
}

// NewSimNetwork creates an empty shared medium.
func NewSimNetwork() *SimNetwork {
	return &SimNetwork{nodes: make(map[NodeID]*Simulator)}
}

// NewTransport registers a new node on the network and returns its
// ConnectionManager.
func (n *SimNetwork) NewTransport(id NodeID, maxConnections int) *Simulator {
	s := &Simulator{
		id:             id,
		net:            n,
		maxConnections: maxConnections,
		connected:      make(map[NodeID]struct{}),
		peerSetBus:     newSignalBus(),
		discoveredCh:   make(chan NodeID, 64),
		incomingCh:     make(chan IncomingPayload, 256),
	}
	n.mu.Lock()
	n.nodes[id] = s
	n.mu.Unlock()
	return s
}

func (n *SimNetwork) lookup(id NodeID) (*Simulator, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.nodes[id]
	return s, ok
}

// Link simulates a radio-layer discovery event: each of a and b observes
// the other on its DiscoveredEndpoints stream. Tests compose Link calls to
// build whatever topology a scenario needs.
func (n *SimNetwork) Link(a, b NodeID) {
	sa, ok := n.lookup(a)
	if !ok {
		return
	}
	sb, ok := n.lookup(b)
	if !ok {
		return
	}
	select {
	case sa.discoveredCh <- b:
	default:
	}
	select {
	case sb.discoveredCh <- a:
	default:
	}
}

// Simulator is the reference in-memory ConnectionManager implementation.
// It is a testing and demo convenience, not a production transport: every
// connection and payload delivery happens synchronously in local memory.
type Simulator struct {
	id             NodeID
	net            *SimNetwork
	maxConnections int

	mu        sync.Mutex
	connected map[NodeID]struct{}
	stopped   bool

	peerSetBus *signalBus

	discoveredCh chan NodeID
	incomingCh   chan IncomingPayload

	discovering bool
}

var _ ConnectionManager = (*Simulator)(nil)

func (s *Simulator) StartDiscovery(advertisePayload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discovering = true
	return nil
}

func (s *Simulator) StopDiscovery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discovering = false
}

func (s *Simulator) ConnectTo(ctx context.Context, peerID NodeID) error {
	if peerID == s.id {
		return fmt.Errorf("mesh: simulator refuses to connect to self")
	}
	peer, ok := s.net.lookup(peerID)
	if !ok {
		return fmt.Errorf("mesh: simulator: peer %q is not registered on the network", peerID)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("mesh: simulator transport is stopped")
	}
	_, already := s.connected[peerID]
	if !already && len(s.connected) >= s.maxConnections {
		s.mu.Unlock()
		return fmt.Errorf("mesh: simulator: %q is already at its connection limit (%d)", s.id, s.maxConnections)
	}
	s.connected[peerID] = struct{}{}
	s.mu.Unlock()

	peer.mu.Lock()
	_, peerAlready := peer.connected[s.id]
	if !peerAlready && len(peer.connected) >= peer.maxConnections {
		peer.mu.Unlock()
		if !already {
			s.mu.Lock()
			delete(s.connected, peerID)
			s.mu.Unlock()
		}
		return fmt.Errorf("mesh: simulator: peer %q is already at its connection limit (%d)", peerID, peer.maxConnections)
	}
	peer.connected[s.id] = struct{}{}
	peer.mu.Unlock()

	if !already {
		s.peerSetBus.Publish()
		peer.peerSetBus.Publish()
	}
	return nil
}

func (s *Simulator) DisconnectFrom(peerID NodeID) error {
	s.mu.Lock()
	_, had := s.connected[peerID]
	delete(s.connected, peerID)
	s.mu.Unlock()

	if peer, ok := s.net.lookup(peerID); ok {
		peer.mu.Lock()
		delete(peer.connected, s.id)
		peer.mu.Unlock()
		peer.peerSetBus.Publish()
	}
	if had {
		s.peerSetBus.Publish()
	}
	return nil
}

func (s *Simulator) SendPayload(peerIDs []NodeID, payload []byte) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return fmt.Errorf("mesh: simulator transport is stopped")
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)

	for _, id := range peerIDs {
		s.mu.Lock()
		_, ok := s.connected[id]
		s.mu.Unlock()
		if !ok {
			continue
		}
		peer, ok := s.net.lookup(id)
		if !ok {
			continue
		}
		select {
		case peer.incomingCh <- IncomingPayload{SenderID: s.id, Data: cp}:
		default:
			// receiver's inbox is saturated; dropping here mirrors an
			// unreliable radio layer rather than blocking the sender.
		}
	}
	return nil
}

func (s *Simulator) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.peerSetBus.Close()
	close(s.discoveredCh)
	close(s.incomingCh)
	return nil
}

func (s *Simulator) MaxConnections() int { return s.maxConnections }

func (s *Simulator) ConnectedPeers() PeerSet { return simPeerSet{s} }

func (s *Simulator) DiscoveredEndpoints() <-chan NodeID { return s.discoveredCh }

func (s *Simulator) IncomingPayloads() <-chan IncomingPayload { return s.incomingCh }

// simPeerSet adapts Simulator's internal locking to the PeerSet interface.
type simPeerSet struct{ s *Simulator }

func (p simPeerSet) Snapshot() []NodeID {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	out := make([]NodeID, 0, len(p.s.connected))
	for id := range p.s.connected {
		out = append(out, id)
	}
	return out
}

func (p simPeerSet) Contains(id NodeID) bool {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	_, ok := p.s.connected[id]
	return ok
}

func (p simPeerSet) Len() int {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return len(p.s.connected)
}

func (p simPeerSet) Subscribe() (<-chan struct{}, func()) {
	return p.s.peerSetBus.Subscribe()
}
