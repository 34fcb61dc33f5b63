package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// connectDialTimeout bounds a single admission-triggered ConnectTo call.
const connectDialTimeout = 10 * time.Second

// TopologyOptimizer runs the six cooperative background tasks that keep a
// node's connection set near TargetConnections, break redundant triangles,
// periodically sacrifice a connection to discover other islands, gossip
// peer lists to direct peers, and sweep aged hop/seen-message state. Each
// piece of shared mutable state has exactly one owning task, mirroring
// spec.md's concurrency model; cross-task reads go through snapshot
// methods rather than shared locks.
type TopologyOptimizer struct {
	self      NodeID
	cfg       Config
	transport ConnectionManager
	dispatcher *Dispatcher
	metrics   *Metrics

	onPeerCountChanged func(int)

	state stateMachine

	mu           sync.Mutex
	lastRewireAt time.Time

	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}
}

// NewTopologyOptimizer wires an optimizer around a transport and the
// dispatcher it will drive. onPeerCountChanged is nil-safe.
func NewTopologyOptimizer(self NodeID, cfg Config, transport ConnectionManager, dispatcher *Dispatcher, metrics *Metrics, onPeerCountChanged func(int)) *TopologyOptimizer {
	return &TopologyOptimizer{
		self:               self,
		cfg:                cfg,
		transport:          transport,
		dispatcher:         dispatcher,
		metrics:            metrics,
		onPeerCountChanged: onPeerCountChanged,
	}
}

// State returns the optimizer's current lifecycle state and, if in
// StateError, the reason it failed.
func (o *TopologyOptimizer) State() (State, error) { return o.state.Get() }

// Start transitions Idle -> Starting -> Running and launches the six
// background tasks under ctx. Start fails if the optimizer is not Idle.
func (o *TopologyOptimizer) Start(ctx context.Context) error {
	if s, _ := o.state.Get(); s != StateIdle {
		return fmt.Errorf("mesh: optimizer start from state %s: %w", s, ErrAlreadyRunning)
	}
	o.state.Set(StateStarting)

	if err := o.transport.StartDiscovery(nil); err != nil {
		o.state.Fail(err)
		return fmt.Errorf("mesh: start discovery: %w: %v", ErrTransportFault, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	o.cancel = cancel
	o.group = g
	o.done = make(chan struct{})

	g.Go(func() error { o.discoveryLoop(gctx); return nil })
	g.Go(func() error { o.payloadLoop(gctx); return nil })
	g.Go(func() error { o.gossipLoop(gctx); return nil })
	g.Go(func() error { o.rewiringLoop(gctx); return nil })
	g.Go(func() error { o.islandLoop(gctx); return nil })
	g.Go(func() error { o.sweepLoop(gctx); return nil })

	o.state.Set(StateRunning)

	go func() {
		_ = g.Wait()
		close(o.done)
	}()
	return nil
}

// Stop transitions Running -> Stopping -> Idle, cancels every task, and
// waits for them to exit.
func (o *TopologyOptimizer) Stop() error {
	s, _ := o.state.Get()
	if s != StateRunning && s != StateError {
		return nil
	}
	o.state.Set(StateStopping)
	if o.cancel != nil {
		o.cancel()
	}
	o.transport.StopDiscovery()
	if o.done != nil {
		<-o.done
	}
	o.state.Set(StateIdle)
	return nil
}

// Fail moves the optimizer into the terminal Error(reason) state, used
// when the host or transport reports a fault the optimizer cannot recover
// from on its own.
func (o *TopologyOptimizer) Fail(reason error) {
	o.state.Fail(reason)
	if o.cancel != nil {
		o.cancel()
	}
}

// --- task 1: discovery consumer -------------------------------------------

func (o *TopologyOptimizer) discoveryLoop(ctx context.Context) {
	ch := o.transport.DiscoveredEndpoints()
	for {
		select {
		case <-ctx.Done():
			return
		case peerID, ok := <-ch:
			if !ok {
				return
			}
			o.admit(ctx, peerID)
		}
	}
}

// admit implements connection admission (spec.md 4.4.1): fill up to
// TargetConnections, never proactively above it.
func (o *TopologyOptimizer) admit(ctx context.Context, peerID NodeID) {
	if peerID == o.self {
		return
	}
	peers := o.transport.ConnectedPeers()
	if peers.Contains(peerID) {
		return
	}
	if peers.Len() >= o.cfg.TargetConnections {
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectDialTimeout)
	defer cancel()
	if err := o.transport.ConnectTo(dialCtx, peerID); err != nil {
		slog.Debug("admission connect attempt failed", "peer", peerID, "error", err)
		return
	}
	if o.metrics != nil {
		o.metrics.ConnectionsAdmittedTotal.Inc()
	}
	o.notifyPeerCount()
}

func (o *TopologyOptimizer) notifyPeerCount() {
	if o.onPeerCountChanged != nil {
		o.onPeerCountChanged(o.transport.ConnectedPeers().Len())
	}
	if o.metrics != nil {
		o.metrics.ConnectedPeersGauge.Set(float64(o.transport.ConnectedPeers().Len()))
	}
}

// --- task 2: payload consumer ---------------------------------------------

func (o *TopologyOptimizer) payloadLoop(ctx context.Context) {
	ch := o.transport.IncomingPayloads()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-ch:
			if !ok {
				return
			}
			o.dispatcher.Handle(o.transport, p.SenderID, p.Data)
		}
	}
}

// --- task 3: gossip timer ---------------------------------------------------

func (o *TopologyOptimizer) gossipLoop(ctx context.Context) {
	t := time.NewTicker(o.cfg.GossipInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.sendGossip()
		}
	}
}

func (o *TopologyOptimizer) sendGossip() {
	peers := o.transport.ConnectedPeers().Snapshot()
	if len(peers) == 0 {
		return
	}
	msg := &NetworkMessage{
		MessageID: uuid.NewString(),
		HopCount:  0,
		Gossip:    GossipPayload{"peerList": peers},
	}
	frame, err := Encode(msg)
	if err != nil {
		slog.Warn("failed to encode gossip", "error", err)
		return
	}
	if err := o.transport.SendPayload(peers, frame); err != nil {
		slog.Warn("failed to send gossip", "error", err)
		return
	}
	if o.metrics != nil {
		o.metrics.GossipSentTotal.Inc()
	}
}

// --- task 4: rewiring analyzer ----------------------------------------------

func (o *TopologyOptimizer) rewiringLoop(ctx context.Context) {
	t := time.NewTicker(o.cfg.RewiringInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.runRewiringCycle(time.Now())
		}
	}
}

func (o *TopologyOptimizer) runRewiringCycle(now time.Time) {
	o.mu.Lock()
	sinceLast := now.Sub(o.lastRewireAt)
	o.mu.Unlock()
	if sinceLast < o.cfg.RewiringCooldown {
		return
	}

	connected := o.transport.ConnectedPeers().Snapshot()
	if len(connected) < 2 {
		return
	}
	connectedSet := toSet(connected)

	redundant, ok := findRedundantPeer(o.self, connected, o.dispatcher.NeighborPeerListSnapshot())
	if !ok {
		return
	}

	hopRecords := o.dispatcher.HopRecordSnapshot(now, o.cfg.HopCountTTL)
	farthest, ok := findFarthest(o.self, hopRecords, connectedSet)
	if !ok {
		return
	}

	_ = o.transport.DisconnectFrom(redundant)
	if o.metrics != nil {
		o.metrics.ConnectionsDroppedTotal.WithLabelValues("rewiring").Inc()
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), connectDialTimeout)
	err := o.transport.ConnectTo(dialCtx, farthest)
	cancel()
	if err != nil {
		slog.Debug("rewiring connect attempt failed", "peer", farthest, "error", err)
	}

	o.mu.Lock()
	o.lastRewireAt = now
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RewiringEventsTotal.Inc()
	}
	o.notifyPeerCount()
}

// --- task 5: island probe ----------------------------------------------------

func (o *TopologyOptimizer) islandLoop(ctx context.Context) {
	timer := time.NewTimer(o.cfg.IslandDiscoveryInitialDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	o.runIslandProbe()

	t := time.NewTicker(o.cfg.IslandDiscoveryInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.runIslandProbe()
		}
	}
}

// runIslandProbe periodically sacrifices a redundant edge to free a
// discovery slot, so the node can hear about other islands even once it
// has reached TargetConnections.
func (o *TopologyOptimizer) runIslandProbe() {
	connected := o.transport.ConnectedPeers().Snapshot()
	if len(connected) < o.cfg.TargetConnections {
		return
	}
	candidate, ok := findRedundantPeer(o.self, connected, o.dispatcher.NeighborPeerListSnapshot())
	if !ok {
		return
	}
	_ = o.transport.DisconnectFrom(candidate)
	if o.metrics != nil {
		o.metrics.ConnectionsDroppedTotal.WithLabelValues("island").Inc()
		o.metrics.IslandProbesTotal.Inc()
	}
	o.notifyPeerCount()
}

// --- task 6: hop-record / seen-message sweeper ------------------------------

func (o *TopologyOptimizer) sweepLoop(ctx context.Context) {
	t := time.NewTicker(o.cfg.HopCountCleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.dispatcher.SweepExpired(time.Now(), o.cfg.HopCountTTL)
			o.dispatcher.reportSizes(o.metrics)
		}
	}
}

// --- pure topology algorithms (testable without a transport) ---------------

func toSet(ids []NodeID) map[NodeID]bool {
	s := make(map[NodeID]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

// findRedundantPeer implements spec.md 4.4.3's unilateral-evidence
// triangle detection: among the current direct peers, find an ordered
// pair (A, B) such that A's last-gossiped peer list names B, where both A
// and B are themselves current direct peers. Returns the smallest such B
// for determinism.
func findRedundantPeer(self NodeID, connected []NodeID, neighborLists map[NodeID][]NodeID) (NodeID, bool) {
	connectedSet := toSet(connected)
	var candidates []NodeID
	for a, list := range neighborLists {
		if !connectedSet[a] {
			continue
		}
		for _, b := range list {
			if b == self || b == a {
				continue
			}
			if connectedSet[b] {
				candidates = append(candidates, b)
			}
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	return candidates[0], true
}

// findFarthest picks the freshest-observed non-neighbor with the greatest
// hop count, breaking ties by NodeID for determinism.
func findFarthest(self NodeID, hopRecords map[NodeID]hopObservation, connectedSet map[NodeID]bool) (NodeID, bool) {
	var best NodeID
	bestHop := -1
	found := false
	for id, obs := range hopRecords {
		if id == self || connectedSet[id] {
			continue
		}
		if obs.hopCount > bestHop || (obs.hopCount == bestHop && id < best) {
			bestHop = obs.hopCount
			best = id
			found = true
		}
	}
	return best, found
}
