package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UpcallSink receives every event the core raises toward the host.
type UpcallSink interface {
	OnApplicationRequest(req HttpRequestWrapper)
	OnFileAssembled(destinationPath, fileID string, digest []byte)
	OnError(kind ErrorKind, message string)
	OnPeerCountChanged(count int)
}

// ObservedState is the snapshot of runtime status the host can poll
// through Node.ObservedState.
type ObservedState struct {
	State          string
	LastError      string
	ConnectedPeers []NodeID
	Uptime         time.Duration
}

// Node is the core's host-facing entry point: it owns a ConnectionManager,
// wires together the Dispatcher, Reassembler, and TopologyOptimizer, and
// exposes the handful of operations and upcalls spec.md's external
// interface names.
type Node struct {
	id        NodeID
	cfg       Config
	transport ConnectionManager
	sink      UpcallSink
	metrics   *Metrics

	dispatcher  *Dispatcher
	reassembler *Reassembler
	optimizer   *TopologyOptimizer

	mu         sync.Mutex
	startedAt  time.Time
	sweeperCancel context.CancelFunc
}

// NewNode constructs a Node. sink may be nil if the host does not want
// upcalls (useful for tests that only assert on internal state).
func NewNode(id NodeID, cfg Config, transport ConnectionManager, sink UpcallSink, metrics *Metrics) *Node {
	return &Node{id: id, cfg: cfg, transport: transport, sink: sink, metrics: metrics}
}

func (n *Node) OnApplicationRequest(req HttpRequestWrapper) {
	if n.sink != nil {
		n.sink.OnApplicationRequest(req)
	}
}

func (n *Node) onFileAssembled(destinationPath, fileID string, digest []byte) {
	if n.sink != nil {
		n.sink.OnFileAssembled(destinationPath, fileID, digest)
	}
}

func (n *Node) onError(kind ErrorKind, message string) {
	if n.sink != nil {
		n.sink.OnError(kind, message)
	}
}

func (n *Node) onPeerCountChanged(count int) {
	if n.sink != nil {
		n.sink.OnPeerCountChanged(count)
	}
}

// Start validates configuration, wires the Dispatcher/Reassembler/
// TopologyOptimizer together, and brings the node to the Running state.
func (n *Node) Start(ctx context.Context) error {
	if n.optimizer != nil {
		if s, _ := n.optimizer.State(); s != StateIdle {
			return fmt.Errorf("mesh: node start from state %s: %w", s, ErrAlreadyRunning)
		}
	}
	if err := n.cfg.Validate(); err != nil {
		n.onError(KindConfigurationInvalid, err.Error())
		return err
	}

	n.reassembler = NewReassembler(n.cfg.CacheRoot, n.cfg.FileReassemblyTTL, n.metrics, n.onFileAssembled, n.onError)
	n.dispatcher = NewDispatcher(n.id, n.cfg, n.reassembler, n, n.metrics)
	n.optimizer = NewTopologyOptimizer(n.id, n.cfg, n.transport, n.dispatcher, n.metrics, n.onPeerCountChanged)

	if err := n.optimizer.Start(ctx); err != nil {
		n.onError(KindTransportFault, err.Error())
		return err
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.sweeperCancel = cancel
	n.startedAt = time.Now()
	n.mu.Unlock()
	go n.reassembler.RunSweeper(sweepCtx, n.cfg.HopCountCleanupInterval)

	return nil
}

// Stop brings the node back to Idle, tearing down the optimizer's
// background tasks and the reassembler's sweeper.
func (n *Node) Stop() error {
	if n.optimizer != nil {
		if err := n.optimizer.Stop(); err != nil {
			return err
		}
	}
	n.mu.Lock()
	if n.sweeperCancel != nil {
		n.sweeperCancel()
	}
	n.mu.Unlock()
	return n.transport.Stop()
}

// Restart stops and starts the node again, the host's recovery path out of
// a terminal Error state.
func (n *Node) Restart(ctx context.Context) error {
	_ = n.Stop()
	return n.Start(ctx)
}

// BroadcastApplicationRequest wraps req in a fresh envelope, marks it seen
// so a looped-back copy is recognized as a duplicate, and sends it to every
// current direct peer.
func (n *Node) BroadcastApplicationRequest(req HttpRequestWrapper) error {
	if n.dispatcher == nil {
		return ErrNotRunning
	}
	req.SourceNodeID = n.id
	msg := &NetworkMessage{
		MessageID:   uuid.NewString(),
		HopCount:    0,
		HTTPRequest: &req,
	}
	n.dispatcher.MarkSeen(msg.MessageID)

	frame, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("mesh: encode broadcast request: %w", err)
	}
	peers := n.transport.ConnectedPeers().Snapshot()
	if len(peers) == 0 {
		return nil
	}
	return n.transport.SendPayload(peers, frame)
}

// SendFile chunks sourcePath and broadcasts each chunk independently to
// every current direct peer, under a single content-addressed fileId.
func (n *Node) SendFile(ctx context.Context, sourcePath, destinationPath string) error {
	if n.dispatcher == nil {
		return ErrNotRunning
	}
	out, errc := ChunkFile(ctx, sourcePath, destinationPath, n.cfg.ChunkSize)
	for msg := range out {
		n.dispatcher.MarkSeen(msg.MessageID)
		frame, err := Encode(msg)
		if err != nil {
			return fmt.Errorf("mesh: encode file chunk: %w", err)
		}
		peers := n.transport.ConnectedPeers().Snapshot()
		if len(peers) == 0 {
			continue
		}
		if err := n.transport.SendPayload(peers, frame); err != nil {
			return fmt.Errorf("mesh: send file chunk: %w", err)
		}
	}
	if err := <-errc; err != nil {
		return err
	}
	return nil
}

// ObservedState reports the node's current lifecycle state, connected
// peers, and uptime.
func (n *Node) ObservedState() ObservedState {
	var state State
	var stateErr error
	if n.optimizer != nil {
		state, stateErr = n.optimizer.State()
	}
	var peers []NodeID
	if n.transport != nil {
		peers = n.transport.ConnectedPeers().Snapshot()
	}
	n.mu.Lock()
	startedAt := n.startedAt
	n.mu.Unlock()

	var uptime time.Duration
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt)
	}
	lastErr := ""
	if stateErr != nil {
		lastErr = stateErr.Error()
	}
	return ObservedState{
		State:          state.String(),
		LastError:      lastErr,
		ConnectedPeers: peers,
		Uptime:         uptime,
	}
}
