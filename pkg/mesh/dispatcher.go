package mesh

import (
	"log/slog"
	"time"
)

// RequestSink receives application-layer requests the Dispatcher has
// decided to deliver locally.
type RequestSink interface {
	OnApplicationRequest(req HttpRequestWrapper)
}

// Dispatcher decodes inbound frames and applies the gossip/forwarding rule
// set in order: decode, de-duplicate, observe topology, deliver locally,
// forward with an incremented hop count excluding the sender, and never
// forward gossip. It owns the de-duplication record, the neighbor peer
// list, and the hop record — the three pieces of shared state spec.md
// assigns to this component alone.
type Dispatcher struct {
	self  NodeID
	codec Codec
	now   func() time.Time

	seen          *seenMessageStore
	neighborLists *neighborPeerListStore
	hopRecords    *hopRecordStore

	reassembler *Reassembler
	sink        RequestSink
	metrics     *Metrics
}

// NewDispatcher constructs a Dispatcher for a node identified as self.
func NewDispatcher(self NodeID, cfg Config, reassembler *Reassembler, sink RequestSink, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		self:          self,
		codec:         Codec{MaxFrameSize: cfg.MaxFrameSize, Compress: cfg.Compress},
		now:           time.Now,
		seen:          newSeenMessageStore(cfg.MaxSeenMessages, cfg.SeenMessageTTL),
		neighborLists: newNeighborPeerListStore(),
		hopRecords:    newHopRecordStore(),
		reassembler:   reassembler,
		sink:          sink,
		metrics:       metrics,
	}
}

// MarkSeen records messageId as already seen, used by the host-facing send
// path so a message this node originated is recognized and dropped if it
// ever loops back.
func (d *Dispatcher) MarkSeen(messageID string) {
	d.seen.Insert(messageID, d.now())
}

// NeighborPeerListSnapshot returns the most recently gossiped peer list
// received from each direct peer.
func (d *Dispatcher) NeighborPeerListSnapshot() map[NodeID][]NodeID {
	return d.neighborLists.Snapshot()
}

// HopRecordSnapshot returns the hop observations still fresh within ttl.
func (d *Dispatcher) HopRecordSnapshot(now time.Time, ttl time.Duration) map[NodeID]hopObservation {
	return d.hopRecords.Snapshot(now, ttl)
}

// SweepExpired prunes aged hop records and evicts seen-message entries past
// their TTL. The seen-message store also prunes itself on each insert, per
// its own TTL and size bound.
func (d *Dispatcher) SweepExpired(now time.Time, hopTTL time.Duration) {
	d.hopRecords.SweepExpired(now, hopTTL)
	d.seen.mu.Lock()
	d.seen.evictLocked(now)
	d.seen.mu.Unlock()
}

func (d *Dispatcher) reportSizes(m *Metrics) {
	if m == nil {
		return
	}
	m.SeenMessagesGauge.Set(float64(d.seen.Len()))
	m.HopRecordsGauge.Set(float64(d.hopRecords.Len()))
}

// Handle applies the full dispatch rule set to one inbound frame received
// from sender.
func (d *Dispatcher) Handle(transport ConnectionManager, sender NodeID, raw []byte) {
	now := d.now()

	msg, err := d.codec.Decode(raw)
	if err != nil {
		slog.Warn("dropping malformed envelope", "peer", sender, "error", err)
		return
	}

	if dup := d.seen.CheckAndRecord(msg.MessageID, now); dup {
		if d.metrics != nil {
			d.metrics.DuplicatesDroppedTotal.Inc()
		}
		return
	}
	d.reportSizes(d.metrics)

	// Observe topology regardless of payload kind: an httpRequest teaches
	// us the source's hop distance; gossip teaches us the sender's
	// neighbor list.
	if msg.HTTPRequest != nil {
		d.hopRecords.Observe(msg.HTTPRequest.SourceNodeID, msg.HopCount, now)
	}
	if msg.IsGossip() {
		if list, ok := msg.Gossip["peerList"]; ok {
			d.neighborLists.Set(sender, list)
		}
		if d.metrics != nil {
			d.metrics.GossipReceivedTotal.Inc()
		}
	}

	// Deliver locally.
	switch {
	case msg.HTTPRequest != nil:
		if d.sink != nil {
			d.sink.OnApplicationRequest(*msg.HTTPRequest)
		}
	case msg.FileChunk != nil:
		if d.reassembler != nil {
			if err := d.reassembler.AddChunk(*msg.FileChunk); err != nil {
				slog.Warn("reassembly error", "peer", sender, "fileId", msg.FileChunk.FileID, "error", err)
			}
		}
	}

	// Forward httpRequest and fileChunk messages, excluding the sender.
	// Gossip is never forwarded: it is one-hop only.
	if msg.HTTPRequest == nil && msg.FileChunk == nil {
		return
	}

	forwarded := *msg
	forwarded.HopCount = msg.HopCount + 1
	out, err := d.codec.Encode(&forwarded)
	if err != nil {
		slog.Warn("failed to re-encode message for forwarding", "error", err)
		return
	}

	peers := transport.ConnectedPeers().Snapshot()
	targets := make([]NodeID, 0, len(peers))
	for _, p := range peers {
		if p != sender {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		return
	}
	if err := transport.SendPayload(targets, out); err != nil {
		slog.Warn("failed to forward message", "error", err)
		return
	}
	if d.metrics != nil {
		kind := "http"
		if msg.FileChunk != nil {
			kind = "file"
		}
		d.metrics.MessagesForwardedTotal.WithLabelValues(kind).Inc()
	}
}
