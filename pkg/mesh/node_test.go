package mesh

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type collectingSink struct {
	mu         sync.Mutex
	requests   []HttpRequestWrapper
	assembled  []string
	errors     []ErrorKind
	peerCounts []int
}

func (s *collectingSink) OnApplicationRequest(req HttpRequestWrapper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
}

func (s *collectingSink) OnFileAssembled(destinationPath, fileID string, digest []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assembled = append(s.assembled, destinationPath)
}

func (s *collectingSink) OnError(kind ErrorKind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, kind)
}

func (s *collectingSink) OnPeerCountChanged(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerCounts = append(s.peerCounts, count)
}

func (s *collectingSink) snapshotRequests() []HttpRequestWrapper {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HttpRequestWrapper, len(s.requests))
	copy(out, s.requests)
	return out
}

func fastTestConfig(dir string) Config {
	c := DefaultConfig()
	c.CacheRoot = dir
	c.GossipInterval = 20 * time.Millisecond
	c.RewiringInterval = time.Hour
	c.IslandDiscoveryInitialDelay = time.Hour
	c.IslandDiscoveryInterval = time.Hour
	c.HopCountCleanupInterval = 50 * time.Millisecond
	return c
}

func TestNodeBroadcastApplicationRequest(t *testing.T) {
	net := NewSimNetwork()
	tr1 := net.NewTransport("n1", 4)
	tr2 := net.NewTransport("n2", 4)
	net.Link("n1", "n2")

	sink1 := &collectingSink{}
	sink2 := &collectingSink{}
	n1 := NewNode("n1", fastTestConfig(t.TempDir()), tr1, sink1, nil)
	n2 := NewNode("n2", fastTestConfig(t.TempDir()), tr2, sink2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n1.Start(ctx); err != nil {
		t.Fatalf("n1.Start: %v", err)
	}
	if err := n2.Start(ctx); err != nil {
		t.Fatalf("n2.Start: %v", err)
	}
	defer n1.Stop()
	defer n2.Stop()

	waitForPeers(t, tr1, 1)
	waitForPeers(t, tr2, 1)

	if err := n1.BroadcastApplicationRequest(HttpRequestWrapper{Method: "GET", Path: "/ping"}); err != nil {
		t.Fatalf("BroadcastApplicationRequest: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(sink2.snapshotRequests()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("n2 never received the broadcast request")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(sink1.snapshotRequests()) != 0 {
		t.Fatal("the originating node should not receive its own broadcast via onApplicationRequest")
	}
}

func TestNodeSendFile(t *testing.T) {
	net := NewSimNetwork()
	tr1 := net.NewTransport("n1", 4)
	tr2 := net.NewTransport("n2", 4)
	net.Link("n1", "n2")

	sink1 := &collectingSink{}
	sink2 := &collectingSink{}
	destDir := t.TempDir()
	n1 := NewNode("n1", fastTestConfig(t.TempDir()), tr1, sink1, nil)
	n2 := NewNode("n2", fastTestConfig(destDir), tr2, sink2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = n1.Start(ctx)
	_ = n2.Start(ctx)
	defer n1.Stop()
	defer n2.Stop()

	waitForPeers(t, tr1, 1)
	waitForPeers(t, tr2, 1)

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "payload.bin")
	if err := os.WriteFile(srcPath, []byte("the quick brown fox jumps over the lazy dog"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := n1.SendFile(ctx, srcPath, "received/payload.bin"); err != nil {
		t.Fatalf("SendFile: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		sink2.mu.Lock()
		n := len(sink2.assembled)
		sink2.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("n2 never assembled the file")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNodeObservedState(t *testing.T) {
	net := NewSimNetwork()
	tr := net.NewTransport("n1", 4)
	n := NewNode("n1", fastTestConfig(t.TempDir()), tr, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Stop()

	st := n.ObservedState()
	if st.State != "Running" {
		t.Fatalf("ObservedState().State = %q, want Running", st.State)
	}
}

func TestNodeRejectsInvalidConfig(t *testing.T) {
	net := NewSimNetwork()
	tr := net.NewTransport("n1", 4)
	cfg := DefaultConfig()
	cfg.TargetConnections = 0
	sink := &collectingSink{}
	n := NewNode("n1", cfg, tr, sink, nil)

	if err := n.Start(context.Background()); err == nil {
		t.Fatal("expected Start to reject an invalid configuration")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.errors) != 1 || sink.errors[0] != KindConfigurationInvalid {
		t.Fatalf("errors = %v, want [ConfigurationInvalid]", sink.errors)
	}
}

func waitForPeers(t *testing.T, tr *Simulator, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if tr.ConnectedPeers().Len() >= want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("%s never reached %d connected peers", tr.id, want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
