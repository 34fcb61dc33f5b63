package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// pendingFile tracks the chunks received so far for one in-flight transfer.
type pendingFile struct {
	fileID          string
	destinationPath string
	totalChunks     int
	chunks          map[int][]byte
	lastUpdate      time.Time
}

func (p *pendingFile) complete() bool {
	return len(p.chunks) == p.totalChunks
}

func (p *pendingFile) assemble() []byte {
	out := make([]byte, 0, p.totalChunks*DefaultChunkSize)
	for i := 0; i < p.totalChunks; i++ {
		out = append(out, p.chunks[i]...)
	}
	return out
}

// Reassembler accumulates FileChunks keyed by fileId and writes the
// completed file to cacheRoot/destinationPath once every index has arrived.
// It owns no state shared with any other component; the Dispatcher is its
// only caller.
type Reassembler struct {
	cacheRoot string
	ttl       time.Duration
	metrics   *Metrics
	now       func() time.Time

	onAssembled func(destinationPath, fileID string, digest []byte)
	onError     func(kind ErrorKind, message string)

	mu      sync.Mutex
	pending map[string]*pendingFile
}

// NewReassembler constructs a Reassembler rooted at cacheRoot. ttl is the
// idle expiry for a partially-received transfer; onAssembled and onError
// are nil-safe callbacks invoked outside any internal lock.
func NewReassembler(cacheRoot string, ttl time.Duration, metrics *Metrics, onAssembled func(string, string, []byte), onError func(ErrorKind, string)) *Reassembler {
	return &Reassembler{
		cacheRoot:   cacheRoot,
		ttl:         ttl,
		metrics:     metrics,
		now:         time.Now,
		onAssembled: onAssembled,
		onError:     onError,
		pending:     make(map[string]*pendingFile),
	}
}

// resolveDestination validates destinationPath and returns its absolute
// form under cacheRoot, rejecting any path that would escape it. The
// escape check runs on the path as given, before any join with cacheRoot
// normalizes the evidence away.
func (r *Reassembler) resolveDestination(destinationPath string) (string, error) {
	if filepath.IsAbs(destinationPath) {
		return "", fmt.Errorf("mesh: %q is an absolute path: %w", destinationPath, ErrUnsafeDestinationPath)
	}
	clean := filepath.Clean(destinationPath)
	if clean == "" || clean == "." {
		return "", fmt.Errorf("mesh: empty destination path: %w", ErrUnsafeDestinationPath)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("mesh: %q escapes cache root %q: %w", destinationPath, r.cacheRoot, ErrUnsafeDestinationPath)
	}
	return filepath.Join(r.cacheRoot, clean), nil
}

// AddChunk ingests one FileChunk, assembling and writing the file to disk
// once all of its indices have arrived. While a transfer is pending,
// AddChunk is idempotent by index: re-delivering an already-seen index is a
// no-op. A completed transfer's entry is removed, so a chunk for that fileId
// arriving afterwards starts a new pending transfer; for a one-chunk file
// that writes the file and calls onAssembled again.
func (r *Reassembler) AddChunk(chunk FileChunk) error {
	full, err := r.resolveDestination(chunk.DestinationPath)
	if err != nil {
		r.surfaceError(KindUnsafeDestinationPath, err.Error())
		return err
	}

	r.mu.Lock()
	pf, ok := r.pending[chunk.FileID]
	if !ok {
		pf = &pendingFile{
			fileID:          chunk.FileID,
			destinationPath: full,
			totalChunks:     chunk.TotalChunks,
			chunks:          make(map[int][]byte),
		}
		r.pending[chunk.FileID] = pf
	}
	if _, seen := pf.chunks[chunk.ChunkIndex]; !seen {
		pf.chunks[chunk.ChunkIndex] = chunk.Data
	}
	pf.lastUpdate = r.now()
	complete := pf.complete()
	if complete {
		delete(r.pending, chunk.FileID)
	}
	r.mu.Unlock()

	if !complete {
		return nil
	}
	return r.finish(pf)
}

func (r *Reassembler) finish(pf *pendingFile) error {
	data := pf.assemble()
	if err := os.MkdirAll(filepath.Dir(pf.destinationPath), 0o755); err != nil {
		return r.failWrite(pf, err)
	}
	tmp := pf.destinationPath + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return r.failWrite(pf, err)
	}
	if err := os.Rename(tmp, pf.destinationPath); err != nil {
		os.Remove(tmp)
		return r.failWrite(pf, err)
	}

	digest, err := digestFile(pf.destinationPath)
	if err != nil {
		slog.Warn("reassembled file could not be re-hashed for integrity metadata", "path", pf.destinationPath, "error", err)
	}
	if r.metrics != nil {
		r.metrics.ReassemblyCompletedTotal.Inc()
	}
	if r.onAssembled != nil {
		r.onAssembled(pf.destinationPath, pf.fileID, digest)
	}
	return nil
}

func (r *Reassembler) failWrite(pf *pendingFile, cause error) error {
	err := fmt.Errorf("mesh: write %s: %w: %v", pf.destinationPath, ErrFileWriteFailed, cause)
	if r.metrics != nil {
		r.metrics.ReassemblyFailedTotal.Inc()
	}
	r.surfaceError(KindFileWriteFailed, err.Error())
	return err
}

func (r *Reassembler) surfaceError(kind ErrorKind, message string) {
	if r.onError != nil {
		r.onError(kind, message)
	}
}

// SweepExpired drops any pending transfer that has been idle longer than
// ttl, so a never-completed transfer does not hold memory forever.
func (r *Reassembler) SweepExpired() {
	cutoff := r.now().Add(-r.ttl)
	var expired []string

	r.mu.Lock()
	for id, pf := range r.pending {
		if pf.lastUpdate.Before(cutoff) {
			expired = append(expired, id)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		slog.Debug("dropping expired pending file reassembly", "fileId", id)
		if r.metrics != nil {
			r.metrics.ReassemblyExpiredTotal.Inc()
		}
	}
}

// RunSweeper runs SweepExpired on interval until ctx is cancelled. It is a
// standalone lifecycle, not one of the TopologyOptimizer's six tasks: the
// Reassembler is independently owned by the Node.
func (r *Reassembler) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.SweepExpired()
		}
	}
}

// PendingCount reports how many transfers are currently in flight, for
// diagnostics and tests.
func (r *Reassembler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
