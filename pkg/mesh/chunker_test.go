package mesh

import (
	"bytes"
	"context"
	"crypto/rand"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir string, size int) string {
	t.Helper()
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	path := filepath.Join(dir, "source.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func drainChunks(t *testing.T, out <-chan *NetworkMessage, errc <-chan error) []*NetworkMessage {
	t.Helper()
	var msgs []*NetworkMessage
	for out != nil || errc != nil {
		select {
		case m, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			msgs = append(msgs, m)
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			if err != nil {
				t.Fatalf("chunk stream error: %v", err)
			}
		}
	}
	return msgs
}

func TestChunkAndReassembleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := writeTempFile(t, dir, 40000)
	original, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	out, errc := ChunkFile(context.Background(), src, "incoming/dest.bin", 4096)
	msgs := drainChunks(t, out, errc)

	wantChunks := int(math.Ceil(float64(len(original)) / 4096))
	if len(msgs) != wantChunks {
		t.Fatalf("got %d chunk messages, want %d", len(msgs), wantChunks)
	}

	var assembled []byte
	var fileID string
	for _, m := range msgs {
		if m.FileChunk == nil {
			t.Fatalf("message %+v has no file chunk", m)
		}
		fileID = m.FileChunk.FileID
	}

	var gotDigest []byte
	var gotPath string
	r := NewReassembler(dir, time.Minute, nil, func(destinationPath, id string, digest []byte) {
		gotPath = destinationPath
		gotDigest = digest
		_ = id
	}, func(kind ErrorKind, msg string) {
		t.Fatalf("unexpected onError(%s, %s)", kind, msg)
	})

	// deliver out of order
	for i := len(msgs) - 1; i >= 0; i-- {
		if err := r.AddChunk(*msgs[i].FileChunk); err != nil {
			t.Fatalf("AddChunk: %v", err)
		}
	}

	if gotPath == "" {
		t.Fatal("reassembly never completed")
	}
	assembled, err = os.ReadFile(gotPath)
	if err != nil {
		t.Fatalf("ReadFile(assembled): %v", err)
	}
	if !bytes.Equal(assembled, original) {
		t.Fatal("reassembled bytes do not match original")
	}
	if len(gotDigest) == 0 {
		t.Fatal("expected a non-empty integrity digest")
	}
	if fileID == "" {
		t.Fatal("expected a non-empty fileId")
	}
}

func TestReassemblerIdempotentByIndex(t *testing.T) {
	dir := t.TempDir()
	var completions int
	r := NewReassembler(dir, time.Minute, nil, func(string, string, []byte) {
		completions++
	}, nil)

	chunk := FileChunk{FileID: "f1", DestinationPath: "a.bin", ChunkIndex: 0, TotalChunks: 1, Data: []byte("hello")}
	if err := r.AddChunk(chunk); err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	if completions != 1 {
		t.Fatalf("completions = %d, want 1", completions)
	}

	// Re-delivering an index while the transfer is pending keeps the first copy.
	first := FileChunk{FileID: "f2", DestinationPath: "b.bin", ChunkIndex: 0, TotalChunks: 2, Data: []byte("hel")}
	if err := r.AddChunk(first); err != nil {
		t.Fatalf("AddChunk(first): %v", err)
	}
	dup := first
	dup.Data = []byte("XXX")
	if err := r.AddChunk(dup); err != nil {
		t.Fatalf("AddChunk(dup): %v", err)
	}
	if completions != 1 {
		t.Fatalf("completions after duplicate index = %d, want 1", completions)
	}
	if err := r.AddChunk(FileChunk{FileID: "f2", DestinationPath: "b.bin", ChunkIndex: 1, TotalChunks: 2, Data: []byte("lo")}); err != nil {
		t.Fatalf("AddChunk(last): %v", err)
	}
	if completions != 2 {
		t.Fatalf("completions = %d, want 2", completions)
	}
	got, err := os.ReadFile(filepath.Join(dir, "b.bin"))
	if err != nil {
		t.Fatalf("ReadFile(assembled): %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("assembled = %q, want %q", got, "hello")
	}
}

func TestReassemblerRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	r := NewReassembler(dir, time.Minute, nil, nil, nil)
	chunk := FileChunk{FileID: "f1", DestinationPath: "../../etc/passwd", ChunkIndex: 0, TotalChunks: 1, Data: []byte("x")}
	if err := r.AddChunk(chunk); err == nil {
		t.Fatal("expected an unsafe destination path error")
	}
}

func TestReassemblerSweepsExpired(t *testing.T) {
	dir := t.TempDir()
	r := NewReassembler(dir, 10*time.Millisecond, nil, nil, nil)
	chunk := FileChunk{FileID: "f1", DestinationPath: "a.bin", ChunkIndex: 0, TotalChunks: 2, Data: []byte("x")}
	if err := r.AddChunk(chunk); err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	if r.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", r.PendingCount())
	}
	time.Sleep(30 * time.Millisecond)
	r.SweepExpired()
	if r.PendingCount() != 0 {
		t.Fatalf("PendingCount after sweep = %d, want 0", r.PendingCount())
	}
}

func TestChunkEmptyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "empty.bin")
	if err := os.WriteFile(src, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	out, errc := ChunkFile(context.Background(), src, "incoming/empty.bin", 4096)
	msgs := drainChunks(t, out, errc)
	if len(msgs) != 1 {
		t.Fatalf("got %d chunk messages for empty file, want 1", len(msgs))
	}
	if msgs[0].FileChunk.TotalChunks != 1 || len(msgs[0].FileChunk.Data) != 0 {
		t.Fatalf("unexpected empty-file chunk: %+v", msgs[0].FileChunk)
	}
}
