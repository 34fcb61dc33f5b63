package mesh

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

// DefaultChunkSize is the default size of one FileChunk's Data in bytes.
const DefaultChunkSize = 16 * 1024

// ChunkFile opens sourcePath and emits a lazy, finite, not-restartable
// sequence of NetworkMessages, each wrapping one FileChunk of at most
// chunkSize bytes, all sharing the same content-addressed fileId. The
// returned channel is closed after the last chunk or the first error; at
// most one error is ever sent on the error channel.
//
// chunkSize <= 0 selects DefaultChunkSize.
func ChunkFile(ctx context.Context, sourcePath, destinationPath string, chunkSize int) (<-chan *NetworkMessage, <-chan error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	out := make(chan *NetworkMessage)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		fileID, _, err := NewFileID(sourcePath)
		if err != nil {
			errc <- err
			return
		}

		f, err := os.Open(sourcePath)
		if err != nil {
			errc <- fmt.Errorf("mesh: open %s: %w", sourcePath, err)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			errc <- fmt.Errorf("mesh: stat %s: %w", sourcePath, err)
			return
		}
		totalChunks := int((info.Size() + int64(chunkSize) - 1) / int64(chunkSize))
		if totalChunks == 0 {
			// An empty file still transfers as one zero-length chunk so the
			// receiver observes a complete (if empty) reassembly.
			select {
			case out <- &NetworkMessage{
				MessageID: uuid.NewString(),
				HopCount:  0,
				FileChunk: &FileChunk{
					FileID: fileID, DestinationPath: destinationPath,
					ChunkIndex: 0, TotalChunks: 1, Data: []byte{},
				},
			}:
			case <-ctx.Done():
				errc <- ctx.Err()
			}
			return
		}

		buf := make([]byte, chunkSize)
		for index := 0; ; index++ {
			n, readErr := io.ReadFull(f, buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				msg := &NetworkMessage{
					MessageID: uuid.NewString(),
					HopCount:  0,
					FileChunk: &FileChunk{
						FileID:          fileID,
						DestinationPath: destinationPath,
						ChunkIndex:      index,
						TotalChunks:     totalChunks,
						Data:            data,
					},
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				return
			}
			if readErr != nil {
				errc <- fmt.Errorf("mesh: read %s: %w", sourcePath, readErr)
				return
			}
			if n == 0 {
				return
			}
		}
	}()

	return out, errc
}
