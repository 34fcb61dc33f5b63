package mesh

import (
	"fmt"
	"io"
	"os"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
)

// blake3MulticodecCode is the multihash function code registered for
// BLAKE3 (variable-length output, used here at the default 256-bit digest).
const blake3MulticodecCode = 0x1e

// digestFile streams path through BLAKE3 without holding the whole file in
// memory, returning the 32-byte digest.
func digestFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mesh: open %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("mesh: hash %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

// fileIDFromDigest wraps a BLAKE3 digest in a multihash and derives a CIDv1
// string from it, giving each transfer a content-addressed FileID instead
// of a bare random token.
func fileIDFromDigest(digest []byte) (string, error) {
	mhash, err := mh.Encode(digest, blake3MulticodecCode)
	if err != nil {
		return "", fmt.Errorf("mesh: encode multihash: %w", err)
	}
	c := cid.NewCidV1(cid.Raw, mhash)
	return c.String(), nil
}

// NewFileID computes a content-addressed FileID for the file at path,
// along with the raw digest hex-independent of any particular encoding
// (callers that want the digest alone can use digestFile directly).
func NewFileID(path string) (id string, digest []byte, err error) {
	digest, err = digestFile(path)
	if err != nil {
		return "", nil, err
	}
	id, err = fileIDFromDigest(digest)
	if err != nil {
		return "", nil, err
	}
	return id, digest, nil
}
