// Package identity persists the stable NodeId a localmesh node presents to
// its peers across restarts.
package identity

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/localmesh/core/pkg/mesh"
)

// CheckKeyFilePermissions rejects a NodeId key file that group or other can
// read.
func CheckKeyFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil // POSIX permission bits don't apply
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat key file %s: %w", path, err)
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return fmt.Errorf("key file %s is readable by group/other (mode %04o); run chmod 600 %s", path, mode, path)
	}
	return nil
}

// LoadOrCreateNodeID loads the NodeId persisted at path, or generates and
// persists a fresh one if the file does not exist yet. Unlike a keypair, a
// NodeId carries no cryptographic material — it is an opaque random label
// mesh messages use to name hops and peers — but it is still persisted with
// the same permission discipline as a credential, since a duplicated NodeId
// would corrupt neighbor-list and hop-record bookkeeping across restarts.
func LoadOrCreateNodeID(path string) (mesh.NodeID, error) {
	if data, err := os.ReadFile(path); err == nil {
		if err := CheckKeyFilePermissions(path); err != nil {
			return "", err
		}
		id := strings.TrimSpace(string(data))
		if id == "" {
			return "", fmt.Errorf("node id file %s is empty", path)
		}
		return mesh.NodeID(id), nil
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0600); err != nil {
		return "", fmt.Errorf("failed to save node id to %s: %w", path, err)
	}
	return mesh.NodeID(id), nil
}
