package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/localmesh/core/pkg/mesh"
)

// checkConfigFilePermissions rejects a config file that group or other can
// read. The identity key file's path lives in this config, so a leaked
// config is as sensitive as a leaked key file.
func checkConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil // let the caller's own os.ReadFile report access errors
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return fmt.Errorf("config file %s is readable by group/other (mode %04o); run chmod 600 %s", path, mode, path)
	}
	return nil
}

// Load reads, validates, and defaults a NodeConfig from a YAML file at path.
func Load(path string) (*NodeConfig, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, err)
	}

	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Version > CurrentConfigVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d; please upgrade localmesh", ErrConfigVersionTooNew, cfg.Version, CurrentConfigVersion)
	}

	applyDefaults(&cfg)

	if cfg.Identity.KeyFile != "" && !filepath.IsAbs(cfg.Identity.KeyFile) {
		cfg.Identity.KeyFile = filepath.Join(filepath.Dir(path), cfg.Identity.KeyFile)
	}

	return &cfg, nil
}

// DefaultNodeConfig returns the tunable defaults named in the topology and
// envelope designs, expressed as the human-readable strings this package's
// YAML shape uses.
func DefaultNodeConfig() NodeConfig {
	d := mesh.DefaultConfig()
	return NodeConfig{
		Version:  CurrentConfigVersion,
		Identity: IdentityConfig{KeyFile: "identity.key"},
		Topology: TopologyConfig{
			TargetConnections: d.TargetConnections,
			MaxConnections:    d.MaxConnections,

			GossipInterval:   d.GossipInterval.String(),
			RewiringInterval: d.RewiringInterval.String(),
			RewiringCooldown: d.RewiringCooldown.String(),

			IslandDiscoveryInitialDelay: d.IslandDiscoveryInitialDelay.String(),
			IslandDiscoveryInterval:     d.IslandDiscoveryInterval.String(),

			HopCountTTL:             d.HopCountTTL.String(),
			HopCountCleanupInterval: d.HopCountCleanupInterval.String(),

			SeenMessageTTL:  d.SeenMessageTTL.String(),
			MaxSeenMessages: d.MaxSeenMessages,
		},
		FileTransfer: FileTransferConfig{
			ChunkSizeBytes:    fmt.Sprintf("%dB", d.ChunkSize),
			FileReassemblyTTL: d.FileReassemblyTTL.String(),
			CacheRoot:         d.CacheRoot,
		},
		Envelope: EnvelopeConfig{
			MaxFrameSizeBytes: fmt.Sprintf("%dB", d.MaxFrameSize),
			Compress:          d.Compress,
		},
	}
}

// applyDefaults fills zero-valued fields with the defaults named in
// DefaultNodeConfig, matching the teacher's applyRelayResourceDefaults
// convention of only ever overwriting the zero value.
func applyDefaults(cfg *NodeConfig) {
	defaults := DefaultNodeConfig()

	if cfg.Topology.TargetConnections == 0 {
		cfg.Topology.TargetConnections = defaults.Topology.TargetConnections
	}
	if cfg.Topology.MaxConnections == 0 {
		cfg.Topology.MaxConnections = defaults.Topology.MaxConnections
	}
	if cfg.Topology.GossipInterval == "" {
		cfg.Topology.GossipInterval = defaults.Topology.GossipInterval
	}
	if cfg.Topology.RewiringInterval == "" {
		cfg.Topology.RewiringInterval = defaults.Topology.RewiringInterval
	}
	if cfg.Topology.RewiringCooldown == "" {
		cfg.Topology.RewiringCooldown = defaults.Topology.RewiringCooldown
	}
	if cfg.Topology.IslandDiscoveryInitialDelay == "" {
		cfg.Topology.IslandDiscoveryInitialDelay = defaults.Topology.IslandDiscoveryInitialDelay
	}
	if cfg.Topology.IslandDiscoveryInterval == "" {
		cfg.Topology.IslandDiscoveryInterval = defaults.Topology.IslandDiscoveryInterval
	}
	if cfg.Topology.HopCountTTL == "" {
		cfg.Topology.HopCountTTL = defaults.Topology.HopCountTTL
	}
	if cfg.Topology.HopCountCleanupInterval == "" {
		cfg.Topology.HopCountCleanupInterval = defaults.Topology.HopCountCleanupInterval
	}
	if cfg.Topology.SeenMessageTTL == "" {
		cfg.Topology.SeenMessageTTL = defaults.Topology.SeenMessageTTL
	}
	if cfg.Topology.MaxSeenMessages == 0 {
		cfg.Topology.MaxSeenMessages = defaults.Topology.MaxSeenMessages
	}
	if cfg.FileTransfer.ChunkSizeBytes == "" {
		cfg.FileTransfer.ChunkSizeBytes = defaults.FileTransfer.ChunkSizeBytes
	}
	if cfg.FileTransfer.FileReassemblyTTL == "" {
		cfg.FileTransfer.FileReassemblyTTL = defaults.FileTransfer.FileReassemblyTTL
	}
	if cfg.FileTransfer.CacheRoot == "" {
		cfg.FileTransfer.CacheRoot = defaults.FileTransfer.CacheRoot
	}
	if cfg.Envelope.MaxFrameSizeBytes == "" {
		cfg.Envelope.MaxFrameSizeBytes = defaults.Envelope.MaxFrameSizeBytes
	}
	if cfg.Identity.KeyFile == "" {
		cfg.Identity.KeyFile = defaults.Identity.KeyFile
	}
	if cfg.Telemetry.Metrics.Enabled && cfg.Telemetry.Metrics.ListenAddress == "" {
		cfg.Telemetry.Metrics.ListenAddress = "127.0.0.1:9091"
	}
}

// ToMeshConfig parses every human-readable duration and size field and
// returns the mesh.Config the core operates on. It also runs
// mesh.Config.Validate on the result, so a config that breaks the topology
// invariants is rejected here, wrapped in ErrConfigInvalid.
func (cfg *NodeConfig) ToMeshConfig() (mesh.Config, error) {
	out := mesh.DefaultConfig()
	out.TargetConnections = cfg.Topology.TargetConnections
	out.MaxConnections = cfg.Topology.MaxConnections
	out.MaxSeenMessages = cfg.Topology.MaxSeenMessages
	out.CacheRoot = cfg.FileTransfer.CacheRoot
	out.Compress = cfg.Envelope.Compress

	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"topology.gossip_interval", cfg.Topology.GossipInterval, &out.GossipInterval},
		{"topology.rewiring_interval", cfg.Topology.RewiringInterval, &out.RewiringInterval},
		{"topology.rewiring_cooldown", cfg.Topology.RewiringCooldown, &out.RewiringCooldown},
		{"topology.island_discovery_initial_delay", cfg.Topology.IslandDiscoveryInitialDelay, &out.IslandDiscoveryInitialDelay},
		{"topology.island_discovery_interval", cfg.Topology.IslandDiscoveryInterval, &out.IslandDiscoveryInterval},
		{"topology.hop_count_ttl", cfg.Topology.HopCountTTL, &out.HopCountTTL},
		{"topology.hop_count_cleanup_interval", cfg.Topology.HopCountCleanupInterval, &out.HopCountCleanupInterval},
		{"topology.seen_message_ttl", cfg.Topology.SeenMessageTTL, &out.SeenMessageTTL},
		{"file_transfer.file_reassembly_ttl", cfg.FileTransfer.FileReassemblyTTL, &out.FileReassemblyTTL},
	}
	for _, d := range durations {
		if d.src == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return mesh.Config{}, fmt.Errorf("%w: %s: %s", ErrConfigInvalid, d.name, err)
		}
		*d.dst = parsed
	}

	if cfg.FileTransfer.ChunkSizeBytes != "" {
		n, err := ParseDataSize(cfg.FileTransfer.ChunkSizeBytes)
		if err != nil {
			return mesh.Config{}, fmt.Errorf("%w: file_transfer.chunk_size: %s", ErrConfigInvalid, err)
		}
		out.ChunkSize = int(n)
	}
	if cfg.Envelope.MaxFrameSizeBytes != "" {
		n, err := ParseDataSize(cfg.Envelope.MaxFrameSizeBytes)
		if err != nil {
			return mesh.Config{}, fmt.Errorf("%w: envelope.max_frame_size: %s", ErrConfigInvalid, err)
		}
		out.MaxFrameSize = int(n)
	}

	if err := out.Validate(); err != nil {
		return mesh.Config{}, fmt.Errorf("%w: %s", ErrConfigInvalid, err)
	}
	return out, nil
}

// FindConfigFile searches for a localmesh config file in standard locations.
// Search order: explicitPath (if given), ./localmesh.yaml,
// ~/.config/localmesh/config.yaml, /etc/localmesh/config.yaml.
func FindConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicitPath)
		}
		return explicitPath, nil
	}

	searchPaths := []string{"localmesh.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "localmesh", "config.yaml"))
	}
	searchPaths = append(searchPaths, filepath.Join("/etc", "localmesh", "config.yaml"))

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w; searched:\n  %s\n\nRun 'localmesh init' to create one, or use --config <path>", ErrConfigNotFound, strings.Join(searchPaths, "\n  "))
}

// DefaultConfigDir returns the default localmesh config directory
// (~/.config/localmesh).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "localmesh"), nil
}

// ParseDataSize parses a human-readable data size string (e.g., "128KB",
// "64MB", "16KB") and returns the value in bytes. Supported suffixes: B, KB,
// MB, GB (case-insensitive).
func ParseDataSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty data size")
	}

	upper := strings.ToUpper(s)
	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(upper, "GB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "B"):
		numStr = strings.TrimSuffix(upper, "B")
	default:
		numStr = upper
	}

	numStr = strings.TrimSpace(numStr)
	val, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid data size %q: %w", s, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("data size must be non-negative: %s", s)
	}
	return val * multiplier, nil
}
