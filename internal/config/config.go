package config

// CurrentConfigVersion is the latest configuration schema version. Bump
// this when adding fields that require migration.
const CurrentConfigVersion = 1

// NodeConfig is the top-level configuration for a localmesh node.
type NodeConfig struct {
	Version      int                `yaml:"version,omitempty"`
	Identity     IdentityConfig     `yaml:"identity"`
	Topology     TopologyConfig     `yaml:"topology"`
	FileTransfer FileTransferConfig `yaml:"file_transfer"`
	Envelope     EnvelopeConfig     `yaml:"envelope,omitempty"`
	Telemetry    TelemetryConfig    `yaml:"telemetry,omitempty"`
}

// IdentityConfig controls where the node's stable NodeId is persisted.
type IdentityConfig struct {
	KeyFile string `yaml:"key_file"`
}

// TopologyConfig holds the TopologyOptimizer's tunables. Durations are kept
// as strings by Load and parsed by NodeConfig.ToMeshConfig (see loader.go),
// the same convention the teacher's config package uses for human-written
// interval fields.
type TopologyConfig struct {
	TargetConnections int `yaml:"target_connections"`
	MaxConnections    int `yaml:"max_connections"`

	GossipInterval   string `yaml:"gossip_interval"`
	RewiringInterval string `yaml:"rewiring_interval"`
	RewiringCooldown string `yaml:"rewiring_cooldown"`

	IslandDiscoveryInitialDelay string `yaml:"island_discovery_initial_delay"`
	IslandDiscoveryInterval     string `yaml:"island_discovery_interval"`

	HopCountTTL             string `yaml:"hop_count_ttl"`
	HopCountCleanupInterval string `yaml:"hop_count_cleanup_interval"`

	SeenMessageTTL  string `yaml:"seen_message_ttl,omitempty"`
	MaxSeenMessages int    `yaml:"max_seen_messages"`
}

// FileTransferConfig holds the Chunker/Reassembler's tunables.
type FileTransferConfig struct {
	// ChunkSizeBytes is a human-readable size such as "16KB" or "1MB".
	ChunkSizeBytes    string `yaml:"chunk_size"`
	FileReassemblyTTL string `yaml:"file_reassembly_ttl"`
	CacheRoot         string `yaml:"cache_root"`
}

// EnvelopeConfig holds wire-format tunables.
type EnvelopeConfig struct {
	// MaxFrameSizeBytes is a human-readable size such as "256KB".
	MaxFrameSizeBytes string `yaml:"max_frame_size,omitempty"`
	Compress          bool   `yaml:"compress,omitempty"`
}

// TelemetryConfig holds observability settings. Disabled by default.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// MetricsConfig controls Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"` // default: "127.0.0.1:9091"
}
