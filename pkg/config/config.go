// Package config loads the node's Configuration from a YAML file on disk,
// applies environment variable overrides, and clamps values to sane
// bounds so a node never starts with a configuration that would wedge it.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration is the full set of tunables a node reads at startup.
// Zero-value fields are filled in by Default and then overridden by the
// YAML file and environment, in that order.
type Configuration struct {
	NodeID   string `yaml:"node_id"`
	BindAddr string `yaml:"bind_addr"`
	DataDir  string `yaml:"data_dir"`

	Cluster ClusterConfig `yaml:"cluster"`
	Storage StorageConfig `yaml:"storage"`
	Consensus ConsensusConfig `yaml:"consensus"`
	Replication ReplicationConfig `yaml:"replication"`
	Security SecurityConfig `yaml:"security"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log LogConfig `yaml:"log"`
	Query QueryConfig `yaml:"query"`
}

// ClusterConfig describes how this node finds and joins its peers. Peer
// entries and their signing keys are configured statically (a peer
// key-exchange or join-token protocol is out of scope for this engine) —
// the same "initial-cluster" model etcd uses for statically-sized
// clusters.
type ClusterConfig struct {
	Peers            []string          `yaml:"peers"`             // "peerID@host:port" entries, self excluded
	PeerPublicKeys   map[string]string `yaml:"peer_public_keys"`  // peerID -> hex-encoded Ed25519 public key
	ShardingStrategy string            `yaml:"sharding_strategy"` // ConsistentHash | Range | RandomAssignment
	VirtualNodes     int               `yaml:"virtual_nodes"`
	RaftBindAddr     string            `yaml:"raft_bind_addr"` // hashicorp/raft's own transport; defaults to bind_addr's host on the next port
}

// StorageConfig sizes the four storage tiers.
type StorageConfig struct {
	HotCapacityBytes     int64  `yaml:"hot_capacity_bytes"`
	WarmCapacityBytes    int64  `yaml:"warm_capacity_bytes"`
	WarmDir              string `yaml:"warm_dir"`
	ColdDir              string `yaml:"cold_dir"`
	ArchiveDir           string `yaml:"archive_dir"`
	CompressionAlgorithm string `yaml:"compression_algorithm"` // fast | balanced | dense | none
	PromotionThreshold   int    `yaml:"promotion_threshold"`
	DemotionAfter        time.Duration `yaml:"demotion_after"`
}

// ConsensusConfig selects and tunes the consensus algorithm, matching the
// {algorithm, byzantine_tolerance, timeout, max_batch_size,
// conflict_resolution} tuple. HeartbeatInterval/ElectionTimeout/
// CommitTimeout/LeaderLeaseTimeout are loaded but not passed to the Raft
// variant, which runs on raftengine's own fixed timings;
// ByzantineTolerance/Timeout/MaxBatchSize/ConflictResolution are
// consensus.Config's and apply to the Byzantine/AsyncBFT variants
// instead.
type ConsensusConfig struct {
	Algorithm          string        `yaml:"algorithm"` // Byzantine | Raft | AsyncBFT
	ByzantineTolerance float64       `yaml:"byzantine_tolerance"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxBatchSize       int           `yaml:"max_batch_size"`
	ConflictResolution string        `yaml:"conflict_resolution"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	ElectionTimeout    time.Duration `yaml:"election_timeout"`
	CommitTimeout      time.Duration `yaml:"commit_timeout"`
	LeaderLeaseTimeout time.Duration `yaml:"leader_lease_timeout"`
}

// ReplicationConfig sets read/write quorum sizes.
type ReplicationConfig struct {
	ReplicationFactor int           `yaml:"replication_factor"` // N
	WriteQuorum       int           `yaml:"write_quorum"`       // W
	ReadQuorum        int           `yaml:"read_quorum"`        // R
	RepairInterval    time.Duration `yaml:"repair_interval"`
}

// SecurityConfig controls at-rest encryption and peer trust.
type SecurityConfig struct {
	EncryptionAtRest bool   `yaml:"encryption_at_rest"`
	ClusterSecret    string `yaml:"cluster_secret"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// QueryConfig bounds the query engine's scan/filter path and is surfaced
// verbatim in Stats() the way the original query_engine stats section
// reports its optimizer settings.
type QueryConfig struct {
	MaxConcurrentQueries  int           `yaml:"max_concurrent_queries"`
	ExecutionTimeout      time.Duration `yaml:"execution_timeout"`
	OptimizerEnabled      bool          `yaml:"optimizer_enabled"`
	CostBasedOptimization bool          `yaml:"cost_based_optimization"`
}

// Default returns a Configuration with every tunable set to a
// conservative, single-node-friendly default.
func Default() Configuration {
	return Configuration{
		BindAddr: "127.0.0.1:7420",
		DataDir:  "./data",
		Cluster: ClusterConfig{
			ShardingStrategy: "ConsistentHash",
			VirtualNodes:     128,
		},
		Storage: StorageConfig{
			HotCapacityBytes:     256 << 20,
			WarmCapacityBytes:    4 << 30,
			WarmDir:              "./data/warm",
			ColdDir:              "./data/cold",
			ArchiveDir:           "./data/archive",
			CompressionAlgorithm: "balanced",
			PromotionThreshold:   3,
			DemotionAfter:        24 * time.Hour,
		},
		Consensus: ConsensusConfig{
			Algorithm:          "Raft",
			ByzantineTolerance: 0.2,
			Timeout:            2 * time.Second,
			MaxBatchSize:       64,
			ConflictResolution: "last_writer_wins",
			HeartbeatInterval:  500 * time.Millisecond,
			ElectionTimeout:    500 * time.Millisecond,
			CommitTimeout:      50 * time.Millisecond,
			LeaderLeaseTimeout: 250 * time.Millisecond,
		},
		Replication: ReplicationConfig{
			ReplicationFactor: 3,
			WriteQuorum:       2,
			ReadQuorum:        1,
			RepairInterval:    time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9090",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
		Query: QueryConfig{
			MaxConcurrentQueries: 64,
			ExecutionTimeout:     5 * time.Second,
			OptimizerEnabled:     false,
			CostBasedOptimization: false,
		},
	}
}

// Load reads path as YAML over Default, applies AEROLITHDB_*
// environment overrides, clamps invariant-bearing fields, and returns
// the result. A missing path is not an error: Default applies unmodified
// except for environment overrides.
func Load(path string) (Configuration, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Configuration{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Configuration{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	clamp(&cfg)

	if cfg.NodeID == "" {
		return Configuration{}, fmt.Errorf("config: node_id is required")
	}
	return cfg, nil
}

// envOverrides maps AEROLITHDB_<KEY> to a setter applied over a parsed
// Configuration. Only the fields operators routinely need to override per
// deployment (without editing the checked-in YAML) are listed here.
var envOverrides = map[string]func(*Configuration, string){
	"AEROLITHDB_NODE_ID":   func(c *Configuration, v string) { c.NodeID = v },
	"AEROLITHDB_BIND_ADDR": func(c *Configuration, v string) { c.BindAddr = v },
	"AEROLITHDB_DATA_DIR":  func(c *Configuration, v string) { c.DataDir = v },
	"AEROLITHDB_PEERS": func(c *Configuration, v string) {
		c.Cluster.Peers = strings.Split(v, ",")
	},
	"AEROLITHDB_CONSENSUS_ALGORITHM": func(c *Configuration, v string) { c.Consensus.Algorithm = v },
	"AEROLITHDB_LOG_LEVEL":           func(c *Configuration, v string) { c.Log.Level = v },
	"AEROLITHDB_REPLICATION_FACTOR": func(c *Configuration, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			c.Replication.ReplicationFactor = n
		}
	},
}

func applyEnvOverrides(cfg *Configuration) {
	for key, set := range envOverrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			set(cfg, v)
		}
	}
}

// clamp enforces the invariants consensus and replication depend on: a
// quorum can never exceed the replication factor, and a write quorum of
// zero would make every write instantly "committed" with no durability
// guarantee at all.
func clamp(cfg *Configuration) {
	if cfg.Replication.ReplicationFactor < 1 {
		cfg.Replication.ReplicationFactor = 1
	}
	if cfg.Replication.WriteQuorum < 1 {
		cfg.Replication.WriteQuorum = 1
	}
	if cfg.Replication.WriteQuorum > cfg.Replication.ReplicationFactor {
		cfg.Replication.WriteQuorum = cfg.Replication.ReplicationFactor
	}
	if cfg.Replication.ReadQuorum < 1 {
		cfg.Replication.ReadQuorum = 1
	}
	if cfg.Replication.ReadQuorum > cfg.Replication.ReplicationFactor {
		cfg.Replication.ReadQuorum = cfg.Replication.ReplicationFactor
	}
	if cfg.Cluster.VirtualNodes < 1 {
		cfg.Cluster.VirtualNodes = 128
	}
	if cfg.Storage.PromotionThreshold < 1 {
		cfg.Storage.PromotionThreshold = 1
	}
	if cfg.Query.MaxConcurrentQueries < 1 {
		cfg.Query.MaxConcurrentQueries = 64
	}
	if cfg.Consensus.ByzantineTolerance <= 0 || cfg.Consensus.ByzantineTolerance >= 0.5 {
		cfg.Consensus.ByzantineTolerance = 0.2
	}
	if cfg.Consensus.MaxBatchSize < 1 {
		cfg.Consensus.MaxBatchSize = 64
	}
	if cfg.Cluster.RaftBindAddr == "" {
		cfg.Cluster.RaftBindAddr = deriveRaftBindAddr(cfg.BindAddr)
	}
}

// deriveRaftBindAddr picks hashicorp/raft's own transport address one port
// above bind_addr, the node's gRPC peer/client address — the two listeners
// are independent and must not collide when Consensus.Algorithm is Raft.
func deriveRaftBindAddr(bindAddr string) string {
	host, portStr, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return bindAddr
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return bindAddr
	}
	return net.JoinHostPort(host, strconv.Itoa(port+1))
}
