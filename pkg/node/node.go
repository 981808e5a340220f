package node

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aerolithdb/aerolithdb/pkg/codec"
	"github.com/aerolithdb/aerolithdb/pkg/conflict"
	"github.com/aerolithdb/aerolithdb/pkg/config"
	"github.com/aerolithdb/aerolithdb/pkg/consensus"
	"github.com/aerolithdb/aerolithdb/pkg/consensus/raftengine"
	"github.com/aerolithdb/aerolithdb/pkg/crypto"
	"github.com/aerolithdb/aerolithdb/pkg/events"
	"github.com/aerolithdb/aerolithdb/pkg/log"
	"github.com/aerolithdb/aerolithdb/pkg/metrics"
	"github.com/aerolithdb/aerolithdb/pkg/placement"
	"github.com/aerolithdb/aerolithdb/pkg/query"
	"github.com/aerolithdb/aerolithdb/pkg/reconciler"
	"github.com/aerolithdb/aerolithdb/pkg/replication"
	"github.com/aerolithdb/aerolithdb/pkg/sharding"
	"github.com/aerolithdb/aerolithdb/pkg/storage"
	"github.com/aerolithdb/aerolithdb/pkg/transport"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// Node owns every subsystem a running process needs and is the single
// object cmd/aerolithd constructs.
type Node struct {
	cfg      config.Configuration
	identity *crypto.NodeIdentity
	logger   zerolog.Logger
	startedAt time.Time

	hierarchy *storage.Hierarchy
	cold      *storage.ColdStore

	strategy sharding.Strategy

	consensusSvc  consensus.Service
	byzantine     *consensus.Engine    // non-nil only when Algorithm is Byzantine/AsyncBFT
	raft          *raftengine.Engine   // non-nil only when Algorithm is Raft
	consensusLog  *consensus.Log

	query *query.Engine

	transportClient *transport.Client
	transportServer *transport.Server
	replicationMgr  *replication.Manager
	conflictEngine  *conflict.Engine
	broker          *events.Broker
	reconciler      *reconciler.Reconciler
	placement       *placement.Placement
	metricsCollector *metrics.Collector

	peers []types.PeerID
}

// New bootstraps a Node from cfg in dependency order: identity first
// (every signed message and encryption key depends on it), then the
// storage hierarchy, then consensus (which needs
// the query engine as its Applier but the query engine needs consensus as
// its proposer — resolved by constructing query last and wiring it back
// into consensus's Applier slot), then the query engine itself, and
// finally the peer transport, replication, reconciliation, and placement
// loops that depend on all of the above already existing.
func New(cfg config.Configuration) (*Node, error) {
	logger := log.WithComponent("node")

	// 1. Identity.
	identity, err := crypto.LoadOrCreateWallet(cfg.DataDir, types.PeerID(cfg.NodeID))
	if err != nil {
		return nil, fmt.Errorf("node: load identity: %w", err)
	}

	// 2. Storage.
	hot, err := storage.NewHotStore(defaultHotEntries, cfg.Storage.HotCapacityBytes)
	if err != nil {
		return nil, fmt.Errorf("node: hot store: %w", err)
	}
	warm, err := storage.NewWarmStore(resolveDir(cfg.DataDir, cfg.Storage.WarmDir), cfg.Storage.WarmCapacityBytes)
	if err != nil {
		return nil, fmt.Errorf("node: warm store: %w", err)
	}
	cold, err := storage.NewColdStore(resolveDir(cfg.DataDir, cfg.Storage.ColdDir))
	if err != nil {
		return nil, fmt.Errorf("node: cold store: %w", err)
	}
	archive, err := storage.NewArchiveStore(resolveDir(cfg.DataDir, cfg.Storage.ArchiveDir))
	if err != nil {
		return nil, fmt.Errorf("node: archive store: %w", err)
	}
	hierarchy := storage.NewHierarchy(hot, warm, cold, archive, cfg.Storage.DemotionAfter, cfg.Storage.PromotionThreshold)

	strategy := newStrategy(cfg.Cluster)
	peers, err := parsePeers(cfg.NodeID, cfg.Cluster.Peers)
	if err != nil {
		return nil, fmt.Errorf("node: parse peers: %w", err)
	}
	strategy.AddPeer(cfg.NodeID)
	for _, p := range peers {
		if string(p) != cfg.NodeID {
			strategy.AddPeer(string(p))
		}
	}

	broker := events.NewBroker()
	conflictEngine := conflict.NewEngine(cfg.Consensus.ConflictResolution)

	transportClient := transport.NewClient()
	for _, entry := range cfg.Cluster.Peers {
		id, addr, err := splitPeerEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("node: %w", err)
		}
		transportClient.SetPeerAddress(types.PeerID(id), addr)
	}

	owners := func(key types.Key) []types.PeerID {
		shard := strategy.Shard(key.Collection, key.ID)
		raw := strategy.Owners(shard, cfg.Replication.ReplicationFactor)
		out := make([]types.PeerID, len(raw))
		for i, p := range raw {
			out[i] = types.PeerID(p)
		}
		return out
	}
	replicationMgr := replication.NewManager(cold, transportClient, owners, cfg.Replication.WriteQuorum)
	hierarchy.SetColdWriter(replicationMgr)

	var cipher *crypto.AtRestCipher
	if cfg.Security.EncryptionAtRest {
		key := crypto.DeriveAtRestKey(cfg.Security.ClusterSecret)
		cipher, err = crypto.NewAtRestCipher(key)
		if err != nil {
			return nil, fmt.Errorf("node: at-rest cipher: %w", err)
		}
	}

	// 3 & 4. Consensus and query are mutually referential (consensus needs
	// an Applier, query needs a consensus.Service to propose through), so
	// consensus is built first against a forwarding shim (applierSlot),
	// query is built next against the real consensus.Service, and the shim
	// is then pointed at the query.Engine.
	applierSlot := &applierHandle{}
	consensusSvc, byzantine, raftEngine, consensusLog, err := newConsensusService(cfg, identity, peers, applierSlot)
	if err != nil {
		return nil, fmt.Errorf("node: consensus: %w", err)
	}

	queryCfg := query.Config{
		MaxConcurrentQueries:  cfg.Query.MaxConcurrentQueries,
		ExecutionTimeout:      cfg.Query.ExecutionTimeout,
		OptimizerEnabled:      cfg.Query.OptimizerEnabled,
		CostBasedOptimization: cfg.Query.CostBasedOptimization,
	}
	codecCfg := codec.Config{Algorithm: codec.Algorithm(cfg.Storage.CompressionAlgorithm), Adaptive: true}
	queryEngine := query.New(types.PeerID(cfg.NodeID), consensusSvc, hierarchy, cold, conflictEngine, broker, cipher, codecCfg, queryCfg)
	applierSlot.set(queryEngine)

	transportServer := transport.NewServer(queryEngine)
	if byzantine != nil {
		byzantine.SetBroadcaster(transportClient)
		transportServer.SetConsensusReceiver(byzantine)
	}

	recon := reconciler.New(hierarchy, cold, replicationMgr, queryEngine.Collections, cfg.Replication.RepairInterval)
	place := placement.New(strategy, membershipSource(peers), queryEngine.Collections, cold, replicationMgr, cfg.Replication.ReplicationFactor, 15*time.Second)

	n := &Node{
		cfg:             cfg,
		identity:        identity,
		logger:          logger,
		startedAt:       time.Now(),
		hierarchy:       hierarchy,
		cold:            cold,
		strategy:        strategy,
		consensusSvc:    consensusSvc,
		byzantine:       byzantine,
		raft:            raftEngine,
		consensusLog:    consensusLog,
		query:           queryEngine,
		transportClient: transportClient,
		transportServer: transportServer,
		replicationMgr:  replicationMgr,
		conflictEngine:  conflictEngine,
		broker:          broker,
		reconciler:      recon,
		placement:       place,
		peers:           peers,
	}
	n.metricsCollector = metrics.NewCollector(n)
	return n, nil
}

const defaultHotEntries = 100_000

func resolveDir(dataDir, configured string) string {
	if configured == "" {
		return dataDir
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(dataDir, configured)
}

func newStrategy(cfg config.ClusterConfig) sharding.Strategy {
	if cfg.ShardingStrategy == "" || cfg.ShardingStrategy == "ConsistentHash" {
		return sharding.NewConsistentHash(cfg.VirtualNodes)
	}
	return sharding.New(cfg.ShardingStrategy)
}

// splitPeerEntry parses a "peerID@host:port" cluster.peers entry.
func splitPeerEntry(entry string) (id, addr string, err error) {
	parts := strings.SplitN(entry, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed peer entry %q, want \"peerID@host:port\"", entry)
	}
	return parts[0], parts[1], nil
}

func parsePeers(selfID string, entries []string) ([]types.PeerID, error) {
	peers := []types.PeerID{types.PeerID(selfID)}
	for _, entry := range entries {
		id, _, err := splitPeerEntry(entry)
		if err != nil {
			return nil, err
		}
		peers = append(peers, types.PeerID(id))
	}
	return peers, nil
}

func membershipSource(peers []types.PeerID) placement.MembershipSource {
	return func() []string {
		out := make([]string, len(peers))
		for i, p := range peers {
			out[i] = string(p)
		}
		return out
	}
}

// applierHandle lets query.Engine be constructed after the consensus
// Service it will serve as Applier for, by forwarding Apply calls to
// whatever Engine is set once construction finishes. Consensus never
// calls Apply before Propose is first called, and nothing proposes before
// New returns, so the indirection is only live during bootstrap.
type applierHandle struct {
	target interface{ Apply(op types.Operation) error }
}

func (a *applierHandle) set(target interface{ Apply(op types.Operation) error }) {
	a.target = target
}

func (a *applierHandle) Apply(op types.Operation) error {
	return a.target.Apply(op)
}

// newConsensusService builds the configured consensus algorithm's
// Service. peerKeys are taken from cfg.Cluster.PeerPublicKeys — a
// statically configured trust set, since this engine has no peer
// key-exchange protocol of its own (see DESIGN.md).
func newConsensusService(cfg config.Configuration, identity *crypto.NodeIdentity, peers []types.PeerID, applier consensus.Applier) (consensus.Service, *consensus.Engine, *raftengine.Engine, *consensus.Log, error) {
	algorithm := consensus.Algorithm(strings.ToLower(cfg.Consensus.Algorithm))

	if algorithm == consensus.Raft {
		raftEngine := raftengine.New(raftengine.Config{
			NodeID:       cfg.NodeID,
			BindAddr:     cfg.Cluster.RaftBindAddr,
			DataDir:      cfg.DataDir,
			MaxBatchSize: cfg.Consensus.MaxBatchSize,
			ApplyTimeout: cfg.Consensus.Timeout,
		}, applier)
		if len(peers) <= 1 {
			if err := raftEngine.Bootstrap(); err != nil {
				return nil, nil, nil, nil, fmt.Errorf("bootstrap raft: %w", err)
			}
		} else if err := raftEngine.Join(); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("join raft cluster: %w", err)
		}
		return raftEngine, nil, raftEngine, nil, nil
	}

	peerKeys, err := resolvePeerKeys(identity, cfg.Cluster.PeerPublicKeys)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	consensusLog, err := consensus.NewLog(filepath.Join(cfg.DataDir, "consensus-log.db"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("consensus log: %w", err)
	}
	engine := consensus.NewEngine(consensus.Config{
		Algorithm:          algorithm,
		ByzantineTolerance: cfg.Consensus.ByzantineTolerance,
		Timeout:            cfg.Consensus.Timeout,
		MaxBatchSize:       cfg.Consensus.MaxBatchSize,
		ConflictResolution: cfg.Consensus.ConflictResolution,
	}, types.PeerID(cfg.NodeID), peers, identity, peerKeys, applier, consensusLog)
	return engine, engine, nil, consensusLog, nil
}

// resolvePeerKeys hex-decodes cfg.Cluster.PeerPublicKeys and adds this
// node's own signing key under its own id, so a single-node cluster (no
// configured peers at all) still has a complete, self-consistent trust
// set.
func resolvePeerKeys(identity *crypto.NodeIdentity, configured map[string]string) (map[types.PeerID]ed25519.PublicKey, error) {
	out := make(map[types.PeerID]ed25519.PublicKey, len(configured)+1)
	out[identity.PeerID] = identity.SigningPublicKey
	for id, hexKey := range configured {
		raw, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("decode peer_public_keys[%s]: %w", id, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("peer_public_keys[%s]: want %d bytes, got %d", id, ed25519.PublicKeySize, len(raw))
		}
		out[types.PeerID(id)] = ed25519.PublicKey(raw)
	}
	return out, nil
}

// Start begins every background loop: the event broker, the consensus
// heartbeat (Byzantine/AsyncBFT only — Raft drives its own), the gRPC
// peer transport, replica reconciliation, and shard placement. It returns
// once the transport listener is up; Serve itself runs in a goroutine.
func (n *Node) Start(ctx context.Context) error {
	n.broker.Start()
	if n.byzantine != nil {
		n.byzantine.StartHeartbeat(ctx)
	}

	lis, err := net.Listen("tcp", n.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("node: listen %s: %w", n.cfg.BindAddr, err)
	}
	go func() {
		if err := n.transportServer.Serve(lis); err != nil {
			n.logger.Error().Err(err).Msg("transport server stopped")
		}
	}()

	n.reconciler.Start()
	n.placement.Start()
	if n.cfg.Metrics.Enabled {
		n.metricsCollector.Start()
	}

	n.logger.Info().Str("node_id", n.cfg.NodeID).Str("bind_addr", n.cfg.BindAddr).Msg("node started")
	return nil
}

// Shutdown stops every background loop and closes every on-disk store, in
// the reverse of Start's order.
func (n *Node) Shutdown() error {
	if n.cfg.Metrics.Enabled {
		n.metricsCollector.Stop()
	}
	n.placement.Stop()
	n.reconciler.Stop()
	n.transportServer.Stop()
	if err := n.transportClient.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("close transport client")
	}
	if n.byzantine != nil {
		n.byzantine.StopHeartbeat()
	}
	if n.raft != nil {
		if err := n.raft.Shutdown(); err != nil {
			n.logger.Warn().Err(err).Msg("shutdown raft")
		}
	}
	if n.consensusLog != nil {
		if err := n.consensusLog.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("close consensus log")
		}
	}
	n.broker.Stop()
	if err := n.hierarchy.Close(); err != nil {
		return fmt.Errorf("node: close storage: %w", err)
	}
	return nil
}
