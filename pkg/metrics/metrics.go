package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	PeersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aerolithdb_peers_total",
			Help: "Total number of known peers by status",
		},
		[]string{"status"},
	)

	CollectionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_collections_total",
			Help: "Total number of collections",
		},
	)

	DocumentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aerolithdb_documents_total",
			Help: "Total number of documents by collection",
		},
		[]string{"collection"},
	)

	// Consensus metrics
	ConsensusLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_consensus_is_leader",
			Help: "Whether this node currently holds the leadership role (1 = leader, 0 = follower)",
		},
	)

	ConsensusPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_consensus_peers_total",
			Help: "Total number of consensus peers in the cluster",
		},
	)

	ConsensusLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_consensus_log_index",
			Help: "Current consensus log index",
		},
	)

	ConsensusAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_consensus_applied_index",
			Help: "Last applied consensus log index",
		},
	)

	ConsensusViewChangesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aerolithdb_consensus_view_changes_total",
			Help: "Total number of view changes observed by this node",
		},
	)

	ConsensusBatchSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_consensus_batch_size",
			Help: "Current adaptive ceiling on operations per proposal batch",
		},
	)

	ByzantineEvidenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_byzantine_evidence_total",
			Help: "Total number of Byzantine evidence records raised, by kind",
		},
		[]string{"kind"},
	)

	// Query/transport metrics
	QueryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_query_requests_total",
			Help: "Total number of query engine operations by kind and status",
		},
		[]string{"operation", "status"},
	)

	QueryRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aerolithdb_query_request_duration_seconds",
			Help:    "Query engine operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Storage tier metrics
	TierPromotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_tier_promotions_total",
			Help: "Total number of objects promoted between storage tiers",
		},
		[]string{"from_tier", "to_tier"},
	)

	TierDemotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_tier_demotions_total",
			Help: "Total number of objects demoted between storage tiers",
		},
		[]string{"from_tier", "to_tier"},
	)

	TierObjectsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aerolithdb_tier_objects_total",
			Help: "Total number of objects resident in each storage tier",
		},
		[]string{"tier"},
	)

	CompressionRatio = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aerolithdb_compression_ratio",
			Help:    "Ratio of compressed size to original size for stored payloads",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	// Replication metrics
	ReplicationWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aerolithdb_replication_write_duration_seconds",
			Help:    "Time to reach write quorum for a replicated write",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplicationRepairTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aerolithdb_replication_repairs_total",
			Help: "Total number of replica repair operations performed",
		},
	)

	ReplicationLagSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aerolithdb_replication_lag_seconds",
			Help: "Estimated replication lag per peer, in seconds",
		},
		[]string{"peer"},
	)

	// Conflict resolution metrics
	ConflictsDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aerolithdb_conflicts_detected_total",
			Help: "Total number of concurrent-write conflicts detected",
		},
	)

	ConflictsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_conflicts_resolved_total",
			Help: "Total number of conflicts resolved, by strategy",
		},
		[]string{"strategy"},
	)

	// Consensus operation metrics
	ConsensusApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aerolithdb_consensus_apply_duration_seconds",
			Help:    "Time taken to apply a committed entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConsensusCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aerolithdb_consensus_commit_duration_seconds",
			Help:    "Time taken to commit a proposal in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aerolithdb_reconciliation_duration_seconds",
			Help:    "Time taken for a replica convergence cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aerolithdb_reconciliation_cycles_total",
			Help: "Total number of replica convergence cycles completed",
		},
	)

	// Placement metrics
	ClusterMembershipChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_cluster_membership_changes_total",
			Help: "Total number of peers observed joining or leaving the shard map",
		},
		[]string{"change"},
	)

	ShardMigrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_shard_migrations_total",
			Help: "Total number of keys re-replicated after their owning peer set changed",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(PeersTotal)
	prometheus.MustRegister(CollectionsTotal)
	prometheus.MustRegister(DocumentsTotal)
	prometheus.MustRegister(ConsensusLeader)
	prometheus.MustRegister(ConsensusPeers)
	prometheus.MustRegister(ConsensusLogIndex)
	prometheus.MustRegister(ConsensusAppliedIndex)
	prometheus.MustRegister(ConsensusViewChangesTotal)
	prometheus.MustRegister(ConsensusBatchSize)
	prometheus.MustRegister(ByzantineEvidenceTotal)
	prometheus.MustRegister(QueryRequestsTotal)
	prometheus.MustRegister(QueryRequestDuration)
	prometheus.MustRegister(TierPromotionsTotal)
	prometheus.MustRegister(TierDemotionsTotal)
	prometheus.MustRegister(TierObjectsTotal)
	prometheus.MustRegister(CompressionRatio)
	prometheus.MustRegister(ReplicationWriteDuration)
	prometheus.MustRegister(ReplicationRepairTotal)
	prometheus.MustRegister(ReplicationLagSeconds)
	prometheus.MustRegister(ConflictsDetectedTotal)
	prometheus.MustRegister(ConflictsResolvedTotal)
	prometheus.MustRegister(ConsensusApplyDuration)
	prometheus.MustRegister(ConsensusCommitDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ClusterMembershipChangesTotal)
	prometheus.MustRegister(ShardMigrationsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
