package metrics

import "time"

// ClusterView is the minimal read surface the collector needs from the
// running node. It is implemented by pkg/node's Node so this package does
// not depend upward on node wiring.
type ClusterView interface {
	IsLeader() bool
	PeerCount() int
	AppliedIndex() uint64
	LastLogIndex() uint64
	CollectionCounts() map[string]int
}

// Collector polls a ClusterView on an interval and republishes what it
// sees as Prometheus gauges.
type Collector struct {
	view   ClusterView
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over view.
func NewCollector(view ClusterView) *Collector {
	return &Collector{
		view:   view,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds, with an immediate
// first collection.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectConsensusMetrics()
	c.collectCollectionMetrics()
}

func (c *Collector) collectConsensusMetrics() {
	if c.view.IsLeader() {
		ConsensusLeader.Set(1)
	} else {
		ConsensusLeader.Set(0)
	}
	ConsensusPeers.Set(float64(c.view.PeerCount()))
	ConsensusLogIndex.Set(float64(c.view.LastLogIndex()))
	ConsensusAppliedIndex.Set(float64(c.view.AppliedIndex()))
}

func (c *Collector) collectCollectionMetrics() {
	counts := c.view.CollectionCounts()
	CollectionsTotal.Set(float64(len(counts)))
	for collection, n := range counts {
		DocumentsTotal.WithLabelValues(collection).Set(float64(n))
	}
}
