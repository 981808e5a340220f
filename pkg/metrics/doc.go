// Package metrics defines and registers the Prometheus metrics exposed by
// a node, plus a small JSON health surface (health.go) used by
// orchestrators for liveness/readiness probes. Collector (collector.go)
// polls a ClusterView on an interval and republishes cluster-level state
// as gauges; per-operation counters and histograms are updated directly
// by the packages that own those operations.
package metrics
