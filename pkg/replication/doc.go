// Package replication implements the node's replication manager: fan-out
// writes to Cold plus owning peers, and a singleflight-coalesced verify
// and repair pass for detecting and fixing divergent replicas.
package replication
