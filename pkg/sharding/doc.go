// See sharding.go for the Strategy interface and its three
// implementations (ConsistentHash, Range, RandomAssignment).
package sharding
