// Package raftengine is the Raft-backed consensus.Service implementation,
// wrapping hashicorp/raft and hashicorp/raft-boltdb.
package raftengine
