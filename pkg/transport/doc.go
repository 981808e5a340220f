/*
Package transport carries consensus gossip and peer-to-peer replication
calls over the wire. It is the only implementation of
consensus.Broadcaster and replication.PeerReplicator in this codebase —
both pkg/consensus and pkg/replication depend on those interfaces, never
on this package, so either can be tested without a real network.

# Why no .proto

There is no generated proto.Message behind these calls, so this package
keeps real grpc.Server/grpc.ClientConn transport (HTTP/2 multiplexing,
connection reuse, streaming-capable framing) but swaps the wire codec:
codec.go registers a JSON encoding.Codec under the "json" content-subtype
and every call forces it, so the message types in envelope.go are plain
Go structs instead of generated proto.Message implementations.

# Architecture

	consensus.Engine / replication.Manager
	        │ (Broadcaster / PeerReplicator interfaces)
	        ▼
	   transport.Client  ──grpc, json codec──▶  transport.Server
	  (per-peer conn pool,                    (single grpc.Server,
	   cenkalti/backoff on dial)          dispatches to ConsensusReceiver
	                                         and LocalStore)

Gossip multiplexes every consensus broadcast (proposal, vote, commit,
abort, heartbeat, view-change) through one RPC carrying a discriminated
envelope, standing in for what a .proto oneof would express. PutObject
and GetObject are separate RPCs for the peer-to-peer replica pushes and
pulls replication.Manager makes directly.

# Usage

	srv := transport.NewServer(coldStore)
	go srv.ListenAndServe(cfg.ListenAddr)
	defer srv.Stop()

	cli := transport.NewClient()
	cli.SetPeerAddress("peer-b", "10.0.0.2:7000")

	engine.SetBroadcaster(cli)
	srv.SetConsensusReceiver(engine)
	replMgr := replication.NewManager(cold, cli, ownersFn, cfg.WriteQuorum)
*/
package transport
