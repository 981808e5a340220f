package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/aerolithdb/aerolithdb/pkg/consensus"
	"github.com/aerolithdb/aerolithdb/pkg/log"
	"github.com/aerolithdb/aerolithdb/pkg/storage"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// ConsensusReceiver is the subset of consensus.Engine's inbound handlers a
// Server dispatches Gossip calls into. raftengine.Engine never implements
// this — Raft carries its own transport — so a Server only needs one of
// these wired in when Config.Algorithm selects Byzantine or AsyncBFT.
type ConsensusReceiver interface {
	HandleProposal(proposal types.Proposal) error
	HandleVote(vote types.Vote) error
	HandleHeartbeat(msg consensus.HeartbeatMessage)
	HandleViewChange(msg consensus.ViewChangeMessage)
}

// LocalStore is where a PutObject/GetObject call lands when another peer
// pushes or pulls a replica of a key this node owns. pkg/node wires this
// to query.Engine, whose Put resolves conflicts and then writes the Cold
// tier directly and whose Get reads Cold — replicated writes bypass
// Hot/Warm, the same way a local replication.Manager write does.
type LocalStore interface {
	Put(ctx context.Context, key types.Key, obj *storage.Object) error
	Get(ctx context.Context, key types.Key) (*storage.Object, error)
}

// Server is the inbound half of pkg/transport: a grpc.Server speaking a
// single hand-rolled service (no .proto, see codec.go) that multiplexes
// every consensus broadcast and peer-to-peer replication call this
// cluster makes.
type Server struct {
	grpcServer *grpc.Server
	consensus  ConsensusReceiver // nil until wired; Gossip calls are rejected until then
	store      LocalStore
	logger     zerolog.Logger
}

func NewServer(store LocalStore) *Server {
	s := &Server{store: store, logger: log.WithComponent("transport")}
	s.grpcServer = grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// SetConsensusReceiver wires in the consensus engine; pkg/node constructs
// the consensus engine first and the Server after it (the Server's
// LocalStore is the query engine, which needs consensus), then closes the
// loop with this call.
func (s *Server) SetConsensusReceiver(r ConsensusReceiver) {
	s.consensus = r
}

// Serve blocks, accepting connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// ListenAndServe is a convenience wrapper around Serve for the common case
// of a plain TCP listen address.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Stop gracefully drains in-flight calls before shutting down.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func (s *Server) handleGossip(ctx context.Context, req *envelope) (*ack, error) {
	if s.consensus == nil {
		return nil, fmt.Errorf("transport: no consensus receiver wired")
	}
	switch req.Kind {
	case gossipProposal:
		return &ack{}, s.consensus.HandleProposal(*req.Proposal)
	case gossipVote:
		return &ack{}, s.consensus.HandleVote(*req.Vote)
	case gossipHeartbeat:
		s.consensus.HandleHeartbeat(*req.Heartbeat)
		return &ack{}, nil
	case gossipViewChange:
		s.consensus.HandleViewChange(*req.ViewChange)
		return &ack{}, nil
	case gossipCommit, gossipAbort:
		// Informational only: every voting peer reaches its own
		// commit/abort decision from the proposal/vote exchange itself.
		// Logged for observability, nothing to apply.
		s.logger.Debug().Str("kind", string(req.Kind)).Msg("received informational gossip")
		return &ack{}, nil
	default:
		return nil, fmt.Errorf("transport: unknown gossip kind %q", req.Kind)
	}
}

func (s *Server) handlePutObject(ctx context.Context, req *putObjectRequest) (*putObjectResponse, error) {
	if err := s.store.Put(ctx, req.Key, req.Object); err != nil {
		return nil, err
	}
	return &putObjectResponse{}, nil
}

func (s *Server) handleGetObject(ctx context.Context, req *getObjectRequest) (*getObjectResponse, error) {
	obj, err := s.store.Get(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	return &getObjectResponse{Object: obj}, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Gossip",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(envelope)
				if err := dec(req); err != nil {
					return nil, err
				}
				s := srv.(*Server)
				if interceptor == nil {
					return s.handleGossip(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: s, FullMethod: methodGossip}
				handler := func(ctx context.Context, req any) (any, error) {
					return s.handleGossip(ctx, req.(*envelope))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "PutObject",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(putObjectRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				s := srv.(*Server)
				if interceptor == nil {
					return s.handlePutObject(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: s, FullMethod: methodPutObject}
				handler := func(ctx context.Context, req any) (any, error) {
					return s.handlePutObject(ctx, req.(*putObjectRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "GetObject",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(getObjectRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				s := srv.(*Server)
				if interceptor == nil {
					return s.handleGetObject(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: s, FullMethod: methodGetObject}
				handler := func(ctx context.Context, req any) (any, error) {
					return s.handleGetObject(ctx, req.(*getObjectRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/transport/envelope.go",
}
