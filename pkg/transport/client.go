package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/aerolithdb/aerolithdb/pkg/consensus"
	"github.com/aerolithdb/aerolithdb/pkg/log"
	"github.com/aerolithdb/aerolithdb/pkg/storage"
	"github.com/aerolithdb/aerolithdb/pkg/types"
	"github.com/rs/zerolog"
)

// Client is the outbound half of pkg/transport: a connection pool keyed
// by peer, dialed lazily and redialed with backoff on failure. It
// implements both replication.PeerReplicator and consensus.Broadcaster so
// a single Client instance wires into both pkg/replication and
// pkg/consensus without either depending on this package directly.
type Client struct {
	mu        sync.RWMutex
	addresses map[types.PeerID]string
	conns     map[types.PeerID]*grpc.ClientConn

	dialTimeout time.Duration
	callTimeout time.Duration
	logger      zerolog.Logger
}

// NewClient constructs a Client with no peers registered; SetPeerAddress
// adds them as membership becomes known (typically driven by pkg/node's
// own peer bookkeeping rather than pkg/placement, which only touches the
// sharding strategy).
func NewClient() *Client {
	return &Client{
		addresses:   make(map[types.PeerID]string),
		conns:       make(map[types.PeerID]*grpc.ClientConn),
		dialTimeout: 5 * time.Second,
		callTimeout: 10 * time.Second,
		logger:      log.WithComponent("transport"),
	}
}

// SetPeerAddress registers or updates the dial address for peer. An
// existing connection to a changed address is dropped so the next call
// redials.
func (c *Client) SetPeerAddress(peer types.PeerID, addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addresses[peer] == addr {
		return
	}
	c.addresses[peer] = addr
	if conn, ok := c.conns[peer]; ok {
		conn.Close()
		delete(c.conns, peer)
	}
}

// RemovePeer drops peer's address and connection entirely.
func (c *Client) RemovePeer(peer types.PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.addresses, peer)
	if conn, ok := c.conns[peer]; ok {
		conn.Close()
		delete(c.conns, peer)
	}
}

// Peers returns the currently registered peer set, for a
// placement.MembershipSource built over this Client.
func (c *Client) Peers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	peers := make([]string, 0, len(c.addresses))
	for p := range c.addresses {
		peers = append(peers, string(p))
	}
	return peers
}

// connFor dials peer on first use, retrying with exponential backoff, and
// caches the connection for reuse. grpc.ClientConn itself already
// reconnects transparently on transient failures; the backoff here only
// covers the initial dial before any connection exists to hand back.
func (c *Client) connFor(ctx context.Context, peer types.PeerID) (*grpc.ClientConn, error) {
	c.mu.RLock()
	conn, ok := c.conns[peer]
	addr, known := c.addresses[peer]
	c.mu.RUnlock()
	if ok {
		return conn, nil
	}
	if !known {
		return nil, fmt.Errorf("transport: no address registered for peer %s", peer)
	}

	var dialed *grpc.ClientConn
	op := func() error {
		dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
		conn, err := grpc.DialContext(dialCtx, addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
			grpc.WithBlock(),
		)
		if err != nil {
			return fmt.Errorf("transport: dial %s (%s): %w", peer, addr, err)
		}
		dialed = conn
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conns[peer] = dialed
	c.mu.Unlock()
	return dialed, nil
}

func (c *Client) gossip(peer types.PeerID, env *envelope) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	defer cancel()
	conn, err := c.connFor(ctx, peer)
	if err != nil {
		return err
	}
	var reply ack
	return conn.Invoke(ctx, methodGossip, env, &reply)
}

// broadcast fires env at every registered peer concurrently and reports
// the first error encountered, if any, after every call has finished —
// consensus treats broadcast failures as best-effort (a silent peer gets
// caught by the heartbeat/view-change path, not by a retry here).
func (c *Client) broadcast(env *envelope) error {
	c.mu.RLock()
	peers := make([]types.PeerID, 0, len(c.addresses))
	for p := range c.addresses {
		peers = append(peers, p)
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	errs := make(chan error, len(peers))
	for _, peer := range peers {
		wg.Add(1)
		go func(peer types.PeerID) {
			defer wg.Done()
			if err := c.gossip(peer, env); err != nil {
				c.logger.Warn().Err(err).Str("peer", string(peer)).Str("kind", string(env.Kind)).Msg("gossip failed")
				errs <- err
			}
		}(peer)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		return err
	}
	return nil
}

// consensus.Broadcaster

func (c *Client) BroadcastProposal(proposal types.Proposal) error {
	return c.broadcast(&envelope{Kind: gossipProposal, Proposal: &proposal})
}

func (c *Client) BroadcastVote(vote types.Vote) error {
	return c.broadcast(&envelope{Kind: gossipVote, Vote: &vote})
}

func (c *Client) BroadcastCommit(msg consensus.CommitMessage) error {
	return c.broadcast(&envelope{Kind: gossipCommit, Commit: &msg})
}

func (c *Client) BroadcastAbort(msg consensus.AbortMessage) error {
	return c.broadcast(&envelope{Kind: gossipAbort, Abort: &msg})
}

func (c *Client) BroadcastHeartbeat(msg consensus.HeartbeatMessage) error {
	return c.broadcast(&envelope{Kind: gossipHeartbeat, Heartbeat: &msg})
}

func (c *Client) BroadcastViewChange(msg consensus.ViewChangeMessage) error {
	return c.broadcast(&envelope{Kind: gossipViewChange, ViewChange: &msg})
}

// replication.PeerReplicator

func (c *Client) PutRemote(ctx context.Context, peer types.PeerID, key types.Key, obj *storage.Object) error {
	conn, err := c.connFor(ctx, peer)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	var reply putObjectResponse
	return conn.Invoke(callCtx, methodPutObject, &putObjectRequest{Key: key, Object: obj}, &reply)
}

func (c *Client) GetRemote(ctx context.Context, peer types.PeerID, key types.Key) (*storage.Object, error) {
	conn, err := c.connFor(ctx, peer)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	var reply getObjectResponse
	if err := conn.Invoke(callCtx, methodGetObject, &getObjectRequest{Key: key}, &reply); err != nil {
		return nil, err
	}
	return reply.Object, nil
}

// Close drops every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for peer, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, peer)
	}
	return firstErr
}
