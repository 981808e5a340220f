package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
	"github.com/aerolithdb/aerolithdb/pkg/consensus"
	"github.com/aerolithdb/aerolithdb/pkg/storage"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]*storage.Object
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]*storage.Object)}
}

func (f *fakeStore) Put(_ context.Context, key types.Key, obj *storage.Object) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key.String()] = obj
	return nil
}

func (f *fakeStore) Get(_ context.Context, key types.Key) (*storage.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key.String()]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return obj, nil
}

type fakeReceiver struct {
	mu         sync.Mutex
	proposals  []types.Proposal
	votes      []types.Vote
	heartbeats []consensus.HeartbeatMessage
}

func (f *fakeReceiver) HandleProposal(p types.Proposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposals = append(f.proposals, p)
	return nil
}

func (f *fakeReceiver) HandleVote(v types.Vote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes = append(f.votes, v)
	return nil
}

func (f *fakeReceiver) HandleHeartbeat(msg consensus.HeartbeatMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, msg)
}

func (f *fakeReceiver) HandleViewChange(consensus.ViewChangeMessage) {}

func startServer(t *testing.T, store LocalStore, receiver ConsensusReceiver) (*Server, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(store)
	srv.SetConsensusReceiver(receiver)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return srv, lis.Addr().String()
}

func TestPutAndGetObjectRoundTrip(t *testing.T) {
	store := newFakeStore()
	_, addr := startServer(t, store, &fakeReceiver{})

	cli := NewClient()
	cli.SetPeerAddress("peer-a", addr)
	defer cli.Close()

	key := types.Key{Collection: "users", ID: "u1"}
	obj := &storage.Object{Key: key, Payload: []byte("hello"), Version: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cli.PutRemote(ctx, "peer-a", key, obj); err != nil {
		t.Fatal(err)
	}
	got, err := cli.GetRemote(ctx, "peer-a", key)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Payload) != "hello" || got.Version != 1 {
		t.Fatalf("unexpected round-tripped object: %+v", got)
	}
}

func TestBroadcastProposalReachesReceiver(t *testing.T) {
	receiver := &fakeReceiver{}
	_, addr := startServer(t, newFakeStore(), receiver)

	cli := NewClient()
	cli.SetPeerAddress("peer-a", addr)
	defer cli.Close()

	proposal := types.Proposal{ID: "p1", Round: 1, Proposer: "peer-b"}
	if err := cli.BroadcastProposal(proposal); err != nil {
		t.Fatal(err)
	}

	receiver.mu.Lock()
	defer receiver.mu.Unlock()
	if len(receiver.proposals) != 1 || receiver.proposals[0].ID != "p1" {
		t.Fatalf("expected proposal to reach receiver, got %+v", receiver.proposals)
	}
}

func TestGossipWithoutReceiverReturnsError(t *testing.T) {
	_, addr := startServer(t, newFakeStore(), nil)

	cli := NewClient()
	cli.SetPeerAddress("peer-a", addr)
	defer cli.Close()

	err := cli.BroadcastHeartbeat(consensus.HeartbeatMessage{Peer: "peer-b"})
	if err == nil {
		t.Fatal("expected error gossiping to a server with no consensus receiver wired")
	}
}
