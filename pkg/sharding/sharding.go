// Package sharding assigns a (collection, id) key to the shard that owns
// it and the shard to the set of peers responsible for it. Three
// strategies are supported; all implement the same Strategy interface so
// the cold tier can swap between them at startup from configuration.
package sharding

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"sort"
	"strconv"
	"sync"
)

// Strategy maps keys to shards and shards to owning peers.
type Strategy interface {
	// AddPeer registers a peer as eligible to own shards.
	AddPeer(peer string)
	// RemovePeer deregisters a peer; only keys whose primary owner changes
	// actually move (for ConsistentHash).
	RemovePeer(peer string)
	// Shard returns the shard identifier for (collection, id).
	Shard(collection, id string) string
	// Owners returns the r distinct peers responsible for shard, in
	// preference order.
	Owners(shard string, r int) []string
}

// New constructs a Strategy by name. Unknown names fall back to
// ConsistentHash, the default and only strategy with stable rebalancing
// behavior on membership change.
func New(name string) Strategy {
	switch name {
	case "Range":
		return NewRange()
	case "RandomAssignment":
		return NewRandomAssignment()
	default:
		return NewConsistentHash(128)
	}
}

// ConsistentHash places peers and keys on a ring of virtualNodes virtual
// nodes per peer; a key belongs to the first distinct peers found walking
// the ring clockwise from the key's hash. Adding or removing a peer only
// moves the keys whose primary owner changed, not the whole key space.
type ConsistentHash struct {
	mu           sync.RWMutex
	virtualNodes int
	ring         map[uint64]string
	sortedKeys   []uint64
	peers        map[string]bool
}

// NewConsistentHash constructs a ring with virtualNodes virtual nodes per
// physical peer (default: 128).
func NewConsistentHash(virtualNodes int) *ConsistentHash {
	if virtualNodes <= 0 {
		virtualNodes = 128
	}
	return &ConsistentHash{
		virtualNodes: virtualNodes,
		ring:         make(map[uint64]string),
		peers:        make(map[string]bool),
	}
}

func (c *ConsistentHash) AddPeer(peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peers[peer] {
		return
	}
	c.peers[peer] = true
	for i := 0; i < c.virtualNodes; i++ {
		h := ringHash(peer + "#" + strconv.Itoa(i))
		c.ring[h] = peer
		c.sortedKeys = append(c.sortedKeys, h)
	}
	sort.Slice(c.sortedKeys, func(i, j int) bool { return c.sortedKeys[i] < c.sortedKeys[j] })
}

func (c *ConsistentHash) RemovePeer(peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.peers[peer] {
		return
	}
	delete(c.peers, peer)
	for i := 0; i < c.virtualNodes; i++ {
		delete(c.ring, ringHash(peer+"#"+strconv.Itoa(i)))
	}
	kept := c.sortedKeys[:0]
	for _, k := range c.sortedKeys {
		if _, ok := c.ring[k]; ok {
			kept = append(kept, k)
		}
	}
	c.sortedKeys = kept
}

// Shard hashes (collection, id) to its ring position, used directly as the
// shard identifier; ownership is resolved separately via Owners so shard
// identity is stable across membership changes.
func (c *ConsistentHash) Shard(collection, id string) string {
	h := ringHash(collection + "/" + id)
	return strconv.FormatUint(h, 16)
}

// Owners walks the ring clockwise from shard's position and returns the
// first r distinct physical peers encountered.
func (c *ConsistentHash) Owners(shard string, r int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.sortedKeys) == 0 {
		return nil
	}
	target, err := strconv.ParseUint(shard, 16, 64)
	if err != nil {
		target = ringHash(shard)
	}
	idx := sort.Search(len(c.sortedKeys), func(i int) bool { return c.sortedKeys[i] >= target })

	owners := make([]string, 0, r)
	seen := make(map[string]bool, r)
	for i := 0; i < len(c.sortedKeys) && len(owners) < r; i++ {
		pos := (idx + i) % len(c.sortedKeys)
		peer := c.ring[c.sortedKeys[pos]]
		if !seen[peer] {
			seen[peer] = true
			owners = append(owners, peer)
		}
	}
	return owners
}

func ringHash(s string) uint64 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}

// Range partitions the key space into a fixed number of contiguous ranges
// by the first byte of the key's hash, and assigns each range to peers in
// round-robin order. Membership changes reshuffle range ownership wholesale
// — the tradeoff Range strategies make for simpler, predictable placement.
type Range struct {
	mu        sync.RWMutex
	peers     []string
	numRanges int
}

// NewRange constructs a Range strategy with 256 ranges (one per possible
// leading hash byte).
func NewRange() *Range {
	return &Range{numRanges: 256}
}

func (r *Range) AddPeer(peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.peers {
		if p == peer {
			return
		}
	}
	r.peers = append(r.peers, peer)
	sort.Strings(r.peers)
}

func (r *Range) RemovePeer(peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.peers {
		if p == peer {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			return
		}
	}
}

func (r *Range) Shard(collection, id string) string {
	sum := sha256.Sum256([]byte(collection + "/" + id))
	return strconv.Itoa(int(sum[0]))
}

func (r *Range) Owners(shard string, want int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.peers) == 0 {
		return nil
	}
	rangeIdx, err := strconv.Atoi(shard)
	if err != nil {
		rangeIdx = 0
	}
	owners := make([]string, 0, want)
	for i := 0; i < want && i < len(r.peers); i++ {
		owners = append(owners, r.peers[(rangeIdx+i)%len(r.peers)])
	}
	return owners
}

// RandomAssignment picks r distinct peers at random for each Owners call.
// It offers no rebalancing stability guarantees and exists for testing and
// for workloads that intentionally want uniform, history-independent
// placement.
type RandomAssignment struct {
	mu    sync.RWMutex
	peers []string
	rnd   *rand.Rand
}

// NewRandomAssignment constructs a RandomAssignment strategy. Source is
// seeded from a fixed value so repeated runs in tests are reproducible;
// production callers that need true randomness can reseed via SeedFrom.
func NewRandomAssignment() *RandomAssignment {
	return &RandomAssignment{rnd: rand.New(rand.NewSource(1))}
}

// SeedFrom reseeds the random source, e.g. from a cryptographically random
// value at startup.
func (r *RandomAssignment) SeedFrom(seed int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rnd = rand.New(rand.NewSource(seed))
}

func (r *RandomAssignment) AddPeer(peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.peers {
		if p == peer {
			return
		}
	}
	r.peers = append(r.peers, peer)
}

func (r *RandomAssignment) RemovePeer(peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.peers {
		if p == peer {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			return
		}
	}
}

func (r *RandomAssignment) Shard(collection, id string) string {
	sum := sha256.Sum256([]byte(collection + "/" + id))
	return strconv.FormatUint(binary.BigEndian.Uint64(sum[:8]), 16)
}

func (r *RandomAssignment) Owners(shard string, want int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.peers) == 0 {
		return nil
	}
	perm := r.rnd.Perm(len(r.peers))
	n := want
	if n > len(perm) {
		n = len(perm)
	}
	owners := make([]string, n)
	for i := 0; i < n; i++ {
		owners[i] = r.peers[perm[i]]
	}
	return owners
}
