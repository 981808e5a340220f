// Package storage implements the four-tier storage hierarchy: an
// in-memory Hot cache, a file-per-object Warm tier on local SSD, a
// BoltDB-backed Cold tier addressed by consistent-hash shard, and an
// append-only, heavily compressed Archive tier. Hierarchy composes all
// four behind a single Tier-like API, fanning reads in from hot to cold
// and writes out to as many tiers as the configuration demands.
package storage

import (
	"context"
	"time"

	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// TierKind names one of the four storage tiers.
type TierKind int

const (
	Hot TierKind = iota
	Warm
	Cold
	Archive
)

func (t TierKind) String() string {
	switch t {
	case Hot:
		return "hot"
	case Warm:
		return "warm"
	case Cold:
		return "cold"
	case Archive:
		return "archive"
	default:
		return "unknown"
	}
}

// Object is the stored, already-encoded form of a document: compressed
// bytes plus the metadata needed to verify and decode them. The codec
// algorithm tag lives inside Payload itself (see pkg/codec), so Object
// doesn't need to repeat it.
type Object struct {
	Key       types.Key
	Payload   []byte
	Checksum  [32]byte
	Version   uint64
	StoredAt  time.Time
	Encrypted bool
}

// Tier is the storage contract every tier (and the Hierarchy that
// composes them) implements.
type Tier interface {
	Get(ctx context.Context, key types.Key) (*Object, error)
	Put(ctx context.Context, key types.Key, obj *Object) error
	Delete(ctx context.Context, key types.Key) error
	Exists(ctx context.Context, key types.Key) (bool, error)
	Kind() TierKind
}

// Lister is implemented by tiers that can enumerate the document IDs in a
// collection; used by the query engine's scan/paginate path. Not every
// tier supports it cheaply (Hot's membership is transient and unordered),
// so it is a separate, optional interface rather than part of Tier.
type Lister interface {
	List(ctx context.Context, collection string, offset, limit int) ([]string, error)
}
