// Package conflict implements the conflict-detection and -resolution
// engine: given two concurrent document versions (per their vector
// clocks), it locates the fields that actually differ and applies one of
// a handful of resolution strategies, falling back to last-writer-wins
// when a strategy cannot make progress on its own.
package conflict

import (
	"context"
	"fmt"

	"github.com/imdario/mergo"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
	"github.com/aerolithdb/aerolithdb/pkg/metrics"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// Strategy names a built-in resolution strategy. A custom resolver is
// selected by registering it under any other name.
const (
	LastWriterWins     = "last_writer_wins"
	FieldLevelMerge    = "field_level_merge"
	ArrayMerge         = "array_merge"
	PatchMerge         = "patch_merge"
	ManualIntervention = "manual_intervention"
)

// Resolver resolves one conflict into a Resolution. Custom resolvers
// registered with Engine.RegisterCustom implement this signature.
type Resolver func(ctx context.Context, conflict types.Conflict) (types.Resolution, error)

// Engine detects and resolves conflicts under a single configured
// strategy, with room for collection-specific custom resolvers.
type Engine struct {
	strategy string
	custom   map[string]Resolver
}

// NewEngine constructs an Engine configured to use the named strategy for
// every Resolve call unless overridden per-conflict by ResolveWith.
func NewEngine(strategy string) *Engine {
	return &Engine{strategy: strategy, custom: make(map[string]Resolver)}
}

// RegisterCustom adds a named resolver the engine can dispatch to, either
// as the default strategy or via ResolveWith.
func (e *Engine) RegisterCustom(name string, r Resolver) {
	e.custom[name] = r
}

// Detect compares two concurrent versions of a document and returns the
// Conflict describing what differs, or ok=false if the clocks aren't
// actually concurrent or the data is identical where it matters.
func (e *Engine) Detect(collection, documentID string, local, remote types.DocumentVersion) (types.Conflict, bool) {
	if !local.VectorClock.Concurrent(remote.VectorClock) {
		return types.Conflict{}, false
	}

	paths := diffPaths(local.Data, remote.Data, "")
	if len(paths) == 0 {
		return types.Conflict{}, false
	}

	kind := types.ConflictWholeDoc
	if _, localIsObject := local.Data.(map[string]any); localIsObject {
		if _, remoteIsObject := remote.Data.(map[string]any); remoteIsObject {
			kind = types.ConflictFieldLevel
		}
	}

	return types.Conflict{
		DocumentID:            documentID,
		Collection:            collection,
		Local:                 local,
		Remote:                remote,
		Kind:                  kind,
		ConflictingFieldPaths: paths,
	}, true
}

// diffPaths walks two decoded JSON values in lockstep and returns the
// dotted paths at which they diverge. Divergent subtrees are not
// recursed into further once a leaf mismatch is found.
func diffPaths(local, remote any, prefix string) []string {
	localObj, localIsObject := local.(map[string]any)
	remoteObj, remoteIsObject := remote.(map[string]any)

	if localIsObject && remoteIsObject {
		seen := make(map[string]bool)
		var paths []string
		for key := range localObj {
			seen[key] = true
		}
		for key := range remoteObj {
			seen[key] = true
		}
		for key := range seen {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			lv, lok := localObj[key]
			rv, rok := remoteObj[key]
			switch {
			case lok && rok:
				paths = append(paths, diffPaths(lv, rv, path)...)
			default:
				paths = append(paths, path)
			}
		}
		return paths
	}

	if !deepEqual(local, remote) && prefix != "" {
		return []string{prefix}
	}
	if !deepEqual(local, remote) && prefix == "" {
		// Whole-document conflict: the documents aren't objects at all,
		// or one is an object and the other isn't. Report it as a
		// single root-level divergence.
		return []string{"$"}
	}
	return nil
}

func deepEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b) && sameType(a, b)
}

func sameType(a, b any) bool {
	return fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

// Resolve applies the engine's configured strategy to conflict.
func (e *Engine) Resolve(ctx context.Context, conflict types.Conflict) (types.Resolution, error) {
	return e.ResolveWith(ctx, e.strategy, conflict)
}

// ResolveWith applies a specific strategy, overriding the engine's
// default for this one call — used when a collection's schema specifies
// its own strategy.
func (e *Engine) ResolveWith(ctx context.Context, strategy string, conflict types.Conflict) (types.Resolution, error) {
	timer := metrics.NewTimer()
	defer func() {
		metrics.ConflictsDetectedTotal.Inc()
	}()

	var (
		resolution types.Resolution
		err        error
	)

	switch strategy {
	case LastWriterWins:
		resolution = resolveLastWriterWins(conflict)
	case FieldLevelMerge:
		resolution, err = resolveFieldLevelMerge(conflict)
	case ArrayMerge:
		resolution, err = resolveArrayMerge(conflict)
	case PatchMerge:
		// No JSON Patch (RFC 6902) library is wired into this module;
		// until one is, patch-merge degrades to last-writer-wins rather
		// than silently dropping one side's edits.
		resolution = resolveLastWriterWins(conflict)
		resolution.StrategyName = PatchMerge
	case ManualIntervention:
		resolution = types.Resolution{StrategyName: ManualIntervention, RequiresManualReview: true}
	default:
		resolver, ok := e.custom[strategy]
		if !ok {
			return types.Resolution{}, fmt.Errorf("conflict: strategy %q: %w", strategy, apperr.ErrResolverMissing)
		}
		resolution, err = resolver(ctx, conflict)
	}

	if err != nil {
		return types.Resolution{}, err
	}

	if !resolution.RequiresManualReview {
		metrics.ConflictsResolvedTotal.WithLabelValues(resolution.StrategyName).Inc()
	}
	timer.ObserveDuration(metrics.ReconciliationDuration)
	return resolution, nil
}

func resolveLastWriterWins(conflict types.Conflict) types.Resolution {
	winner := conflict.Local
	if conflict.Remote.Timestamp.After(conflict.Local.Timestamp) ||
		(conflict.Remote.Timestamp.Equal(conflict.Local.Timestamp) && conflict.Remote.Author < conflict.Local.Author) {
		winner = conflict.Remote
	}
	return types.Resolution{
		ResolvedData:        winner.Data,
		ResolvedVersion:     winner.Version,
		ResolvedVectorClock: conflict.Local.VectorClock.Merge(conflict.Remote.VectorClock),
		StrategyName:        LastWriterWins,
	}
}

// resolveFieldLevelMerge keeps whichever side wrote each field most
// recently, recursing into nested objects so a key present in both sides'
// nested values is merged field-by-field instead of one side's nested
// object replacing the other's wholesale.
func resolveFieldLevelMerge(conflict types.Conflict) (types.Resolution, error) {
	localObj, ok := conflict.Local.Data.(map[string]any)
	if !ok {
		return resolveLastWriterWins(conflict), nil
	}
	remoteObj, ok := conflict.Remote.Data.(map[string]any)
	if !ok {
		return resolveLastWriterWins(conflict), nil
	}

	remoteWins := conflict.Remote.Timestamp.After(conflict.Local.Timestamp) ||
		(conflict.Remote.Timestamp.Equal(conflict.Local.Timestamp) && conflict.Remote.Author < conflict.Local.Author)

	merged := mergeObjectFields(localObj, remoteObj, remoteWins)

	return types.Resolution{
		ResolvedData:        merged,
		ResolvedVersion:     maxVersion(conflict.Local.Version, conflict.Remote.Version),
		ResolvedVectorClock: conflict.Local.VectorClock.Merge(conflict.Remote.VectorClock),
		StrategyName:        FieldLevelMerge,
		Metadata:            map[string]string{"conflicting_fields": fmt.Sprint(len(conflict.ConflictingFieldPaths))},
	}, nil
}

// mergeObjectFields merges two object-valued maps key by key: a key
// present in only one side passes through unchanged; a key present in
// both recurses when both values are nested objects, and otherwise keeps
// whichever side is newer per remoteWins.
func mergeObjectFields(localObj, remoteObj map[string]any, remoteWins bool) map[string]any {
	merged := make(map[string]any, len(localObj)+len(remoteObj))
	for key, v := range localObj {
		merged[key] = v
	}

	for key, remoteVal := range remoteObj {
		localVal, inLocal := merged[key]
		if !inLocal {
			merged[key] = remoteVal
			continue
		}
		if deepEqual(localVal, remoteVal) {
			continue
		}
		localNested, localIsObject := localVal.(map[string]any)
		remoteNested, remoteIsObject := remoteVal.(map[string]any)
		switch {
		case localIsObject && remoteIsObject:
			merged[key] = mergeObjectFields(localNested, remoteNested, remoteWins)
		case remoteWins:
			merged[key] = remoteVal
		}
	}
	return merged
}

// resolveArrayMerge concatenates array-valued fields from both sides
// instead of picking one, via mergo's append-slice mode; non-array
// fields fall back to whichever side is newer.
func resolveArrayMerge(conflict types.Conflict) (types.Resolution, error) {
	localObj, ok := conflict.Local.Data.(map[string]any)
	if !ok {
		return resolveLastWriterWins(conflict), nil
	}
	remoteObj, ok := conflict.Remote.Data.(map[string]any)
	if !ok {
		return resolveLastWriterWins(conflict), nil
	}

	remoteWins := conflict.Remote.Timestamp.After(conflict.Local.Timestamp) ||
		(conflict.Remote.Timestamp.Equal(conflict.Local.Timestamp) && conflict.Remote.Author < conflict.Local.Author)
	older, newer := remoteObj, localObj
	if remoteWins {
		older, newer = localObj, remoteObj
	}

	merged := make(map[string]any, len(localObj))
	if err := mergo.Merge(&merged, older); err != nil {
		return types.Resolution{}, fmt.Errorf("conflict: clone older document: %w", err)
	}
	if err := mergo.Merge(&merged, newer, mergo.WithAppendSlice, mergo.WithOverride); err != nil {
		return types.Resolution{}, fmt.Errorf("conflict: append-merge arrays: %w", err)
	}

	return types.Resolution{
		ResolvedData:        merged,
		ResolvedVersion:     maxVersion(conflict.Local.Version, conflict.Remote.Version),
		ResolvedVectorClock: conflict.Local.VectorClock.Merge(conflict.Remote.VectorClock),
		StrategyName:        ArrayMerge,
	}, nil
}

func maxVersion(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
