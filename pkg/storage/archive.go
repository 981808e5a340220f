package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
	"github.com/aerolithdb/aerolithdb/pkg/integrity"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// ArchiveStore is the append-only, high-compression tier: one growing
// segment file per collection. Writes (including tombstones for deletes)
// are appended, never rewritten in place; an in-memory offset index,
// rebuilt by a single sequential scan at open time, makes point reads
// O(1). ArchiveStore is compression-agnostic and persists whatever bytes
// it's given; Hierarchy.DemoteIdle hands it Cold's objects unchanged, so an
// archived payload keeps the codec algorithm it was written with.
type ArchiveStore struct {
	mu      sync.Mutex
	baseDir string
	files   map[string]*os.File
	index   map[types.Key]archiveLocation
}

type archiveLocation struct {
	offset    int64
	tombstone bool
}

const archiveRecordHeaderSize = 4 + 8 + 32 + 4 + 8 + 1 // keyLen + version + checksum + payloadLen + timestamp + tombstone flag

// NewArchiveStore constructs an ArchiveStore rooted at baseDir, scanning
// any existing segment files to rebuild the offset index.
func NewArchiveStore(baseDir string) (*ArchiveStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("storage: create archive dir: %w", err)
	}
	a := &ArchiveStore{
		baseDir: baseDir,
		files:   make(map[string]*os.File),
		index:   make(map[types.Key]archiveLocation),
	}
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: list archive dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		collection := trimSegSuffix(e.Name())
		if collection == "" {
			continue
		}
		if err := a.scanSegment(collection); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func trimSegSuffix(name string) string {
	const suffix = ".seg"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}
	return ""
}

func (a *ArchiveStore) segmentPath(collection string) string {
	return filepath.Join(a.baseDir, collection+".seg")
}

func (a *ArchiveStore) fileFor(collection string) (*os.File, error) {
	if f, ok := a.files[collection]; ok {
		return f, nil
	}
	f, err := os.OpenFile(a.segmentPath(collection), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("storage: open archive segment: %w", err)
	}
	a.files[collection] = f
	return f, nil
}

// scanSegment replays a segment file sequentially, recording the offset
// of each record's most recent occurrence for its key.
func (a *ArchiveStore) scanSegment(collection string) error {
	f, err := a.fileFor(collection)
	if err != nil {
		return err
	}
	offset := int64(0)
	for {
		header := make([]byte, archiveRecordHeaderSize)
		n, err := io.ReadFull(f, header)
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			break
		}
		if err != nil {
			return fmt.Errorf("storage: scan archive segment %s: %w", collection, err)
		}
		keyLen := binary.BigEndian.Uint32(header[0:4])
		payloadLen := binary.BigEndian.Uint32(header[44:48])
		tombstone := header[56] == 1

		keyBytes := make([]byte, keyLen)
		if _, err := io.ReadFull(f, keyBytes); err != nil {
			return fmt.Errorf("storage: scan archive key %s: %w", collection, err)
		}
		if _, err := f.Seek(int64(payloadLen), io.SeekCurrent); err != nil {
			return fmt.Errorf("storage: scan archive payload %s: %w", collection, err)
		}

		key := types.Key{Collection: collection, ID: string(keyBytes)}
		a.index[key] = archiveLocation{offset: offset, tombstone: tombstone}
		offset += int64(archiveRecordHeaderSize) + int64(keyLen) + int64(payloadLen)
	}
	return nil
}

func (a *ArchiveStore) Kind() TierKind { return Archive }

// Put appends a new record for key, superseding any earlier record at
// Get time via the updated index entry. The previous bytes remain on
// disk — reclaiming them is a compaction concern, not Put's.
func (a *ArchiveStore) Put(_ context.Context, key types.Key, obj *Object) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := a.fileFor(key.Collection)
	if err != nil {
		return err
	}
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("storage: seek archive segment end: %w", err)
	}
	if err := writeArchiveRecord(f, key, obj, false); err != nil {
		return err
	}
	a.index[key] = archiveLocation{offset: offset, tombstone: false}
	return nil
}

func writeArchiveRecord(f *os.File, key types.Key, obj *Object, tombstone bool) error {
	keyBytes := []byte(key.ID)
	header := make([]byte, archiveRecordHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(keyBytes)))
	binary.BigEndian.PutUint64(header[4:12], obj.Version)
	copy(header[12:44], obj.Checksum[:])
	binary.BigEndian.PutUint32(header[44:48], uint32(len(obj.Payload)))
	binary.BigEndian.PutUint64(header[48:56], uint64(obj.StoredAt.UnixNano()))
	if tombstone {
		header[56] = 1
	}
	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("storage: write archive header: %w", err)
	}
	if _, err := f.Write(keyBytes); err != nil {
		return fmt.Errorf("storage: write archive key: %w", err)
	}
	if _, err := f.Write(obj.Payload); err != nil {
		return fmt.Errorf("storage: write archive payload: %w", err)
	}
	return f.Sync()
}

func (a *ArchiveStore) Get(_ context.Context, key types.Key) (*Object, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	loc, ok := a.index[key]
	if !ok || loc.tombstone {
		return nil, apperr.ErrNotFound
	}
	f, err := a.fileFor(key.Collection)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(loc.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("storage: seek archive record: %w", err)
	}
	header := make([]byte, archiveRecordHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("storage: read archive header: %w", err)
	}
	keyLen := binary.BigEndian.Uint32(header[0:4])
	version := binary.BigEndian.Uint64(header[4:12])
	var checksum [32]byte
	copy(checksum[:], header[12:44])
	payloadLen := binary.BigEndian.Uint32(header[44:48])
	storedAt := time.Unix(0, int64(binary.BigEndian.Uint64(header[48:56])))

	if _, err := f.Seek(int64(keyLen), io.SeekCurrent); err != nil {
		return nil, fmt.Errorf("storage: seek archive payload: %w", err)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(f, payload); err != nil {
		return nil, fmt.Errorf("storage: read archive payload: %w", err)
	}
	if !integrity.VerifyBytes(payload, checksum) {
		return nil, fmt.Errorf("storage: archive record %s: %w", key, apperr.ErrChecksumMismatch)
	}
	return &Object{Key: key, Payload: payload, Checksum: checksum, Version: version, StoredAt: storedAt}, nil
}

// Delete appends a tombstone record; the underlying bytes of every prior
// version are reclaimed only by an explicit compaction pass, not by Delete.
func (a *ArchiveStore) Delete(_ context.Context, key types.Key) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := a.fileFor(key.Collection)
	if err != nil {
		return err
	}
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("storage: seek archive segment end: %w", err)
	}
	tombstoneObj := &Object{StoredAt: time.Now()}
	if err := writeArchiveRecord(f, key, tombstoneObj, true); err != nil {
		return err
	}
	a.index[key] = archiveLocation{offset: offset, tombstone: true}
	return nil
}

func (a *ArchiveStore) Exists(_ context.Context, key types.Key) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	loc, ok := a.index[key]
	return ok && !loc.tombstone, nil
}

// Compact rewrites every collection's segment file to drop tombstoned and
// superseded records, reclaiming the space Put and Delete leave behind.
// Each collection is compacted by its own goroutine against a private read
// handle, independent of the shared a.files entry Put/Get/Delete use, so
// collections compact concurrently; only the brief swap of the rewritten
// file back into a.files and a.index is serialized.
func (a *ArchiveStore) Compact(ctx context.Context) error {
	live := a.liveEntriesByCollection()

	g, ctx := errgroup.WithContext(ctx)
	for collection, entries := range live {
		collection, entries := collection, entries
		g.Go(func() error {
			return a.compactCollection(ctx, collection, entries)
		})
	}
	return g.Wait()
}

func (a *ArchiveStore) liveEntriesByCollection() map[string]map[types.Key]archiveLocation {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]map[types.Key]archiveLocation)
	for key, loc := range a.index {
		if loc.tombstone {
			continue
		}
		if out[key.Collection] == nil {
			out[key.Collection] = make(map[types.Key]archiveLocation)
		}
		out[key.Collection][key] = loc
	}
	return out
}

// compactCollection rewrites one collection's segment against a temp file,
// reading each live record through a private *os.File so it never contends
// with a.files[collection]'s shared seek position.
func (a *ArchiveStore) compactCollection(_ context.Context, collection string, entries map[types.Key]archiveLocation) error {
	if len(entries) == 0 {
		return nil
	}
	src, err := os.Open(a.segmentPath(collection))
	if err != nil {
		return fmt.Errorf("storage: open archive segment for compaction %s: %w", collection, err)
	}
	defer src.Close()

	tmpPath := a.segmentPath(collection) + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("storage: create compaction segment %s: %w", collection, err)
	}

	newLocs := make(map[types.Key]archiveLocation, len(entries))
	for key, loc := range entries {
		obj, err := readArchiveRecordAt(src, loc.offset)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("storage: read live record %s during compaction: %w", key, err)
		}
		offset, err := tmp.Seek(0, io.SeekEnd)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("storage: seek compaction segment %s: %w", collection, err)
		}
		if err := writeArchiveRecord(tmp, key, obj, false); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		newLocs[key] = archiveLocation{offset: offset, tombstone: false}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storage: close compaction segment %s: %w", collection, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.files[collection]; ok {
		f.Close()
		delete(a.files, collection)
	}
	if err := os.Rename(tmpPath, a.segmentPath(collection)); err != nil {
		return fmt.Errorf("storage: install compacted segment %s: %w", collection, err)
	}
	for key := range entries {
		if loc, ok := newLocs[key]; ok {
			a.index[key] = loc
		}
	}
	return nil
}

// readArchiveRecordAt reads and checksum-verifies one record from a
// private file handle at offset, leaving the shared a.files entry for
// collection untouched.
func readArchiveRecordAt(f *os.File, offset int64) (*Object, error) {
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("storage: seek archive record: %w", err)
	}
	header := make([]byte, archiveRecordHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("storage: read archive header: %w", err)
	}
	keyLen := binary.BigEndian.Uint32(header[0:4])
	version := binary.BigEndian.Uint64(header[4:12])
	var checksum [32]byte
	copy(checksum[:], header[12:44])
	payloadLen := binary.BigEndian.Uint32(header[44:48])
	storedAt := time.Unix(0, int64(binary.BigEndian.Uint64(header[48:56])))

	if _, err := f.Seek(int64(keyLen), io.SeekCurrent); err != nil {
		return nil, fmt.Errorf("storage: seek archive payload: %w", err)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(f, payload); err != nil {
		return nil, fmt.Errorf("storage: read archive payload: %w", err)
	}
	if !integrity.VerifyBytes(payload, checksum) {
		return nil, fmt.Errorf("storage: archive record: %w", apperr.ErrChecksumMismatch)
	}
	return &Object{Payload: payload, Checksum: checksum, Version: version, StoredAt: storedAt}, nil
}

// Close closes every open segment file.
func (a *ArchiveStore) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for _, f := range a.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
