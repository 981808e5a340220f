// Package integrity provides the canonical-JSON encoding and Blake3
// checksum used everywhere a document or stored blob needs a stable fault
// signal: checksum = Blake3(canonical(data)). Any retrieval whose declared
// checksum doesn't match is an integrity fault, never a silent pass-through.
package integrity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"lukechampine.com/blake3"
)

// Canonical re-encodes an arbitrary JSON value with object keys sorted and
// insignificant whitespace removed, so that two semantically identical
// documents always produce byte-identical output regardless of how they
// were originally marshaled.
func Canonical(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, fmt.Errorf("integrity: canonicalize: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("integrity: encode canonical form: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// normalize walks a decoded JSON value and replaces every map with a
// sortedMap so json.Marshal emits keys in a stable order.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(sortedMap, 0, len(val))
		for _, k := range keys {
			child, err := normalize(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, sortedEntry{Key: k, Value: child})
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			child, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = child
		}
		return out, nil
	default:
		return val, nil
	}
}

type sortedEntry struct {
	Key   string
	Value any
}

// sortedMap marshals as a JSON object with entries in insertion order,
// which normalize() has already sorted by key.
type sortedMap []sortedEntry

func (m sortedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Checksum computes the Blake3-256 digest of the canonical encoding of v.
func Checksum(v any) ([32]byte, error) {
	canonical, err := Canonical(v)
	if err != nil {
		return [32]byte{}, err
	}
	return ChecksumBytes(canonical), nil
}

// ChecksumBytes computes the Blake3-256 digest of raw bytes, for blobs
// (warm-tier files, archive segments) that don't need JSON canonicalization.
func ChecksumBytes(b []byte) [32]byte {
	return blake3.Sum256(b)
}

// Verify reports whether canonical(v) hashes to the expected checksum.
func Verify(v any, expected [32]byte) (bool, error) {
	got, err := Checksum(v)
	if err != nil {
		return false, err
	}
	return got == expected, nil
}

// VerifyBytes reports whether b hashes to the expected checksum.
func VerifyBytes(b []byte, expected [32]byte) bool {
	return ChecksumBytes(b) == expected
}
