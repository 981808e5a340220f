// Package codec implements the pluggable compression layer: a single
// Codec interface with adaptive algorithm selection by payload size. Four
// algorithms are supported — fast (low latency), balanced (general purpose),
// dense (archival), and none (passthrough) — chosen either explicitly via
// Config or, when Config.Adaptive is set, by ChooseFor based on payload size.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
)

// Algorithm names a compression strategy.
type Algorithm string

const (
	Fast     Algorithm = "fast"
	Balanced Algorithm = "balanced"
	Dense    Algorithm = "dense"
	None     Algorithm = "none"
)

// Config selects an algorithm, a compression level (1..22, clamped
// per-algorithm), and whether ChooseFor should override Algorithm based on
// payload size.
type Config struct {
	Algorithm Algorithm
	Level     int
	Adaptive  bool
}

const (
	adaptiveSmallThreshold = 1 << 10       // 1 KiB
	adaptiveLargeThreshold = 1 << 20       // 1 MiB
	sampleCap              = 64 * 1 << 10 // 64 KiB, per the original aerolithdb sampler
)

// ChooseFor returns the algorithm ChooseFor would use for a payload of the
// given length under adaptive selection: fast below 1 KiB, dense above
// 1 MiB, balanced otherwise.
func ChooseFor(length int) Algorithm {
	switch {
	case length < adaptiveSmallThreshold:
		return Fast
	case length > adaptiveLargeThreshold:
		return Dense
	default:
		return Balanced
	}
}

// Codec compresses and decompresses byte payloads under one algorithm.
type Codec struct {
	cfg Config
}

// New constructs a Codec from cfg, clamping Level into each algorithm's
// valid range.
func New(cfg Config) *Codec {
	cfg.Level = clampLevel(cfg.Algorithm, cfg.Level)
	return &Codec{cfg: cfg}
}

func clampLevel(algo Algorithm, level int) int {
	if level < 1 {
		level = 1
	}
	if level > 22 {
		level = 22
	}
	switch algo {
	case Fast:
		// lz4 exposes a much narrower range (Fast..Level9); scale the dial down.
		if level > 9 {
			level = 9
		}
	case Dense:
		// archival compression never trades ratio for speed below 15.
		if level < 15 {
			level = 15
		}
	}
	return level
}

// algorithmFor returns the effective algorithm for payload, honoring
// Config.Adaptive.
func (c *Codec) algorithmFor(payload []byte) Algorithm {
	if c.cfg.Adaptive {
		return ChooseFor(len(payload))
	}
	return c.cfg.Algorithm
}

// Compress encodes payload and prefixes it with a one-byte algorithm tag so
// Decompress can recover the algorithm used without out-of-band state.
func (c *Codec) Compress(payload []byte) ([]byte, error) {
	algo := c.algorithmFor(payload)
	body, err := compressWith(algo, payload, c.cfg.Level)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, tagFor(algo))
	out = append(out, body...)
	return out, nil
}

// Decompress recovers the original payload. If the tagged algorithm isn't
// one this build knows how to decode, it fails with ErrCodecMismatch rather
// than silently returning the compressed bytes.
func (c *Codec) Decompress(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	algo, ok := algorithmForTag(payload[0])
	if !ok {
		return nil, fmt.Errorf("codec: tag %d: %w", payload[0], apperr.ErrCodecMismatch)
	}
	return decompressWith(algo, payload[1:])
}

// EstimateRatio estimates the compression ratio (compressed/original) the
// configured algorithm would achieve on sample, using byte-frequency entropy
// rather than actually compressing — cheap enough to call on hot paths. Only
// a leading prefix of sample is inspected for large payloads.
func (c *Codec) EstimateRatio(sample []byte) float64 {
	if len(sample) == 0 {
		return 1
	}
	if len(sample) > sampleCap {
		sample = sample[:sampleCap]
	}
	entropy := byteEntropy(sample)
	// 8 bits/byte is the maximum entropy; ratio approximates entropy/8,
	// clamped to [0.05, 1]: the floor keeps near-constant data from
	// predicting a near-zero size, and the cap keeps pathological
	// high-entropy (already-compressed) data from predicting expansion.
	ratio := entropy / 8
	if ratio < 0.05 {
		ratio = 0.05
	}
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

func byteEntropy(sample []byte) float64 {
	var counts [256]int
	for _, b := range sample {
		counts[b]++
	}
	n := float64(len(sample))
	var entropy float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func tagFor(algo Algorithm) byte {
	switch algo {
	case Fast:
		return 1
	case Balanced:
		return 2
	case Dense:
		return 3
	default:
		return 0
	}
}

func algorithmForTag(tag byte) (Algorithm, bool) {
	switch tag {
	case 0:
		return None, true
	case 1:
		return Fast, true
	case 2:
		return Balanced, true
	case 3:
		return Dense, true
	default:
		return "", false
	}
}

func compressWith(algo Algorithm, payload []byte, level int) ([]byte, error) {
	switch algo {
	case None:
		return payload, nil
	case Fast:
		return lz4Compress(payload, level)
	case Balanced:
		return zstdCompress(payload, zstd.EncoderLevelFromZstd(level))
	case Dense:
		return zstdCompress(payload, zstd.EncoderLevelFromZstd(level))
	default:
		return nil, fmt.Errorf("codec: unknown algorithm %q: %w", algo, apperr.ErrCodecMismatch)
	}
}

func decompressWith(algo Algorithm, payload []byte) ([]byte, error) {
	switch algo {
	case None:
		return payload, nil
	case Fast:
		return lz4Decompress(payload)
	case Balanced, Dense:
		return zstdDecompress(payload)
	default:
		return nil, fmt.Errorf("codec: unknown algorithm %q: %w", algo, apperr.ErrCodecMismatch)
	}
}

func lz4Compress(payload []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lz4LevelFor(level))); err != nil {
		return nil, fmt.Errorf("codec: lz4 configure: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("codec: lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

// lz4LevelFor maps the 1..9 dial (post-clamp) onto lz4's named levels; below
// 3 stays at Fast, the library's lowest-latency mode.
func lz4LevelFor(level int) lz4.CompressionLevel {
	switch {
	case level <= 2:
		return lz4.Fast
	case level >= 9:
		return lz4.Level9
	default:
		return [...]lz4.CompressionLevel{lz4.Level3, lz4.Level4, lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8}[level-3]
	}
}

func lz4Decompress(payload []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(payload))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: lz4 decompress: %w", err)
	}
	return out, nil
}

func zstdCompress(payload []byte, level zstd.EncoderLevel) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("codec: zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(payload, nil), nil
}

func zstdDecompress(payload []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd decompress: %w", err)
	}
	return out, nil
}
