/*
Package codec implements the storage hierarchy's compression layer.

Four algorithms share one Codec type: fast (lz4, low latency), balanced and
dense (both zstd, differing only in target level), and none (passthrough).
Every compressed payload is tagged with a one-byte algorithm marker so
Decompress never has to trust out-of-band metadata about which codec was
used — a tag this build doesn't recognize fails closed with
ErrCodecMismatch rather than returning the bytes untouched.

Adaptive mode (Config.Adaptive) picks the algorithm from payload size alone:
fast under 1 KiB, dense over 1 MiB, balanced in between. EstimateRatio gives
callers (placement, archive compaction) a cheap prediction of compression
effectiveness via byte-frequency entropy, without actually compressing.
*/
package codec
