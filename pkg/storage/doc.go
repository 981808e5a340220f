/*
Package storage implements the four-tier storage hierarchy described at
package level in tier.go. Each tier (hot.go, warm.go, cold.go, archive.go)
is independent and knows nothing of the others; Hierarchy (hierarchy.go)
is the only component that composes them, handling the read fan-in /
write fan-out, promotion on read, and age-based demotion to Archive.

Checksums are Blake3 over raw stored bytes (pkg/integrity); a mismatch on
Warm or Cold is treated as a repairable fault rather than a hard error —
Hierarchy falls back to the next authoritative tier and overwrites the
faulted copy.
*/
package storage
