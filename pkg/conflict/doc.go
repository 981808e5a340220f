// Package conflict detects and resolves concurrent writes to the same
// document. See conflict.go for the detection and strategy
// implementations.
package conflict
