// Package log provides structured logging built on zerolog.
//
// A single global logger is configured once via Init; every subsystem then
// derives a component logger with WithComponent (or WithPeer/WithCollection/
// WithDocument for request-scoped context) instead of holding its own
// configuration.
package log
