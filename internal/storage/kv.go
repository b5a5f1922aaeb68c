// Package storage provides the durable keyed partition the application
// persists into: a small key-value surface over a local SQLite file, plus an
// in-memory implementation for tests and ephemeral sessions.
package storage

// KV is the minimal key-value surface the conversation store writes through.
// Values are opaque strings; callers own serialization.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}
