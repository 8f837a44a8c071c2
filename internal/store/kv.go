// Package store defines the key-value persistence contract shared by
// every Flock store (audit log, task records, channels, bridges,
// assignments, migration tickets). Domain packages never branch on
// which KV implementation backs them (spec.md §6): they hold a KV
// handle and JSON-encode their own record types over it.
package store

import "context"

// KV is a flat, namespaced key-value store. Keys are opaque strings;
// domain packages compose their own key schemes (e.g. "task/<taskID>").
type KV interface {
	// Get returns the value for key, or found=false if absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Put writes key=value, creating or overwriting it.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key=value pair whose key has the given prefix.
	// Domain packages use this at startup to rebuild in-memory indices.
	List(ctx context.Context, prefix string) (map[string][]byte, error)

	// Close releases any underlying resources (file handles, connections).
	Close() error
}
