// Package kv defines the key/value capability port and its implementations.
//
// The orchestrator uses the KV store for three things: cached conversation
// message lists, per-message pub/sub event topics, and node heartbeat keys
// with TTL. Redis backs production deployments; the in-memory store backs
// tests and zero-config mode.
package kv

import (
	"context"
	"time"
)

// Store is the key/value capability port.
type Store interface {
	// Get returns the value for key. The second return is false if the key
	// does not exist.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// ListAppend appends values to the list stored at key.
	ListAppend(ctx context.Context, key string, values ...string) error

	// ListRange returns the full list stored at key.
	ListRange(ctx context.Context, key string) ([]string, error)

	// ListReplace atomically replaces the list stored at key.
	// Used only by the offline dedup cleanup utility.
	ListReplace(ctx context.Context, key string, values []string) error

	// Publish sends payload to all subscribers of topic.
	Publish(ctx context.Context, topic, payload string) error

	// Subscribe returns a channel of payloads published to topic and a
	// cancel function that closes the subscription.
	Subscribe(ctx context.Context, topic string) (<-chan string, func(), error)

	// Close releases resources held by the store.
	Close() error
}
