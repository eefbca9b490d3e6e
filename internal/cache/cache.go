package cache

import (
	"context"
)

// TokenCache stores short-lived credentials by key. Implementations may be
// shared between processes, so values must survive a JSON round trip.
type TokenCache[T any] interface {
	// Get retrieves a value. A missing key is not an error: it reports
	// found=false.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores a value, replacing any existing entry for the key.
	Set(ctx context.Context, key string, value T) error

	// Invalidate removes a value.
	Invalidate(ctx context.Context, key string) error

	// Close releases any resources held by the cache.
	Close() error
}

// Digester provides a content digest for cache key namespacing. When the
// credentials change the digest changes, so entries written for the old
// credentials are never read again.
type Digester interface {
	Digest() string
}

// Key namespaces name with the digest of its source.
func Key(d Digester, name string) string {
	return d.Digest() + ":" + name
}
