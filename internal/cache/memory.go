package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
)

// Memory is a process-local cache backed by otter. Every write restarts the
// entry's retention period.
type Memory[T any] struct {
	cache *otter.Cache[string, T]
}

// NewMemory creates an in-memory cache that retains entries for ttl after
// their last write, holding at most maxSize entries.
func NewMemory[T any](ttl time.Duration, maxSize int) (*Memory[T], error) {
	c := otter.Must(&otter.Options[string, T]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, T](ttl),
	})

	return &Memory[T]{cache: c}, nil
}

func (m *Memory[T]) Get(_ context.Context, key string) (T, bool, error) {
	value, ok := m.cache.GetIfPresent(key)
	return value, ok, nil
}

func (m *Memory[T]) Set(_ context.Context, key string, value T) error {
	m.cache.Set(key, value)
	return nil
}

func (m *Memory[T]) Invalidate(_ context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

// Close discards all entries.
func (m *Memory[T]) Close() error {
	m.cache.InvalidateAll()
	return nil
}
