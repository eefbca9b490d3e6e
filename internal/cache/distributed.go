package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// Distributed implements TokenCache using Valkey, so that every replica of
// the service shares one set of entries.
type Distributed[T any] struct {
	client   valkey.Client
	ttl      time.Duration
	strategy EncryptionStrategy
}

// NewDistributed creates a Valkey-backed cache. Entries are retained for ttl.
// A nil strategy stores values unencrypted.
func NewDistributed[T any](client valkey.Client, ttl time.Duration, strategy EncryptionStrategy) (*Distributed[T], error) {
	if strategy == nil {
		strategy = &NoEncryptionStrategy{}
	}
	return &Distributed[T]{
		client:   client,
		ttl:      ttl,
		strategy: strategy,
	}, nil
}

// Get retrieves a value. Undecryptable entries are deleted on a best-effort
// basis and reported as errors.
func (d *Distributed[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	storageKey := d.strategy.StorageKey(key)

	result := d.client.Do(ctx, d.client.B().Get().Key(storageKey).Build())
	if err := result.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("failed to get cached value: %w", err)
	}

	stored, err := result.ToString()
	if err != nil {
		return zero, false, fmt.Errorf("failed to convert cached value to string: %w", err)
	}

	data, err := d.strategy.DecryptValue(stored, key)
	if err != nil {
		_ = d.client.Do(ctx, d.client.B().Del().Key(storageKey).Build()).Error()
		return zero, false, fmt.Errorf("cache decryption failure for key %q: %w", key, err)
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return value, true, nil
}

func (d *Distributed[T]) Set(ctx context.Context, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	stored, err := d.strategy.EncryptValue(data, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt value: %w", err)
	}

	cmd := d.client.B().Set().Key(d.strategy.StorageKey(key)).Value(stored).ExSeconds(int64(d.ttl.Seconds())).Build()
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to set cached value: %w", err)
	}
	return nil
}

func (d *Distributed[T]) Invalidate(ctx context.Context, key string) error {
	cmd := d.client.B().Del().Key(d.strategy.StorageKey(key)).Build()
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to invalidate cached value: %w", err)
	}
	return nil
}

// Close releases the client and the encryption strategy.
func (d *Distributed[T]) Close() error {
	if err := d.strategy.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing encryption strategy")
	}
	d.client.Close()
	return nil
}
