package cache

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/nowplaying-bridge/nowplaying-bridge/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// NewFromConfig creates the cache selected by cfg.Type, wrapped with metrics.
// Entries are retained for ttl; maxMemorySize bounds the in-memory cache.
func NewFromConfig[T any](cfg config.CacheConfig, ttl time.Duration, maxMemorySize int) (TokenCache[T], error) {
	switch cfg.Type {
	case "valkey":
		log.Info().
			Str("cache_type", "valkey").
			Str("address", cfg.Valkey.Address).
			Bool("tls", cfg.Valkey.TLS).
			Bool("encrypted", cfg.Encryption.Enabled).
			Msg("initializing distributed cache")

		if cfg.Valkey.Address == "" {
			return nil, fmt.Errorf("valkey address is required when cache type is valkey")
		}

		opts := valkey.ClientOption{
			InitAddress: []string{cfg.Valkey.Address},
			Username:    cfg.Valkey.Username,
			Password:    cfg.Valkey.Password,
			// the cached token is read on nearly every request; server
			// assisted client caching adds invalidation traffic for no gain
			DisableCache: true,
		}

		if cfg.Valkey.TLS {
			opts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

		var strategy EncryptionStrategy
		if cfg.Encryption.Enabled {
			tinkStrategy, err := NewTinkEncryptionStrategyFromFile(cfg.Encryption.KeysetFile)
			if err != nil {
				return nil, fmt.Errorf("initializing encryption: %w", err)
			}
			strategy = tinkStrategy
		}

		client, err := valkey.NewClient(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create valkey client: %w", err)
		}

		distributed, err := NewDistributed[T](client, ttl, strategy)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create distributed cache: %w", err)
		}

		return NewInstrumented(distributed, "distributed"), nil

	case "memory":
		log.Info().
			Str("cache_type", "memory").
			Msg("initializing in-memory cache")

		memory, err := NewMemory[T](ttl, maxMemorySize)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}

		return NewInstrumented(memory, "memory"), nil

	default:
		return nil, fmt.Errorf("invalid cache type %q: must be either \"memory\" or \"valkey\"", cfg.Type)
	}
}
