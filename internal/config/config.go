package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Cache   CacheConfig
	Observe ObserveConfig
	Server  ServerConfig
	Spotify SpotifyConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
	OutgoingHTTPTimeoutSeconds  int `env:"SERVER_OUTGOING_TIMEOUT_SECS, default=10"`

	// RateLimitPerMinute bounds now-playing requests per client address. Zero
	// disables the limiter.
	RateLimitPerMinute int `env:"SERVER_RATE_LIMIT_PER_MINUTE, default=120"`

	// AdminAPIKey protects the manual token refresh route. The route is not
	// registered when empty.
	AdminAPIKey string `env:"ADMIN_API_KEY"`
}

// SpotifyConfig carries the application credentials. Presence of the client
// ID and secret is validated by the credentials package so that the failure
// is reported as a configuration error rather than a parse error.
type SpotifyConfig struct {
	AccountsURL string `env:"SPOTIFY_ACCOUNTS_URL"` // test override
	APIURL      string `env:"SPOTIFY_API_URL"`      // test override

	ClientID     string `env:"SPOTIFY_CLIENT_ID"`
	ClientSecret string `env:"SPOTIFY_CLIENT_SECRET"`
	RefreshToken string `env:"SPOTIFY_REFRESH_TOKEN"`
	RedirectURI  string `env:"SPOTIFY_REDIRECT_URI"`
}

// CacheConfig specifies where the access token is kept between requests.
type CacheConfig struct {
	// Type selects the cache implementation: "memory" (default) or "valkey"
	Type string `env:"CACHE_TYPE, default=memory"`

	// TTLSeconds bounds how long the store retains an entry. The token's own
	// expiry is always checked as well.
	TTLSeconds int `env:"CACHE_TTL_SECS, default=3600"`

	// Valkey holds distributed cache settings.
	Valkey ValkeyConfig

	// Encryption holds cache encryption settings.
	// Only supported with valkey cache type.
	Encryption CacheEncryptionConfig
}

// ValkeyConfig specifies distributed cache configuration.
type ValkeyConfig struct {
	// Address is the Valkey server address (host:port).
	Address string `env:"VALKEY_ADDRESS"`

	// TLS enables TLS connection to Valkey. Defaults to true so the secure option
	// is the default.
	TLS bool `env:"VALKEY_TLS, default=true"`

	Username string `env:"VALKEY_USERNAME"`
	Password string `env:"VALKEY_PASSWORD"`
}

// CacheEncryptionConfig holds settings for cache encryption.
type CacheEncryptionConfig struct {
	// Enabled turns on encryption for cached tokens.
	// Requires CACHE_TYPE=valkey.
	Enabled bool `env:"CACHE_ENCRYPTION_ENABLED, default=false"`

	// KeysetFile is the path to a cleartext JSON Tink keyset.
	KeysetFile string `env:"CACHE_ENCRYPTION_KEYSET_FILE"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=nowplaying-bridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	if c.Type != "memory" && c.Type != "valkey" {
		return fmt.Errorf("CACHE_TYPE must be either \"memory\" or \"valkey\", got %q", c.Type)
	}

	if c.TTLSeconds <= 0 {
		return fmt.Errorf("CACHE_TTL_SECS must be positive")
	}

	// Encryption requires distributed cache
	if c.Encryption.Enabled && c.Type != "valkey" {
		return fmt.Errorf("cache encryption requires CACHE_TYPE=valkey")
	}

	if c.Encryption.Enabled && c.Encryption.KeysetFile == "" {
		return fmt.Errorf("CACHE_ENCRYPTION_KEYSET_FILE required when encryption enabled")
	}

	// Valkey requires address
	if c.Type == "valkey" && c.Valkey.Address == "" {
		return fmt.Errorf("VALKEY_ADDRESS required when CACHE_TYPE=valkey")
	}

	return nil
}
