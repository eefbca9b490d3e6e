package token

import (
	"context"
	"time"

	"github.com/nowplaying-bridge/nowplaying-bridge/internal/cache"
	"github.com/rs/zerolog/log"
)

// ExpiryMargin is subtracted from the upstream lifetime so a token is never
// presented in the final minute before it expires.
const ExpiryMargin = 60 * time.Second

const slotName = "spotify-access-token"

// AccessToken is a bearer token and the instant after which it must not be
// used.
type AccessToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ValidAt reports whether the token may be used at now.
func (t AccessToken) ValidAt(now time.Time) bool {
	return t.Token != "" && now.Before(t.ExpiresAt)
}

// Cache is a single slot holding the most recently issued access token. A
// write always replaces the previous token. The backing store is best-effort:
// failures are logged and read as an empty slot.
type Cache struct {
	store cache.TokenCache[AccessToken]
	key   string
	now   func() time.Time
}

type CacheOption func(*Cache)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a slot in store. The digester namespaces the slot so that
// a shared store never serves a token minted for different credentials.
func NewCache(store cache.TokenCache[AccessToken], digester cache.Digester, opts ...CacheOption) *Cache {
	c := &Cache{
		store: store,
		key:   cache.Key(digester, slotName),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Read returns the slot contents whether or not they have expired.
func (c *Cache) Read(ctx context.Context) (AccessToken, bool) {
	token, found, err := c.store.Get(ctx, c.key)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("token cache read failed, treating as empty")
		return AccessToken{}, false
	}
	return token, found
}

// Valid returns the cached token if one is present and unexpired.
func (c *Cache) Valid(ctx context.Context) (AccessToken, bool) {
	token, found := c.Read(ctx)
	if !found || !token.ValidAt(c.now()) {
		return AccessToken{}, false
	}
	return token, true
}

// Write stores token, valid until now + ttl - ExpiryMargin.
func (c *Cache) Write(ctx context.Context, token string, ttl time.Duration) AccessToken {
	entry := AccessToken{
		Token:     token,
		ExpiresAt: c.now().Add(ttl - ExpiryMargin),
	}

	if err := c.store.Set(ctx, c.key, entry); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("token cache write failed")
	}

	return entry
}

// Clear empties the slot.
func (c *Cache) Clear(ctx context.Context) {
	if err := c.store.Invalidate(ctx, c.key); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("token cache clear failed")
	}
}
