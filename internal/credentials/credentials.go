// Package credentials holds the Spotify application credentials read from
// configuration at process start.
package credentials

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/nowplaying-bridge/nowplaying-bridge/internal/config"
)

// DefaultRedirectURI is used when neither configuration nor the caller
// supplies a redirect URI.
const DefaultRedirectURI = "http://localhost:3000/api/spotify/callback"

// ErrMissingRefreshToken matches the ConfigurationError returned when no
// refresh token is configured or supplied.
var ErrMissingRefreshToken = errors.New("refresh token not configured")

// ConfigurationError indicates a required credential is absent.
type ConfigurationError struct {
	Variable string
	Err      error
}

func (e ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s is not configured: %v", e.Variable, e.Err)
	}
	return fmt.Sprintf("%s is not configured", e.Variable)
}

func (e ConfigurationError) Unwrap() error {
	return e.Err
}

func (e ConfigurationError) Status() (int, string) {
	return http.StatusInternalServerError, "Spotify credentials are not configured"
}

// Source supplies credentials for the token refresh call. It is immutable
// once created.
type Source struct {
	clientID     string
	refreshToken string
	redirectURI  string
	basicAuth    string
}

// New validates that the client ID and secret are present. The refresh token
// and redirect URI are optional at this point.
func New(cfg config.SpotifyConfig) (*Source, error) {
	if cfg.ClientID == "" {
		return nil, ConfigurationError{Variable: "SPOTIFY_CLIENT_ID"}
	}
	if cfg.ClientSecret == "" {
		return nil, ConfigurationError{Variable: "SPOTIFY_CLIENT_SECRET"}
	}

	basic := base64.StdEncoding.EncodeToString([]byte(cfg.ClientID + ":" + cfg.ClientSecret))

	return &Source{
		clientID:     cfg.ClientID,
		refreshToken: cfg.RefreshToken,
		redirectURI:  cfg.RedirectURI,
		basicAuth:    "Basic " + basic,
	}, nil
}

// BasicAuthHeader returns the complete Authorization header value for the
// token endpoint.
func (s *Source) BasicAuthHeader() string {
	return s.basicAuth
}

// RefreshToken returns override when supplied, falling back to the configured
// refresh token.
func (s *Source) RefreshToken(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if s.refreshToken == "" {
		return "", ConfigurationError{Variable: "SPOTIFY_REFRESH_TOKEN", Err: ErrMissingRefreshToken}
	}
	return s.refreshToken, nil
}

// RedirectURI returns the configured redirect URI, then fallback, then
// DefaultRedirectURI.
func (s *Source) RedirectURI(fallback string) string {
	if s.redirectURI != "" {
		return s.redirectURI
	}
	if fallback != "" {
		return fallback
	}
	return DefaultRedirectURI
}

// Digest identifies the account the configured credentials mint tokens for.
// Shared caches use it to namespace their keys, so a credential change
// never serves a token issued for the previous account.
func (s *Source) Digest() string {
	sum := sha256.Sum256([]byte(s.clientID + "\x00" + s.refreshToken))
	return hex.EncodeToString(sum[:8])
}
