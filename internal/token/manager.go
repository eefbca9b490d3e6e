// Package token manages the Spotify access token: it is minted from the
// configured refresh token, cached until shortly before it expires, and
// re-minted on demand.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// maxResponseBytes bounds how much of a token endpoint response is read.
const maxResponseBytes = 1 << 20

// Credentials supplies the client authentication and refresh token for the
// token endpoint.
type Credentials interface {
	BasicAuthHeader() string
	RefreshToken(override string) (string, error)
}

// UpstreamAuthError reports a non-2xx response from the token endpoint.
type UpstreamAuthError struct {
	StatusCode int
	Body       string
}

func (e UpstreamAuthError) Error() string {
	return fmt.Sprintf("failed to refresh token: %d %s", e.StatusCode, e.Body)
}

func (e UpstreamAuthError) Status() (int, string) {
	return e.StatusCode, e.Error()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// token converts the response, keeping presented as the refresh token when
// upstream did not issue a new one.
func (r tokenResponse) token(presented string, expiry time.Time) *oauth2.Token {
	refreshToken := r.RefreshToken
	if refreshToken == "" {
		refreshToken = presented
	}

	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: refreshToken,
		Expiry:       expiry,
	}
}

// Manager hands out valid access tokens, refreshing through the token
// endpoint when the cached one is absent or stale.
type Manager struct {
	credentials Credentials
	cache       *Cache
	client      *http.Client
	tokenURL    string
	now         func() time.Time

	refreshes singleflight.Group
}

type ManagerOption func(*Manager)

// WithHTTPClient sets the client used for the token endpoint. The client's
// timeout bounds every refresh.
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) {
		m.client = client
	}
}

// WithTokenURL overrides the Spotify token endpoint.
func WithTokenURL(tokenURL string) ManagerOption {
	return func(m *Manager) {
		if tokenURL != "" {
			m.tokenURL = tokenURL
		}
	}
}

// WithManagerClock replaces the wall clock used to stamp manual refresh
// results.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(credentials Credentials, cache *Cache, opts ...ManagerOption) *Manager {
	m := &Manager{
		credentials: credentials,
		cache:       cache,
		client:      http.DefaultClient,
		tokenURL:    spotifyauth.TokenURL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AccessToken returns a valid access token. A cached, unexpired token is
// returned without any I/O; otherwise a new token is minted and cached.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if cached, ok := m.cache.Valid(ctx); ok {
		return cached.Token, nil
	}

	issued, err := m.sharedRefresh(ctx)
	if err != nil {
		return "", err
	}
	return issued.AccessToken, nil
}

// ForceRefresh mints a new token regardless of the cached expiry. It is used
// when upstream has rejected the cached token.
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	m.cache.Clear(ctx)

	issued, err := m.sharedRefresh(ctx)
	if err != nil {
		return "", err
	}
	return issued.AccessToken, nil
}

// Refresh is the manual refresh entry point. A non-empty override is used in
// place of the configured refresh token; its result is returned but not
// cached, as it may belong to a different account. The returned token
// carries the refresh token to use next time: the one issued by upstream, or
// the one presented when upstream did not rotate it.
func (m *Manager) Refresh(ctx context.Context, override string) (*oauth2.Token, error) {
	if override == "" {
		return m.sharedRefresh(ctx)
	}

	resp, err := m.requestToken(ctx, override)
	if err != nil {
		return nil, err
	}

	return resp.token(override, m.now().Add(time.Duration(resp.ExpiresIn)*time.Second-ExpiryMargin)), nil
}

// sharedRefresh collapses concurrent refreshes into one upstream call. The
// shared call is detached from the first caller's cancellation so that one
// abandoned request cannot fail the others; the HTTP client timeout still
// bounds it.
func (m *Manager) sharedRefresh(ctx context.Context) (*oauth2.Token, error) {
	result := m.refreshes.DoChan("refresh", func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})

	select {
	case r := <-result:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*oauth2.Token), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context) (*oauth2.Token, error) {
	presented, err := m.credentials.RefreshToken("")
	if err != nil {
		return nil, err
	}

	resp, err := m.requestToken(ctx, presented)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("spotify access token refresh failed")
		return nil, err
	}

	entry := m.cache.Write(ctx, resp.AccessToken, time.Duration(resp.ExpiresIn)*time.Second)

	ev := log.Ctx(ctx).Info()
	if resp.RefreshToken != "" && resp.RefreshToken != presented {
		ev = log.Ctx(ctx).Warn().Bool("rotated", true)
	}
	ev.Time("expiry", entry.ExpiresAt).Msg("spotify access token refreshed")

	return resp.token(presented, entry.ExpiresAt), nil
}

func (m *Manager) requestToken(ctx context.Context, refreshToken string) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", m.credentials.BasicAuthHeader())

	res, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, UpstreamAuthError{
			StatusCode: res.StatusCode,
			Body:       string(body),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("decode token response: no access_token present")
	}

	return &tr, nil
}
