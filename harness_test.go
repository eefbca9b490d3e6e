package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nowplaying-bridge/nowplaying-bridge/internal/config"
	"github.com/nowplaying-bridge/nowplaying-bridge/internal/server"
	"github.com/nowplaying-bridge/nowplaying-bridge/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

// APITestHarness runs the full route configuration against mock Spotify
// servers.
type APITestHarness struct {
	t        *testing.T
	Server   *httptest.Server
	Accounts *testhelpers.MockAccountsServer
	API      *testhelpers.MockSpotifyAPIServer
}

// APITestHarnessOption adjusts the configuration before the routes are built.
type APITestHarnessOption func(*config.Config)

func WithAdminKey(key string) APITestHarnessOption {
	return func(cfg *config.Config) {
		cfg.Server.AdminAPIKey = key
	}
}

func WithRateLimit(perMinute int) APITestHarnessOption {
	return func(cfg *config.Config) {
		cfg.Server.RateLimitPerMinute = perMinute
	}
}

func WithCache(cacheConfig config.CacheConfig) APITestHarnessOption {
	return func(cfg *config.Config) {
		cfg.Cache = cacheConfig
	}
}

func WithoutRefreshToken() APITestHarnessOption {
	return func(cfg *config.Config) {
		cfg.Spotify.RefreshToken = ""
	}
}

func NewAPITestHarness(t *testing.T, options ...APITestHarnessOption) *APITestHarness {
	t.Helper()
	testhelpers.SetupLogger(t)

	hooks := &server.ShutdownHooks{}
	t.Cleanup(func() {
		_ = hooks.Execute(context.Background())
	})

	harness := &APITestHarness{
		t:        t,
		Accounts: testhelpers.SetupMockAccountsServer(t),
		API:      testhelpers.SetupMockSpotifyAPIServer(t),
	}

	cfg := config.Config{
		Cache: config.CacheConfig{
			Type:       "memory",
			TTLSeconds: 3600,
		},
		Observe: config.ObserveConfig{
			Enabled: false,
		},
		Spotify: config.SpotifyConfig{
			AccountsURL:  harness.Accounts.Server.URL,
			APIURL:       harness.API.APIURL(),
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RefreshToken: "configured-refresh",
		},
	}

	for _, opt := range options {
		opt(&cfg)
	}

	handler, err := configureServerRoutes(t.Context(), cfg, http.DefaultClient, hooks)
	require.NoError(t, err)

	harness.Server = httptest.NewServer(handler)
	t.Cleanup(harness.Server.Close)

	return harness
}

// Get issues a request to path, returning the response and its body.
func (h *APITestHarness) Get(path string, headers ...string) (*http.Response, []byte) {
	h.t.Helper()

	req, err := http.NewRequestWithContext(h.t.Context(), http.MethodGet, h.Server.URL+path, nil)
	require.NoError(h.t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(h.t, err)

	return res, body
}

// GetJSON issues a request and decodes the JSON response body.
func (h *APITestHarness) GetJSON(path string, out any, headers ...string) *http.Response {
	h.t.Helper()

	res, body := h.Get(path, headers...)
	require.NoError(h.t, json.Unmarshal(body, out), "body: %s", body)

	return res
}
