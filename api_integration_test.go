//go:build integration

package main

import (
	"net/http"
	"testing"

	"github.com/nowplaying-bridge/nowplaying-bridge/internal/config"
	"github.com/nowplaying-bridge/nowplaying-bridge/internal/testhelpers"
	"github.com/stretchr/testify/assert"
)

// Two bridge instances sharing one Valkey cache mint a single token between
// them.
func TestIntegrationAPI_SharedValkeyCache(t *testing.T) {
	cacheConfig := testhelpers.RunValkeyContainer(t)
	cacheConfig.Encryption = config.CacheEncryptionConfig{
		Enabled:    true,
		KeysetFile: testhelpers.WriteTestKeyset(t),
	}

	first := NewAPITestHarness(t, WithCache(cacheConfig))

	res, _ := first.Get("/api/spotify/now-playing")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 1, first.Accounts.RequestCount())

	second := NewAPITestHarness(t, WithCache(cacheConfig))

	res, _ = second.Get("/api/spotify/now-playing")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 0, second.Accounts.RequestCount())
	assert.Equal(t, []string{"Bearer access-1"}, second.API.AuthHeaders())
}
