package nowplaying_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/nowplaying-bridge/nowplaying-bridge/internal/nowplaying"
	"github.com/nowplaying-bridge/nowplaying-bridge/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	mu         sync.Mutex
	token      string
	err        error
	refreshErr error
	gets       int
	refreshes  int
}

func (f *fakeTokens) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	return f.token, f.err
}

func (f *fakeTokens) ForceRefresh(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	f.token = "refreshed"
	return f.token, nil
}

func setup(t *testing.T) (*nowplaying.Resolver, *testhelpers.MockSpotifyAPIServer, *fakeTokens) {
	t.Helper()
	api := testhelpers.SetupMockSpotifyAPIServer(t)
	tokens := &fakeTokens{token: "initial"}
	r := nowplaying.NewResolver(tokens,
		nowplaying.WithHTTPClient(api.Server.Client()),
		nowplaying.WithAPIURL(api.APIURL()),
	)
	return r, api, tokens
}

func TestFetch_Playing(t *testing.T) {
	r, api, _ := setup(t)
	api.SetCurrentlyPlaying(testhelpers.MockResponse{
		Body: testhelpers.CurrentlyPlaying(testhelpers.Track("Song", "A", "B"), 42000, true),
	})

	result, err := r.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, nowplaying.OutcomePlaying, result.Outcome())
	track, ok := result.Track()
	require.True(t, ok)

	art := "https://i.scdn.co/image/large"
	progress := 42000
	assert.Equal(t, nowplaying.Track{
		Name:       "Song",
		Artist:     "A, B",
		AlbumArt:   &art,
		IsPlaying:  true,
		SpotifyURL: "https://open.spotify.com/track/Song",
		Progress:   &progress,
		Duration:   215000,
	}, track)

	payload := result.Payload()
	assert.True(t, payload.IsPlaying)
	assert.False(t, payload.IsLastPlayed)

	assert.Equal(t, 0, api.RecentlyPlayedCount())
	assert.Equal(t, []string{"Bearer initial"}, api.AuthHeaders())
}

func TestFetch_Paused(t *testing.T) {
	r, api, _ := setup(t)
	api.SetCurrentlyPlaying(testhelpers.MockResponse{
		Body: testhelpers.CurrentlyPlaying(testhelpers.Track("Song", "A"), 1000, false),
	})

	result, err := r.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, nowplaying.OutcomePlaying, result.Outcome())
	track, _ := result.Track()
	assert.False(t, track.IsPlaying)
	assert.False(t, result.Payload().IsPlaying)
	assert.Equal(t, 0, api.RecentlyPlayedCount())
}

func TestFetch_NoAlbumArt(t *testing.T) {
	r, api, _ := setup(t)
	item := testhelpers.Track("Song", "A")
	item["album"] = map[string]any{"images": []any{}}
	api.SetCurrentlyPlaying(testhelpers.MockResponse{
		Body: testhelpers.CurrentlyPlaying(item, 0, true),
	})

	result, err := r.Fetch(context.Background())
	require.NoError(t, err)

	track, ok := result.Track()
	require.True(t, ok)
	assert.Nil(t, track.AlbumArt)
}

func TestFetch_IdleFallsBackToLastPlayed(t *testing.T) {
	playedAt := time.Date(2024, 5, 1, 11, 58, 0, 0, time.UTC)

	tests := []struct {
		name    string
		current testhelpers.MockResponse
	}{
		{
			name:    "no content",
			current: testhelpers.MockResponse{Status: http.StatusNoContent},
		},
		{
			name:    "null item",
			current: testhelpers.MockResponse{Body: testhelpers.CurrentlyPlaying(nil, 0, false)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, api, _ := setup(t)
			api.SetCurrentlyPlaying(tt.current)
			api.SetRecentlyPlayed(testhelpers.MockResponse{
				Body: testhelpers.RecentlyPlayed(playedAt, testhelpers.Track("Earlier", "C")),
			})

			result, err := r.Fetch(context.Background())
			require.NoError(t, err)

			assert.Equal(t, nowplaying.OutcomeLastPlayed, result.Outcome())
			assert.Equal(t, 1, api.RecentlyPlayedCount())

			track, ok := result.Track()
			require.True(t, ok)
			assert.Equal(t, "Earlier", track.Name)
			assert.False(t, track.IsPlaying)
			assert.Nil(t, track.Progress)
			require.NotNil(t, track.PlayedAt)
			assert.True(t, playedAt.Equal(*track.PlayedAt))

			payload := result.Payload()
			assert.False(t, payload.IsPlaying)
			assert.True(t, payload.IsLastPlayed)
		})
	}
}

func TestFetch_LastPlayedDegradesToNothing(t *testing.T) {
	tests := []struct {
		name   string
		recent testhelpers.MockResponse
	}{
		{name: "empty history", recent: testhelpers.MockResponse{Body: map[string]any{"items": []any{}}}},
		{name: "history refused", recent: testhelpers.MockResponse{Status: http.StatusForbidden}},
		{name: "history rate limited", recent: testhelpers.MockResponse{Status: http.StatusTooManyRequests, RetryAfter: "5"}},
		{name: "history undecodable", recent: testhelpers.MockResponse{Body: "not an object"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, api, _ := setup(t)
			api.SetRecentlyPlayed(tt.recent)

			result, err := r.Fetch(context.Background())
			require.NoError(t, err)

			assert.Equal(t, nowplaying.OutcomeNothing, result.Outcome())
			assert.Equal(t, nowplaying.Payload{}, result.Payload())
			assert.Equal(t, 1, api.RecentlyPlayedCount())
		})
	}
}

func TestFetch_UnauthorizedRetriesOnce(t *testing.T) {
	r, api, tokens := setup(t)
	api.SetCurrentlyPlaying(
		testhelpers.MockResponse{Status: http.StatusUnauthorized},
		testhelpers.MockResponse{Body: testhelpers.CurrentlyPlaying(testhelpers.Track("Song", "A"), 10, true)},
	)

	result, err := r.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, nowplaying.OutcomePlaying, result.Outcome())
	assert.True(t, result.Reauthenticated())
	assert.Equal(t, 1, tokens.refreshes)
	assert.Equal(t, 2, api.CurrentlyPlayingCount())
	assert.Equal(t, []string{"Bearer initial", "Bearer refreshed"}, api.AuthHeaders())
}

func TestFetch_UnauthorizedRetryIdleUsesNewToken(t *testing.T) {
	r, api, _ := setup(t)
	api.SetCurrentlyPlaying(
		testhelpers.MockResponse{Status: http.StatusUnauthorized},
		testhelpers.MockResponse{Status: http.StatusNoContent},
	)
	api.SetRecentlyPlayed(testhelpers.MockResponse{
		Body: testhelpers.RecentlyPlayed(time.Now(), testhelpers.Track("Earlier", "C")),
	})

	result, err := r.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, nowplaying.OutcomeLastPlayed, result.Outcome())
	assert.Equal(t, []string{"Bearer initial", "Bearer refreshed", "Bearer refreshed"}, api.AuthHeaders())
}

func TestFetch_UnauthorizedTwiceSurfacesRetryStatus(t *testing.T) {
	tests := []struct {
		name  string
		retry testhelpers.MockResponse
	}{
		{name: "unauthorized", retry: testhelpers.MockResponse{Status: http.StatusUnauthorized}},
		{name: "rate limited", retry: testhelpers.MockResponse{Status: http.StatusTooManyRequests, RetryAfter: "10"}},
		{name: "server error", retry: testhelpers.MockResponse{Status: http.StatusBadGateway}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, api, tokens := setup(t)
			api.SetCurrentlyPlaying(testhelpers.MockResponse{Status: http.StatusUnauthorized}, tt.retry)

			result, err := r.Fetch(context.Background())
			require.NoError(t, err)

			status, ok := result.Unavailable()
			require.True(t, ok)
			assert.Equal(t, tt.retry.Status, status)
			assert.True(t, result.Reauthenticated())

			assert.Equal(t, 1, tokens.refreshes)
			assert.Equal(t, 2, api.CurrentlyPlayingCount())
			assert.Equal(t, 0, api.RecentlyPlayedCount())
		})
	}
}

func TestFetch_UnauthorizedRefreshFails(t *testing.T) {
	r, api, tokens := setup(t)
	tokens.refreshErr = errors.New("refresh rejected")
	api.SetCurrentlyPlaying(testhelpers.MockResponse{Status: http.StatusUnauthorized})

	_, err := r.Fetch(context.Background())

	assert.ErrorContains(t, err, "refresh rejected")
	assert.Equal(t, 1, api.CurrentlyPlayingCount())
}

func TestFetch_RateLimited(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		retryAfter int
	}{
		{name: "header", header: "45", retryAfter: 45},
		{name: "zero", header: "0", retryAfter: 0},
		{name: "absent", header: "", retryAfter: 60},
		{name: "http date", header: "Wed, 21 Oct 2015 07:28:00 GMT", retryAfter: 60},
		{name: "negative", header: "-3", retryAfter: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, api, tokens := setup(t)
			api.SetCurrentlyPlaying(testhelpers.MockResponse{Status: http.StatusTooManyRequests, RetryAfter: tt.header})

			result, err := r.Fetch(context.Background())
			require.NoError(t, err)

			retryAfter, ok := result.RateLimited()
			require.True(t, ok)
			assert.Equal(t, tt.retryAfter, retryAfter)

			assert.Equal(t, 0, api.RecentlyPlayedCount())
			assert.Equal(t, 1, api.CurrentlyPlayingCount())
			assert.Equal(t, 0, tokens.refreshes)
		})
	}
}

func TestFetch_OtherStatusNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			r, api, tokens := setup(t)
			api.SetCurrentlyPlaying(testhelpers.MockResponse{Status: status})

			result, err := r.Fetch(context.Background())
			require.NoError(t, err)

			got, ok := result.Unavailable()
			require.True(t, ok)
			assert.Equal(t, status, got)
			assert.False(t, result.Reauthenticated())
			assert.Equal(t, 1, api.CurrentlyPlayingCount())
			assert.Equal(t, 0, tokens.refreshes)
		})
	}
}

func TestFetch_TokenFailurePropagates(t *testing.T) {
	r, api, tokens := setup(t)
	tokens.err = errors.New("no refresh token")

	_, err := r.Fetch(context.Background())

	assert.ErrorContains(t, err, "no refresh token")
	assert.Equal(t, 0, api.CurrentlyPlayingCount())
}

func TestFetch_NetworkFailure(t *testing.T) {
	r, api, _ := setup(t)
	api.Server.Close()

	_, err := r.Fetch(context.Background())

	var netErr nowplaying.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "currently playing", netErr.Op)
}

func TestFetch_UndecodableBody(t *testing.T) {
	r, api, _ := setup(t)
	api.SetCurrentlyPlaying(testhelpers.MockResponse{Body: []any{"unexpected"}})

	_, err := r.Fetch(context.Background())

	var netErr nowplaying.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.ErrorContains(t, err, "decode response")
}

func TestFetch_Idempotent(t *testing.T) {
	r, api, _ := setup(t)
	api.SetCurrentlyPlaying(testhelpers.MockResponse{
		Body: testhelpers.CurrentlyPlaying(testhelpers.Track("Song", "A", "B"), 42000, true),
	})

	first, err := r.Fetch(context.Background())
	require.NoError(t, err)
	second, err := r.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Payload(), second.Payload())
}
