package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// MockResponse is a canned upstream reply.
type MockResponse struct {
	Status     int
	Body       any    // marshalled to JSON when not nil
	RetryAfter string // Retry-After header, set when not empty
}

func (m MockResponse) write(w http.ResponseWriter) {
	if m.RetryAfter != "" {
		w.Header().Set("Retry-After", m.RetryAfter)
	}

	status := m.Status
	if status == 0 {
		status = http.StatusOK
	}

	if m.Body == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, _ := json.Marshal(m.Body)
	_, _ = w.Write(data)
}

// MockAccountsServer provides a configurable mock of the Spotify token
// endpoint.
type MockAccountsServer struct {
	Server *httptest.Server

	mu            sync.Mutex
	token         string
	expiresIn     int
	refreshToken  string
	status        int
	requestCount  int
	refreshTokens []string
}

// SetupMockAccountsServer creates a token endpoint that issues a numbered
// access token ("access-1", "access-2", ...) on every successful call.
func SetupMockAccountsServer(t *testing.T) *MockAccountsServer {
	t.Helper()

	mock := &MockAccountsServer{
		token:     "access",
		expiresIn: 3600,
		status:    http.StatusOK,
	}

	router := http.NewServeMux()

	router.HandleFunc("POST /api/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		mock.mu.Lock()
		mock.requestCount++
		mock.refreshTokens = append(mock.refreshTokens, r.PostForm.Get("refresh_token"))
		count, status := mock.requestCount, mock.status
		resp := map[string]any{
			"access_token": mock.token + "-" + strconv.Itoa(count),
			"token_type":   "Bearer",
			"expires_in":   mock.expiresIn,
			"scope":        "user-read-currently-playing user-read-recently-played",
		}
		if mock.refreshToken != "" {
			resp["refresh_token"] = mock.refreshToken
		}
		mock.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid refresh token"}`))
			return
		}

		WriteJSON(w, resp)
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)

	return mock
}

// TokenURL is the token endpoint address.
func (m *MockAccountsServer) TokenURL() string {
	return m.Server.URL + "/api/token"
}

// SetStatus makes subsequent calls fail with status.
func (m *MockAccountsServer) SetStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// SetRotatedRefreshToken makes subsequent responses carry a new refresh token.
func (m *MockAccountsServer) SetRotatedRefreshToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshToken = token
}

func (m *MockAccountsServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// RefreshTokens lists the refresh tokens presented, in order.
func (m *MockAccountsServer) RefreshTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.refreshTokens...)
}

// MockSpotifyAPIServer provides a configurable mock of the player endpoints
// of the Spotify Web API.
type MockSpotifyAPIServer struct {
	Server *httptest.Server

	mu                  sync.Mutex
	currentlyPlaying    []MockResponse
	recentlyPlayed      MockResponse
	currentlyPlayingHit int
	recentlyPlayedHit   int
	authHeaders         []string
}

// SetupMockSpotifyAPIServer creates a Web API server that reports nothing
// playing and an empty history until configured otherwise.
func SetupMockSpotifyAPIServer(t *testing.T) *MockSpotifyAPIServer {
	t.Helper()

	mock := &MockSpotifyAPIServer{
		currentlyPlaying: []MockResponse{{Status: http.StatusNoContent}},
		recentlyPlayed:   MockResponse{Body: map[string]any{"items": []any{}}},
	}

	router := http.NewServeMux()

	router.HandleFunc("GET /v1/me/player/currently-playing", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.authHeaders = append(mock.authHeaders, r.Header.Get("Authorization"))
		idx := min(mock.currentlyPlayingHit, len(mock.currentlyPlaying)-1)
		resp := mock.currentlyPlaying[idx]
		mock.currentlyPlayingHit++
		mock.mu.Unlock()

		resp.write(w)
	})

	router.HandleFunc("GET /v1/me/player/recently-played", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.authHeaders = append(mock.authHeaders, r.Header.Get("Authorization"))
		resp := mock.recentlyPlayed
		mock.recentlyPlayedHit++
		mock.mu.Unlock()

		resp.write(w)
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)

	return mock
}

// APIURL is the Web API base address.
func (m *MockSpotifyAPIServer) APIURL() string {
	return m.Server.URL + "/v1"
}

// SetCurrentlyPlaying sets the replies to successive currently-playing calls.
// The last reply is repeated once the others are used up.
func (m *MockSpotifyAPIServer) SetCurrentlyPlaying(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentlyPlaying = responses
	m.currentlyPlayingHit = 0
}

func (m *MockSpotifyAPIServer) SetRecentlyPlayed(response MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recentlyPlayed = response
}

func (m *MockSpotifyAPIServer) CurrentlyPlayingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentlyPlayingHit
}

func (m *MockSpotifyAPIServer) RecentlyPlayedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recentlyPlayedHit
}

// AuthHeaders lists the Authorization headers received, in order.
func (m *MockSpotifyAPIServer) AuthHeaders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.authHeaders...)
}

// Track builds a Web API track object.
func Track(name string, artists ...string) map[string]any {
	artistObjs := make([]any, 0, len(artists))
	for _, a := range artists {
		artistObjs = append(artistObjs, map[string]any{"name": a, "type": "artist"})
	}

	return map[string]any{
		"name":        name,
		"artists":     artistObjs,
		"duration_ms": 215000,
		"album": map[string]any{
			"name": name + " (album)",
			"images": []any{
				map[string]any{"url": "https://i.scdn.co/image/large", "height": 640, "width": 640},
				map[string]any{"url": "https://i.scdn.co/image/small", "height": 64, "width": 64},
			},
		},
		"external_urls": map[string]any{"spotify": "https://open.spotify.com/track/" + name},
	}
}

// CurrentlyPlaying builds a currently-playing body. A nil item reproduces
// the idle player reply some accounts receive instead of 204.
func CurrentlyPlaying(item map[string]any, progressMs int, playing bool) map[string]any {
	var it any
	if item != nil {
		it = item
	}
	return map[string]any{
		"timestamp":   time.Now().UnixMilli(),
		"progress_ms": progressMs,
		"is_playing":  playing,
		"item":        it,
	}
}

// RecentlyPlayed builds a recently-played body with the given tracks, most
// recent first, played at one minute intervals before playedAt.
func RecentlyPlayed(playedAt time.Time, tracks ...map[string]any) map[string]any {
	items := make([]any, 0, len(tracks))
	for i, track := range tracks {
		items = append(items, map[string]any{
			"track":     track,
			"played_at": playedAt.Add(-time.Duration(i) * time.Minute).UTC().Format(time.RFC3339Nano),
		})
	}
	return map[string]any{"items": items}
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
