package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimMethod(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		expected string
	}{
		{
			name:     "GET method with path",
			pattern:  "GET /api/spotify/now-playing",
			expected: "/api/spotify/now-playing",
		},
		{
			name:     "POST method with path",
			pattern:  "POST /api/token",
			expected: "/api/token",
		},
		{
			name:     "PUT method with path",
			pattern:  "PUT /resource/{id}",
			expected: "/resource/{id}",
		},
		{
			name:     "path without method",
			pattern:  "/api/endpoint",
			expected: "/api/endpoint",
		},
		{
			name:     "path with invalid method prefix",
			pattern:  "INVALID /path",
			expected: "INVALID /path",
		},
		{
			name:     "lowercase method not stripped",
			pattern:  "get /test",
			expected: "get /test",
		},
		{
			name:     "empty string",
			pattern:  "",
			expected: "",
		},
		{
			name:     "method without trailing space",
			pattern:  "GET",
			expected: "GET",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TrimMethod(tt.pattern)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestMux_Handle(t *testing.T) {
	inner := http.NewServeMux()
	mux := NewMux(inner)

	called := false
	mux.Handle("GET /api/spotify/now-playing", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/spotify/now-playing", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, []string{"GET /api/spotify/now-playing"}, mux.Routes())
}

func TestMux_UnregisteredRoute(t *testing.T) {
	mux := NewMux(http.NewServeMux())

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Empty(t, mux.Routes())
}
