package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/nowplaying-bridge/nowplaying-bridge/internal/audit"
	"github.com/nowplaying-bridge/nowplaying-bridge/internal/credentials"
	"github.com/nowplaying-bridge/nowplaying-bridge/internal/nowplaying"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// TokenRefresher mints an access token, from override when supplied or from
// the configured refresh token otherwise.
type TokenRefresher func(ctx context.Context, override string) (*oauth2.Token, error)

func handleGetNowPlaying(fetch nowplaying.Fetcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Cache-Control", "no-store")

		result, err := fetch(r.Context())
		if err != nil {
			var netErr nowplaying.NetworkError
			if errors.As(err, &netErr) {
				log.Ctx(r.Context()).Warn().Err(err).Msg("spotify unreachable")
			} else {
				log.Ctx(r.Context()).Error().Err(err).Msg("now playing resolution failed")
			}
			writeJSONError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		if retryAfter, limited := result.RateLimited(); limited {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, RateLimitResponse{
				Error:      "Rate limit exceeded",
				RetryAfter: retryAfter,
			})
			return
		}

		if status, unavailable := result.Unavailable(); unavailable {
			writeJSONError(w, status, "Failed to fetch currently playing track")
			return
		}

		writeJSON(w, http.StatusOK, result.Payload())
	})
}

// RefreshResponse is the body returned by a manual token refresh.
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func handleGetRefreshToken(refresh TokenRefresher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Cache-Control", "no-store")

		override := r.URL.Query().Get("refresh_token")

		entry := audit.Log(r.Context())
		entry.RefreshOverride = override != ""

		token, err := refresh(r.Context(), override)
		if err != nil {
			entry.Error = fmt.Sprintf("token refresh failure: %v", err)
			log.Ctx(r.Context()).Info().Err(err).Msg("manual token refresh failed")

			if errors.Is(err, credentials.ErrMissingRefreshToken) {
				writeJSONError(w, http.StatusBadRequest, "Refresh token not provided")
				return
			}

			status, message := errorStatus(err)
			writeJSONError(w, status, message)
			return
		}

		entry.TokenExpiry = token.Expiry

		writeJSON(w, http.StatusOK, RefreshResponse{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
		})
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// requireAdminKey admits only requests presenting key as a bearer token.
func requireAdminKey(key string) func(http.Handler) http.Handler {
	expected := []byte(key)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				audit.Log(r.Context()).Error = "admin key missing or invalid"
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSONError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
				return
			}

			audit.Log(r.Context()).Authorized = true
			next.ServeHTTP(w, r)
		})
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RateLimitResponse is the error body for a rate limited request.
type RateLimitResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// the status is already written, so the failure can only be logged
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024)
	}
}
