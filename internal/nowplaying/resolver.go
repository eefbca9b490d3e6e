// Package nowplaying answers "what is playing on the account right now",
// falling back to the most recently played track when the player is idle.
package nowplaying

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
)

const (
	// DefaultAPIURL is the Spotify Web API base.
	DefaultAPIURL = "https://api.spotify.com/v1"

	// DefaultRetryAfter is used when a 429 carries no usable Retry-After.
	DefaultRetryAfter = 60

	maxResponseBytes = 1 << 20
)

// TokenSource supplies bearer tokens for the Web API.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// Fetcher resolves the current playback state.
type Fetcher func(ctx context.Context) (Result, error)

// NetworkError reports a failed exchange with the Web API: the request could
// not be made or the response could not be read.
type NetworkError struct {
	Op  string
	Err error
}

func (e NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e NetworkError) Unwrap() error {
	return e.Err
}

type Resolver struct {
	tokens TokenSource
	client *http.Client
	apiURL string
}

type Option func(*Resolver)

// WithHTTPClient sets the client used for Web API calls. The client's
// timeout bounds each call.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		r.client = client
	}
}

// WithAPIURL overrides the Web API base URL.
func WithAPIURL(apiURL string) Option {
	return func(r *Resolver) {
		if apiURL != "" {
			r.apiURL = strings.TrimSuffix(apiURL, "/")
		}
	}
}

func NewResolver(tokens TokenSource, opts ...Option) *Resolver {
	r := &Resolver{
		tokens: tokens,
		client: http.DefaultClient,
		apiURL: DefaultAPIURL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch resolves the playback state. Upstream refusals are reported in the
// result; an error is returned only when no token can be obtained or the
// currently-playing call fails outright. A 401 triggers exactly one token
// refresh and one retry.
func (r *Resolver) Fetch(ctx context.Context) (Result, error) {
	token, err := r.tokens.AccessToken(ctx)
	if err != nil {
		return Result{}, err
	}

	res, err := r.currentlyPlaying(ctx, token)
	if err != nil {
		return Result{}, err
	}

	if res.status == http.StatusUnauthorized {
		log.Ctx(ctx).Info().Msg("access token rejected by spotify, refreshing")

		token, err = r.tokens.ForceRefresh(ctx)
		if err != nil {
			return Result{}, err
		}

		res, err = r.currentlyPlaying(ctx, token)
		if err != nil {
			return Result{}, err
		}

		if !isSuccess(res.status) {
			log.Ctx(ctx).Warn().Int("status", res.status).Msg("currently playing retry failed")
			return NewUnavailable(res.status).withReauthentication(), nil
		}

		return r.resolve(ctx, token, res).withReauthentication(), nil
	}

	return r.resolve(ctx, token, res), nil
}

func (r *Resolver) resolve(ctx context.Context, token string, res currentResponse) Result {
	switch {
	case res.status == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(res.retryAfter)
		log.Ctx(ctx).Warn().Int("retry_after", retryAfter).Msg("rate limited by spotify")
		return NewRateLimited(retryAfter)

	case !isSuccess(res.status):
		log.Ctx(ctx).Warn().Int("status", res.status).Msg("currently playing request failed")
		return NewUnavailable(res.status)

	case res.playing == nil || res.playing.Item == nil:
		return r.lastPlayed(ctx, token)

	default:
		return NewPlaying(normalizeCurrent(*res.playing), res.playing.Playing)
	}
}

type currentResponse struct {
	status     int
	retryAfter string
	playing    *spotify.CurrentlyPlaying
}

func (r *Resolver) currentlyPlaying(ctx context.Context, token string) (currentResponse, error) {
	res, body, err := r.get(ctx, "/me/player/currently-playing", token)
	if err != nil {
		return currentResponse{}, NetworkError{Op: "currently playing", Err: err}
	}

	out := currentResponse{
		status:     res.StatusCode,
		retryAfter: res.Header.Get("Retry-After"),
	}

	if !isSuccess(res.StatusCode) || res.StatusCode == http.StatusNoContent || len(body) == 0 {
		return out, nil
	}

	var cp spotify.CurrentlyPlaying
	if err := json.Unmarshal(body, &cp); err != nil {
		return currentResponse{}, NetworkError{Op: "currently playing", Err: fmt.Errorf("decode response: %w", err)}
	}
	out.playing = &cp

	return out, nil
}

// lastPlayed never fails: any problem fetching history resolves to nothing
// playing.
func (r *Resolver) lastPlayed(ctx context.Context, token string) Result {
	res, body, err := r.get(ctx, "/me/player/recently-played?limit=1", token)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("recently played request failed")
		return NewNothing()
	}

	if !isSuccess(res.StatusCode) {
		log.Ctx(ctx).Warn().Int("status", res.StatusCode).Msg("recently played request refused")
		return NewNothing()
	}

	var recent recentlyPlayed
	if err := json.Unmarshal(body, &recent); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("recently played response could not be decoded")
		return NewNothing()
	}

	if len(recent.Items) == 0 {
		return NewNothing()
	}

	return NewLastPlayed(normalizeRecent(recent.Items[0]))
}

func (r *Resolver) get(ctx context.Context, path, token string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.apiURL+path, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := r.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	return res, body, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}

// parseRetryAfter reads a Retry-After value in seconds.
func parseRetryAfter(value string) int {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		return DefaultRetryAfter
	}
	return seconds
}
