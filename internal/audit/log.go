// Package audit records one structured entry per request, written when the
// request completes.
package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the level audit entries are written at. It sits above every
// standard level so entries survive any configured log level filter.
const Level = zerolog.Level(20)

type key struct{}

var logKey = key{}

// Entry is the audit record for a single request. Handlers and the services
// they call fill in the fields relevant to them via Log(ctx).
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string
	Duration  time.Duration

	// Authorized is set for routes that require the admin key.
	Authorized bool

	// now playing resolution
	Outcome         string
	UpstreamStatus  int
	RetryAfterSecs  int
	Reauthenticated bool

	// manual token refresh
	RefreshOverride bool
	TokenExpiry     time.Time

	Error string
}

func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	request := zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent)
	if e.Duration > 0 {
		request.Dur("duration", e.Duration)
	}
	ev.Dict("request", request)

	if e.Authorized {
		ev.Dict("authorization", zerolog.Dict().Bool("authorized", true))
	}

	resolution := NewOptionalEvent(nil).
		Str("outcome", e.Outcome).
		Int("upstreamStatus", e.UpstreamStatus).
		Int("retryAfter", e.RetryAfterSecs)
	if e.Reauthenticated {
		resolution.Bool("reauthenticated", true)
	}
	resolution.Set(ev, "nowPlaying")

	token := NewOptionalEvent(nil).Expiry("expiry", e.TokenExpiry)
	if e.RefreshOverride {
		token.Bool("override", true)
	}
	token.Set(ev, "token")

	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

// Begin captures the request attributes.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	e.SourceIP = host
}

// End returns a function that writes the entry. Deferring the returned
// function also records, and then re-raises, any panic.
func (e *Entry) End(ctx context.Context) func() {
	start := time.Now()

	return func() {
		e.Duration = time.Since(start)

		if e.Status == 0 {
			e.Status = http.StatusOK
		}

		r := recover()
		if r != nil {
			e.Status = http.StatusInternalServerError
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)
		}

		log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit_event")

		if r != nil {
			panic(r)
		}
	}
}

// Middleware creates an audit entry for each request and writes it when the
// request completes.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			entry.Begin(r)
			defer entry.End(ctx)()

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r.WithContext(ctx))
			entry.Status = sw.status
		})
	}
}

// Context returns the entry held by ctx, adding a new one when there is none.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(logKey).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, logKey, e), e
}

// Log returns the entry for the current request. Outside an audited request
// the returned entry is detached and never written.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
