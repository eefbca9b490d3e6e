package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/justinas/alice"
	"github.com/nowplaying-bridge/nowplaying-bridge/internal/audit"
	"github.com/nowplaying-bridge/nowplaying-bridge/internal/cache"
	"github.com/nowplaying-bridge/nowplaying-bridge/internal/config"
	"github.com/nowplaying-bridge/nowplaying-bridge/internal/credentials"
	"github.com/nowplaying-bridge/nowplaying-bridge/internal/nowplaying"
	"github.com/nowplaying-bridge/nowplaying-bridge/internal/observe"
	"github.com/nowplaying-bridge/nowplaying-bridge/internal/ratelimit"
	"github.com/nowplaying-bridge/nowplaying-bridge/internal/server"
	"github.com/nowplaying-bridge/nowplaying-bridge/internal/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
)

func configureServerRoutes(ctx context.Context, cfg config.Config, client *http.Client, hooks *server.ShutdownHooks) (http.Handler, error) {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// configure middleware
	auditor := audit.Middleware()
	clientLimiter := ratelimit.New(cfg.Server.RateLimitPerMinute)

	// Requests carry no body; anything larger than this is abuse.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	publicRouteMiddleware := alice.New(requestLimiter, auditor, clientLimiter.Middleware())
	standardRouteMiddleware := alice.New(requestLimiter)

	// setup token management
	creds, err := credentials.New(cfg.Spotify)
	if err != nil {
		return nil, fmt.Errorf("spotify credential configuration failed: %w", err)
	}
	log.Ctx(ctx).Info().
		Str("redirect_uri", creds.RedirectURI("")).
		Bool("refresh_token_configured", cfg.Spotify.RefreshToken != "").
		Msg("spotify credentials loaded")

	tokenStore, err := cache.NewFromConfig[token.AccessToken](
		cfg.Cache,
		time.Duration(cfg.Cache.TTLSeconds)*time.Second,
		10,
	)
	if err != nil {
		return nil, fmt.Errorf("token cache configuration failed: %w", err)
	}
	hooks.AddClose("token cache", tokenStore)

	tokenURL := spotifyauth.TokenURL
	if cfg.Spotify.AccountsURL != "" {
		tokenURL = strings.TrimSuffix(cfg.Spotify.AccountsURL, "/") + "/api/token"
	}

	manager := token.NewManager(creds,
		token.NewCache(tokenStore, creds),
		token.WithHTTPClient(client),
		token.WithTokenURL(tokenURL),
	)

	resolver := nowplaying.NewResolver(manager,
		nowplaying.WithHTTPClient(client),
		nowplaying.WithAPIURL(cfg.Spotify.APIURL),
	)

	mux.Handle("GET /api/spotify/now-playing",
		publicRouteMiddleware.Then(handleGetNowPlaying(nowplaying.Auditor(resolver.Fetch))))

	if cfg.Server.AdminAPIKey != "" {
		adminRouteMiddleware := alice.New(requestLimiter, auditor, requireAdminKey(cfg.Server.AdminAPIKey))
		mux.Handle("GET /api/spotify/refresh-token",
			adminRouteMiddleware.Then(handleGetRefreshToken(manager.Refresh)))
	} else {
		log.Ctx(ctx).Info().Msg("ADMIN_API_KEY not set: manual token refresh route disabled")
	}

	// healthchecks are not included in telemetry or auditing
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	log.Ctx(ctx).Debug().Strs("routes", mux.Routes()).Msg("routes configured")

	return mux, nil
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	hooks := &server.ShutdownHooks{}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	client := &http.Client{
		Transport: http.DefaultTransport,
		Timeout:   time.Duration(cfg.Server.OutgoingHTTPTimeoutSeconds) * time.Second,
	}

	// setup routing and dependencies
	handler, err := configureServerRoutes(ctx, cfg, client, hooks)
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	// telemetry is flushed last so the shutdown of other components is recorded
	hooks.AddContext("telemetry", shutdownTelemetry)

	// start the server
	srv := &http.Server{
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen failed: %w", err)
	}

	err = server.Serve(ctx, srv, ln, time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
