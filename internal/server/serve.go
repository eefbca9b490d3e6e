package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve accepts connections on ln until ctx is done, then stops the server
// gracefully. In-flight requests are given until timeout to complete, after
// which the shutdown hooks run with whatever time remains.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration, hooks *ShutdownHooks) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("server listening")
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped unexpectedly: %w", err)
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", timeout).Msg("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("server shutdown incomplete")
		shutdownErr = fmt.Errorf("server shutdown: %w", shutdownErr)
	}

	var hookErr error
	if hooks != nil {
		hookErr = hooks.Execute(shutdownCtx)
	}

	log.Info().Msg("server stopped")

	return errors.Join(shutdownErr, hookErr)
}
