package testhelpers

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger sends global and context-free log output to the test log for
// the duration of the test.
func SetupLogger(t *testing.T) {
	t.Helper()

	prevLogger := log.Logger
	prevContextLogger := zerolog.DefaultContextLogger

	log.Logger = zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log.Logger

	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.DefaultContextLogger = prevContextLogger
	})
}
