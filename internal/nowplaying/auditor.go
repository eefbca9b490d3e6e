package nowplaying

import (
	"context"
	"fmt"

	"github.com/nowplaying-bridge/nowplaying-bridge/internal/audit"
)

// Auditor wraps a Fetcher and records the resolution in the request's audit
// entry.
func Auditor(fetch Fetcher) Fetcher {
	return func(ctx context.Context) (Result, error) {
		result, err := fetch(ctx)

		entry := audit.Log(ctx)
		if err != nil {
			entry.Error = fmt.Sprintf("now playing failure: %v", err)
			return result, err
		}

		entry.Outcome = result.Outcome().String()
		entry.Reauthenticated = result.Reauthenticated()
		if status, ok := result.Unavailable(); ok {
			entry.UpstreamStatus = status
		}
		if retryAfter, ok := result.RateLimited(); ok {
			entry.RetryAfterSecs = retryAfter
		}

		return result, err
	}
}
