// Package retry gives gflow's CLI programs (all of cmd/, via pkg/cliclient) tolerance
// for the brief window right after `gflowd up` when the daemon has
// forked but the API listener isn't bound yet, and for the restart
// subcommand's own down-then-up cycle. It is not used inside gflowd
// itself — the scheduler's tick loop already retries indefinitely by
// virtue of running forever, so wrapping its own steps in this package
// would just add a second, redundant backoff.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config bounds one retried operation's attempts and backoff growth.
type Config struct {
	MaxRetries     int           // additional attempts after the first
	InitialBackoff time.Duration // delay before the first retry
	MaxBackoff     time.Duration // backoff ceiling
	Multiplier     float64       // backoff growth per attempt
}

// DefaultConfig is what cliclient.New uses: three retries, one second up
// to thirty, doubling each time — enough to ride out a `gflowd restart`
// without a CLI command failing outright.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// Do calls fn until it succeeds, ctx is cancelled, or config.MaxRetries
// is exhausted, whichever comes first. It does not inspect the error fn
// returns to decide whether to retry — cliclient only calls Do around
// the connection-establishment step, where any error means "daemon not
// reachable yet" and is worth retrying regardless of its text.
func Do(ctx context.Context, config Config, fn func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt == config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", config.MaxRetries, lastErr)
}

// IsRetryable classifies a network-level error as transient. gflowd's
// daemon-not-up window surfaces as "connection refused"; a stale unix
// socket left by a crashed daemon surfaces as "broken pipe" or "eof".
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"503",
		"502",
		"504",
		"eof",
		"broken pipe",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
