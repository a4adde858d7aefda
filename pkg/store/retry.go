package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Retry policy: exponential backoff starting at 100ms, doubling, capped at
// 2s, for at most 3 attempts total. Grounded on the teacher's
// NotifyListener.reconnect backoff (pkg/events/listener.go), generalized
// from "retry forever on disconnect" to "retry a bounded number of times on
// a single query", since store callers need a definite answer rather than
// an indefinitely retried connection.
const (
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
	retryMaxTries  = 3
)

// WithRetry runs fn, retrying on transient PostgreSQL errors (connection
// failures and serialization/deadlock conflicts under FOR UPDATE SKIP
// LOCKED contention) up to retryMaxTries times with exponential backoff.
// Non-transient errors (including context cancellation) are returned
// immediately without retrying.
func WithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := retryBaseDelay

	for attempt := 1; attempt <= retryMaxTries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) || attempt == retryMaxTries {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, retryMaxDelay)
	}
	return lastErr
}

// isRetryable reports whether err is a transient condition worth retrying:
// connection-level failures, or the Postgres serialization_failure (40001)
// and deadlock_detected (40P01) classes that FOR UPDATE SKIP LOCKED
// contention and concurrent claims can surface.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		default:
			return false
		}
	}

	// Connection-level errors (refused, reset, broken pipe) are not
	// *pgconn.PgError — pgx surfaces them as plain net/op errors. Treat any
	// non-PgError failure from the pool as potentially transient.
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
