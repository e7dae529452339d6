package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// maxBackoff caps a single wait between commit attempts.
const maxBackoff = 2 * time.Second

// Postgres SQLSTATEs for conflicts between concurrent epoch commits.
var retriableCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && retriableCodes[pgErr.Code]
}

// backoff returns the wait before retry number attempt (0-based): base
// doubled per attempt, capped, plus up to the same again in jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	d = min(d, maxBackoff)
	return d + time.Duration(rand.Int64N(int64(d))) //nolint:gosec // jitter only
}

// WithRetry runs fn and reruns it up to maxRetries more times while it fails
// with a transient commit conflict. Other errors end the loop at once.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	attempt := 0
	for {
		err := fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == maxRetries {
			return fmt.Errorf("storage: gave up after %d attempts: %w", attempt+1, err)
		}
		timer := time.NewTimer(backoff(baseDelay, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		attempt++
	}
}
