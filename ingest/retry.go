/*
retry.go - Bounded retry for local-store writes.

The shared SQLite file is written from the scheduler loop and the HTTP path
at the same time, so SQLITE_BUSY is a normal condition, not a bug. Writes
are retried with a fixed delay up to MaxAttempts; exhaustion surfaces the
last error so a write is never silently dropped. Non-contention storage
errors go through the same blanket policy: downstream consumers tolerate a
delayed pass better than a half-written one.
*/
package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pospro/inventory-engine/store/sqlite"
)

// RetryPolicy retries an operation with a fixed delay between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetry is the production cadence: one-second spacing, capped.
var DefaultRetry = RetryPolicy{MaxAttempts: 30, Delay: time.Second}

// Do runs fn until it succeeds or attempts are exhausted.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if sqlite.IsContention(err) {
			log.Printf("[Sync] %s: database locked, retrying (%d/%d)", op, attempt, attempts)
		} else {
			log.Printf("[Sync] %s: %v, retrying (%d/%d)", op, err, attempt, attempts)
		}
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, attempts, err)
}
