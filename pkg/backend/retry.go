// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// MaxAttempts is the retry cap shared by every backend operation: 10
// attempts, exponential backoff from 100ms.
const MaxAttempts = 10

const initialBackoff = 100 * time.Millisecond

// OnConflict, if non-nil, is invoked between attempts when the failure
// was a Conflict, to refresh the affected RRset (and its version token)
// from the provider before the mutation is retried.
type OnConflict func(ctx context.Context) error

// WithRetry runs fn up to MaxAttempts times, classifying each failure
// with classify. Transient and Conflict failures are retried with
// doubling backoff starting at 100ms; Conflict failures additionally
// invoke onConflict first. A Fatal failure or exhausting the attempt
// budget returns the last error immediately.
func WithRetry(ctx context.Context, log logr.Logger, op string, classify func(error) FailureKind, onConflict OnConflict, fn func(ctx context.Context) error) error {
	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		kind := classify(err)

		if kind == Fatal {
			log.Error(err, "fatal backend error, skipping", "op", op)
			return err
		}

		if attempt == MaxAttempts {
			break
		}

		if kind == Conflict && onConflict != nil {
			if rerr := onConflict(ctx); rerr != nil {
				log.Info("failed to refresh after conflict", "op", op, "error", rerr.Error())
			}
		}

		log.Info("retrying backend operation", "op", op, "kind", kind.String(), "attempt", attempt, "error", err.Error())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	log.Error(lastErr, "backend operation exhausted retry budget", "op", op, "attempts", MaxAttempts)
	return lastErr
}
