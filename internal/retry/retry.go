package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy defines how a failing call is retried. Backoff is linear: the wait
// before attempt n+1 is n × BaseDelay. An Abort predicate short-circuits the
// loop for errors that will never succeed, such as a 400-class model
// response for a malformed image.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Abort       func(error) bool
}

// DefaultPolicy returns the policy used by most HTTP call sites.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
	}
}

// Do executes fn until it succeeds, the attempts are exhausted, the Abort
// predicate matches, or the context is cancelled.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if policy.Abort != nil && policy.Abort(err) {
			return fmt.Errorf("aborted after attempt %d: %w", attempt, err)
		}

		if attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * policy.BaseDelay):
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", policy.MaxAttempts, lastErr)
}
