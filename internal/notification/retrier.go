package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Retrier wraps a Notifier with bounded retries. Delivery failures are
// logged and swallowed; callers only learn whether the alert went out.
type Retrier struct {
	next       Notifier
	attempts   int
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewRetrier creates a Retrier. attempts < 1 is treated as 1.
func NewRetrier(next Notifier, attempts int, retryDelay time.Duration, log zerolog.Logger) *Retrier {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrier{next: next, attempts: attempts, retryDelay: retryDelay, log: log}
}

// Alert sends alert, retrying up to the configured attempts. It returns
// false when every attempt failed or ctx ended between attempts.
func (r *Retrier) Alert(ctx context.Context, alert Alert) bool {
	if alert.At.IsZero() {
		alert.At = time.Now().UTC()
	}
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err := r.next.Send(ctx, alert)
		if err == nil {
			return true
		}
		r.log.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", r.attempts).
			Str("title", alert.Title).
			Msg("alert delivery failed")

		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(r.retryDelay):
		}
	}
	r.log.Error().Str("title", alert.Title).Msg("alert dropped after retries")
	return false
}

// Send satisfies Notifier so a Retrier can be nested in a Multi.
func (r *Retrier) Send(ctx context.Context, alert Alert) error {
	if !r.Alert(ctx, alert) {
		return errAlertDropped
	}
	return nil
}
