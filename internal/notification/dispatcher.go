package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher records every alert on a local backend and delivers it to the
// remote channels, each behind its own Retrier. Delivery is judged on the
// remotes only: Alert reports true when at least one remote accepted the
// alert, or when no remote is configured and the local record succeeded.
type Dispatcher struct {
	local   Notifier
	remotes *Multi
	log     zerolog.Logger
}

// NewDispatcher wraps each remote in a Retrier with attempts and retryDelay.
// local may be nil.
func NewDispatcher(local Notifier, remotes []Notifier, attempts int, retryDelay time.Duration, log zerolog.Logger) *Dispatcher {
	retried := make([]Notifier, 0, len(remotes))
	for _, r := range remotes {
		if r != nil {
			retried = append(retried, NewRetrier(r, attempts, retryDelay, log))
		}
	}
	return &Dispatcher{local: local, remotes: NewMulti(retried...), log: log}
}

// Alert records alert locally, then delivers it to every remote channel
// concurrently, blocking until each has delivered or exhausted its retries.
func (d *Dispatcher) Alert(ctx context.Context, alert Alert) bool {
	if alert.At.IsZero() {
		alert.At = time.Now().UTC()
	}

	localOK := true
	if d.local != nil {
		if err := d.local.Send(ctx, alert); err != nil {
			d.log.Warn().Err(err).Str("title", alert.Title).Msg("local alert record failed")
			localOK = false
		}
	}
	if d.remotes.Len() == 0 {
		return localOK
	}
	if err := d.remotes.Send(ctx, alert); err != nil {
		d.log.Error().Err(err).Str("title", alert.Title).Msg("alert undelivered on every channel")
		return false
	}
	return true
}
