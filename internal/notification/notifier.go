// Package notification provides alert delivery to external channels
// (Telegram, webhooks, Kafka, logs) for signal and lifecycle events.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log (useful for development).
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	ev := n.log.Info()
	switch alert.Level {
	case AlertWarning:
		ev = n.log.Warn()
	case AlertCritical:
		ev = n.log.Error()
	}
	ev.Str("level", string(alert.Level)).Str("title", alert.Title).Msg(alert.Message)
	return nil
}

// Multi fans an alert out to several backends concurrently. It succeeds
// when at least one backend accepted the alert.
type Multi struct {
	backends []Notifier
}

// NewMulti combines backends. Nil entries are skipped.
func NewMulti(backends ...Notifier) *Multi {
	m := &Multi{}
	for _, b := range backends {
		if b != nil {
			m.backends = append(m.backends, b)
		}
	}
	return m
}

// Len returns the number of backends.
func (m *Multi) Len() int { return len(m.backends) }

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	if len(m.backends) == 0 {
		return errors.New("notify: no backends configured")
	}
	errs := make([]error, len(m.backends))
	var wg sync.WaitGroup
	for i, b := range m.backends {
		wg.Add(1)
		go func(i int, b Notifier) {
			defer wg.Done()
			errs[i] = b.Send(ctx, alert)
		}(i, b)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(m.backends) {
		return fmt.Errorf("notify: all %d backends failed: %w", failed, errors.Join(errs...))
	}
	return nil
}
