// Package scheduler retrains the model once a day at a configured time of
// day, or on demand. It produces new persisted artifacts; the trading loop
// keeps its loaded model until restart.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"signalbot/internal/metrics"
	"signalbot/internal/notification"
	"signalbot/internal/pipeline"
)

// Config sets the daily fire time.
type Config struct {
	At       string `yaml:"at" default:"01:00" validate:"required"`
	Location string `yaml:"location" default:"UTC"`
}

// Trainer runs the full training pipeline.
type Trainer interface {
	Train(ctx context.Context) (pipeline.Report, error)
}

// Alerter delivers an alert with retries and reports whether it went out.
type Alerter interface {
	Alert(ctx context.Context, a notification.Alert) bool
}

// Deps are the scheduler's collaborators. Metrics and Health may be nil.
type Deps struct {
	Asset   string
	Trainer Trainer
	Alerter Alerter
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
	Log     zerolog.Logger
}

// Scheduler fires the retrain job.
type Scheduler struct {
	deps   Deps
	hour   int
	minute int
	loc    *time.Location

	trigger chan struct{}
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
}

// New validates cfg and creates a scheduler.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	h, m, err := ParseClock(cfg.At)
	if err != nil {
		return nil, err
	}
	name := cfg.Location
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("scheduler: location %q: %w", name, err)
	}
	return &Scheduler{
		deps:    deps,
		hour:    h,
		minute:  m,
		loc:     loc,
		trigger: make(chan struct{}, 1),
		now:     time.Now,
		after:   time.After,
	}, nil
}

// Trigger requests an immediate run without blocking. Requests made while
// one is already pending coalesce; Trigger then returns false.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run waits for the next fire time or a trigger and runs the job, until
// ctx is cancelled. A run in progress is not interrupted by cancellation
// of ctx's parent; it completes on a detached context.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.now()
		next := NextRun(now, s.hour, s.minute, s.loc)
		s.deps.Log.Info().
			Time("next_run", next).
			Str("in", fmtDur(next.Sub(now))).
			Msg("retrain scheduled")

		select {
		case <-ctx.Done():
			return nil
		case <-s.after(next.Sub(now)):
			s.deps.Log.Info().Msg("scheduled retrain firing")
		case <-s.trigger:
			s.deps.Log.Info().Msg("manual retrain firing")
		}
		s.RunOnce(context.WithoutCancel(ctx))
	}
}

// RunOnce runs the training pipeline and reports the outcome. A failure is
// logged before the failure alert is attempted; an undeliverable alert is
// logged separately and never replaces the returned error.
func (s *Scheduler) RunOnce(ctx context.Context) (pipeline.Report, error) {
	start := s.now()
	r, err := s.deps.Trainer.Train(ctx)
	elapsed := s.now().Sub(start)

	if m := s.deps.Metrics; m != nil {
		m.TrainingDuration.Observe(elapsed.Seconds())
		if err != nil {
			m.TrainingRuns.WithLabelValues("failure").Inc()
		} else {
			m.TrainingRuns.WithLabelValues("success").Inc()
			m.ModelAccuracy.Set(r.Accuracy)
		}
	}
	if s.deps.Health != nil {
		s.deps.Health.RecordTraining(s.now(), r.Accuracy, err)
	}

	if err != nil {
		s.deps.Log.Error().Err(err).Dur("elapsed", elapsed).Msg("retrain failed, previous model kept")
		if !s.deps.Alerter.Alert(ctx, notification.RetrainAlert(s.deps.Asset, 0, 0, err, s.now())) {
			s.deps.Log.Error().Msg("retrain failure alert undeliverable")
			s.notifyFailed()
		}
		return r, err
	}

	s.deps.Log.Info().
		Float64("accuracy", r.Accuracy).
		Int("samples", r.Samples).
		Dur("elapsed", elapsed).
		Msg("retrain succeeded")
	if !s.deps.Alerter.Alert(ctx, notification.RetrainAlert(s.deps.Asset, r.Accuracy, r.Samples, nil, s.now())) {
		s.deps.Log.Warn().Msg("retrain success alert undeliverable")
		s.notifyFailed()
	}
	return r, nil
}

func (s *Scheduler) notifyFailed() {
	if s.deps.Metrics != nil {
		s.deps.Metrics.NotifyFailures.Inc()
	}
}
