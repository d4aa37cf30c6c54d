// Package trader runs the trading loop: fetch the latest candle, predict,
// execute and notify, once per timeframe, until shutdown.
//
// The loop is the only place that turns failures into alert-and-continue.
// A failing or panicking tick is logged, counted and alerted once, then
// the loop cools down and returns to READY.
package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"signalbot/internal/execution"
	"signalbot/internal/logger"
	"signalbot/internal/metrics"
	"signalbot/internal/model"
	"signalbot/internal/notification"
	"signalbot/internal/pipeline"
	"signalbot/internal/portfolio"
	"signalbot/internal/ringbuf"
)

// Config controls loop timing.
type Config struct {
	Asset         string        `yaml:"asset" default:"BTC-USD" validate:"required"`
	Timeframe     time.Duration `yaml:"timeframe" default:"5m" validate:"gt=0"`
	Window        int           `yaml:"window" default:"300" validate:"gte=2"`
	ErrorCooldown time.Duration `yaml:"error_cooldown" default:"60s" validate:"gt=0,ltfield=Timeframe"`
	ExecTimeout   time.Duration `yaml:"exec_timeout" default:"10s" validate:"gt=0"`
}

// ModelLoader installs the persisted model.
type ModelLoader interface {
	Load(ctx context.Context) (bool, error)
}

// ScalerLoader (re)loads the persisted scaler state.
type ScalerLoader interface {
	Reload(ctx context.Context) error
}

// Predictor scores a candle window.
type Predictor interface {
	Predict(ctx context.Context, candles []model.Candle) (pipeline.Prediction, error)
}

// Trainer runs the full training pipeline.
type Trainer interface {
	Train(ctx context.Context) (pipeline.Report, error)
}

// Alerter delivers an alert with retries and reports whether it went out.
type Alerter interface {
	Alert(ctx context.Context, a notification.Alert) bool
}

// Deps are the loop's collaborators. Metrics and Health may be nil.
type Deps struct {
	Feed      model.CandleFeed
	History   model.HistorySource
	Model     ModelLoader
	Scaler    ScalerLoader
	Predictor Predictor
	Trainer   Trainer
	Executor  execution.Executor
	Sizer     *portfolio.RiskSizer
	Equity    *portfolio.EquityTrace
	Alerter   Alerter
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Log       zerolog.Logger
}

// Engine is the trading loop.
type Engine struct {
	cfg    Config
	deps   Deps
	window *ringbuf.Window

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once

	now  func() time.Time
	wait func(d time.Duration) <-chan time.Time
}

// New creates an engine in STARTING.
func New(cfg Config, deps Deps) *Engine {
	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		window: ringbuf.New(cfg.Window),
		stop:   make(chan struct{}),
		now:    time.Now,
		wait:   time.After,
	}
	e.setState(StateStarting)
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	if e.deps.Metrics != nil {
		e.deps.Metrics.LoopState.Set(float64(s))
	}
	if e.deps.Health != nil {
		e.deps.Health.SetState(s.String())
	}
}

// Shutdown asks the loop to stop after the current tick. Safe to call
// any number of times from any goroutine.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		e.deps.Log.Info().Msg("shutdown requested")
		close(e.stop)
	})
}

// Run loads or trains the model, then ticks once per timeframe until
// Shutdown or ctx cancellation. It returns an error only when startup
// cannot produce a usable model. Startup runs detached from ctx; a stop
// requested meanwhile takes effect once startup returns.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.startup(context.WithoutCancel(ctx)); err != nil {
		e.setState(StateStopped)
		return err
	}

	if e.stopRequested(ctx) {
		e.deps.Log.Info().Msg("stop requested during startup")
	} else {
		e.alert(ctx, notification.StartedAlert(e.cfg.Asset, e.cfg.Timeframe.String(), e.now()))
		e.setState(StateReady)

		for {
			err := e.runTick(ctx)
			pause := e.cfg.Timeframe
			if err != nil {
				pause = e.cfg.ErrorCooldown
			}
			if !e.sleep(ctx, pause) {
				break
			}
		}
	}

	e.setState(StateStopping)
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	e.alert(finalCtx, notification.StoppedAlert(e.cfg.Asset, e.now()))
	cancel()
	e.setState(StateStopped)
	e.deps.Log.Info().Msg("trading loop stopped")
	return nil
}

func (e *Engine) stopRequested(ctx context.Context) bool {
	select {
	case <-e.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// sleep waits d, returning false if shutdown was requested meanwhile.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if e.stopRequested(ctx) {
		return false
	}
	select {
	case <-e.stop:
		return false
	case <-ctx.Done():
		return false
	case <-e.wait(d):
		return true
	}
}

func (e *Engine) startup(ctx context.Context) error {
	log := e.deps.Log
	err := e.load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("model not loadable, training synchronously")
		e.alert(ctx, notification.ModelMissingAlert(e.cfg.Asset, ignoreMissing(err), e.now()))

		r, terr := e.deps.Trainer.Train(ctx)
		if terr != nil {
			log.Error().Err(terr).Msg("startup training failed")
			e.alert(ctx, notification.StartupFailedAlert(e.cfg.Asset, terr, e.now()))
			return fmt.Errorf("startup: train: %w", terr)
		}
		log.Info().Float64("accuracy", r.Accuracy).Int("samples", r.Samples).Msg("startup training complete")

		// use what the store holds, never the trainer's in-memory copy
		if err := e.load(ctx); err != nil {
			e.alert(ctx, notification.StartupFailedAlert(e.cfg.Asset, err, e.now()))
			return fmt.Errorf("startup: reload after training: %w", err)
		}
	}
	if e.deps.Health != nil {
		e.deps.Health.SetModelReady(true)
	}

	lookback := time.Duration(e.cfg.Window) * e.cfg.Timeframe
	seed, err := e.deps.History.History(ctx, lookback)
	if err != nil {
		// the window fills from live candles instead
		log.Warn().Err(err).Msg("window seed failed")
		return nil
	}
	n := e.window.Seed(seed)
	log.Info().Int("candles", n).Int("window", e.cfg.Window).Msg("window seeded")
	return nil
}

var errModelAbsent = errors.New("no model artifact stored")

func (e *Engine) load(ctx context.Context) error {
	ok, err := e.deps.Model.Load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errModelAbsent
	}
	return e.deps.Scaler.Reload(ctx)
}

func ignoreMissing(err error) error {
	if errors.Is(err, errModelAbsent) {
		return nil
	}
	return err
}

// runTick runs one tick with panic recovery and failure bookkeeping.
// The tick context is detached from ctx so shutdown never cancels it.
func (e *Engine) runTick(ctx context.Context) (err error) {
	start := e.now()
	tickCtx := logger.WithTickID(context.WithoutCancel(ctx), logger.GenerateTickID(e.cfg.Asset, start))
	log := logger.WithTick(tickCtx, e.deps.Log)

	e.setState(StateTick)
	if m := e.deps.Metrics; m != nil {
		m.TicksTotal.Inc()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
			log.Error().Str("stack", string(debug.Stack())).Msg("tick panicked")
		}

		e.recordEquity(start)
		if e.deps.Health != nil {
			e.deps.Health.RecordTick(start, err)
		}
		if m := e.deps.Metrics; m != nil {
			m.TickDuration.Observe(e.now().Sub(start).Seconds())
		}
		if err != nil {
			log.Error().Err(err).Dur("cooldown", e.cfg.ErrorCooldown).Msg("tick failed")
			if m := e.deps.Metrics; m != nil {
				m.TickFailures.Inc()
			}
			e.alert(tickCtx, notification.TickErrorAlert(e.cfg.Asset, err, e.now()))
		}
		e.setState(StateReady)
	}()

	return e.tick(tickCtx, log)
}

func (e *Engine) tick(ctx context.Context, log zerolog.Logger) error {
	c, err := e.deps.Feed.Latest(ctx)
	if err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	if !e.window.Push(c) {
		last, _ := e.window.Last()
		log.Debug().Time("candle", c.TS).Time("last", last.TS).Msg("no new candle")
		return nil
	}

	pred, err := e.deps.Predictor.Predict(ctx, e.window.Slice())
	if err != nil {
		return err
	}
	sig := pred.Signal
	if m := e.deps.Metrics; m != nil {
		m.LastScore.Set(pred.Score)
		m.SignalsTotal.WithLabelValues(string(sig.Kind)).Inc()
	}
	log.Info().
		Time("candle", pred.At).
		Float64("close", pred.Close).
		Float64("score", pred.Score).
		Str("signal", sig.String()).
		Msg("tick")

	if !sig.Actionable() {
		return nil
	}

	d := execution.Directive{
		Kind:     sig.Kind,
		Size:     e.deps.Sizer.Size(),
		Asset:    e.cfg.Asset,
		Price:    pred.Close,
		Strength: sig.Strength,
	}
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecTimeout)
	res, err := e.deps.Executor.Submit(execCtx, d)
	cancel()
	if m := e.deps.Metrics; m != nil && res.Status != "" {
		m.OrdersTotal.WithLabelValues(res.Status).Inc()
	}
	if err != nil {
		return fmt.Errorf("execute %s: %w", sig.Kind, err)
	}
	cost := slippageCost(d, res.FillPrice)
	e.deps.Sizer.RecordPnL(-cost)
	log.Info().Str("order_id", res.OrderID).Float64("size", d.Size).Float64("cost", cost).Msg("directive executed")

	e.alert(ctx, notification.SignalAlert(e.cfg.Asset, sig, pred.Close, pred.At))
	return nil
}

// slippageCost is the notional lost to the gap between reference and fill.
func slippageCost(d execution.Directive, fill float64) float64 {
	if d.Price <= 0 || fill <= 0 {
		return 0
	}
	return d.Size * math.Abs(fill-d.Price) / d.Price
}

func (e *Engine) recordEquity(at time.Time) {
	if e.deps.Equity == nil || e.deps.Sizer == nil {
		return
	}
	b := e.deps.Sizer.Balance()
	e.deps.Equity.Append(at, b)
	if e.deps.Metrics != nil {
		e.deps.Metrics.Equity.Set(b)
	}
}

// alert sends best-effort and counts undeliverable alerts.
func (e *Engine) alert(ctx context.Context, a notification.Alert) {
	if e.deps.Alerter == nil {
		return
	}
	if !e.deps.Alerter.Alert(ctx, a) {
		e.deps.Log.Warn().Str("title", a.Title).Msg("alert undeliverable")
		if e.deps.Metrics != nil {
			e.deps.Metrics.NotifyFailures.Inc()
		}
	}
}
