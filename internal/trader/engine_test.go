package trader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbot/internal/execution"
	"signalbot/internal/logger"
	"signalbot/internal/metrics"
	"signalbot/internal/model"
	"signalbot/internal/notification"
	"signalbot/internal/pipeline"
	"signalbot/internal/portfolio"
	"signalbot/internal/strategy"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const tf = 5 * time.Minute

type fakeFeed struct {
	mu   sync.Mutex
	next time.Time
	same bool
}

func (f *fakeFeed) Latest(context.Context) (model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := model.Candle{TS: f.next, Close: 100}
	if !f.same {
		f.next = f.next.Add(tf)
	}
	return c, nil
}

type fakeHistory struct{ err error }

func (h fakeHistory) History(context.Context, time.Duration) ([]model.Candle, error) {
	if h.err != nil {
		return nil, h.err
	}
	out := make([]model.Candle, 50)
	for i := range out {
		out[i] = model.Candle{TS: t0.Add(time.Duration(i-50) * tf), Close: 100}
	}
	return out, nil
}

// artifacts simulates the store shared by trainer and loaders.
type artifacts struct {
	mu          sync.Mutex
	present     bool
	modelLoads  int
	scalerLoads int
	trainErr    error
	trains      int
}

type modelLoader struct{ a *artifacts }

func (m modelLoader) Load(context.Context) (bool, error) {
	m.a.mu.Lock()
	defer m.a.mu.Unlock()
	m.a.modelLoads++
	return m.a.present, nil
}

type scalerLoader struct{ a *artifacts }

func (s scalerLoader) Reload(context.Context) error {
	s.a.mu.Lock()
	defer s.a.mu.Unlock()
	s.a.scalerLoads++
	return nil
}

type trainer struct{ a *artifacts }

func (t trainer) Train(context.Context) (pipeline.Report, error) {
	t.a.mu.Lock()
	defer t.a.mu.Unlock()
	t.a.trains++
	if t.a.trainErr != nil {
		return pipeline.Report{}, t.a.trainErr
	}
	t.a.present = true
	return pipeline.Report{Accuracy: 0.55, Samples: 100}, nil
}

// cancelingTrainer cancels the caller's context mid-training and records
// whether its own context saw the cancellation.
type cancelingTrainer struct {
	a        *artifacts
	cancel   func()
	canceled bool
}

func (t *cancelingTrainer) Train(ctx context.Context) (pipeline.Report, error) {
	t.cancel()
	t.canceled = ctx.Err() != nil
	return trainer{t.a}.Train(ctx)
}

type funcPredictor struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, candles []model.Candle) (pipeline.Prediction, error)
}

func (p *funcPredictor) Predict(_ context.Context, candles []model.Candle) (pipeline.Prediction, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()
	return p.fn(n, candles)
}

func (p *funcPredictor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recAlerter struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (r *recAlerter) Alert(_ context.Context, a notification.Alert) bool {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
	return true
}

func (r *recAlerter) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Title
	}
	return out
}

func (r *recAlerter) count(title string) int {
	n := 0
	for _, t := range r.titles() {
		if t == title {
			n++
		}
	}
	return n
}

type harness struct {
	e       *Engine
	art     *artifacts
	pred    *funcPredictor
	alerts  *recAlerter
	paper   *execution.PaperExecutor
	sizer   *portfolio.RiskSizer
	equity  *portfolio.EquityTrace
	metrics *metrics.Metrics
	feed    *fakeFeed

	mu    sync.Mutex
	waits []time.Duration
	gate  chan time.Time
}

func newHarness(t *testing.T, present bool, fn func(int, []model.Candle) (pipeline.Prediction, error)) *harness {
	t.Helper()
	h := &harness{
		art:     &artifacts{present: present},
		pred:    &funcPredictor{fn: fn},
		alerts:  &recAlerter{},
		paper:   execution.NewPaperExecutor(0, nil, logger.Nop()),
		sizer:   portfolio.NewRiskSizer(portfolio.DefaultRiskConfig()),
		equity:  portfolio.NewEquityTrace(),
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
		feed:    &fakeFeed{next: t0},
		gate:    make(chan time.Time),
	}
	cfg := Config{Asset: "BTC-USD", Timeframe: tf, Window: 300, ErrorCooldown: time.Minute, ExecTimeout: time.Second}
	h.e = New(cfg, Deps{
		Feed:      h.feed,
		History:   fakeHistory{},
		Model:     modelLoader{h.art},
		Scaler:    scalerLoader{h.art},
		Predictor: h.pred,
		Trainer:   trainer{h.art},
		Executor:  h.paper,
		Sizer:     h.sizer,
		Equity:    h.equity,
		Alerter:   h.alerts,
		Metrics:   h.metrics,
		Health:    metrics.NewHealthStatus(),
		Log:       logger.Nop(),
	})
	h.e.wait = func(d time.Duration) <-chan time.Time {
		h.mu.Lock()
		h.waits = append(h.waits, d)
		h.mu.Unlock()
		return h.gate
	}
	return h
}

func (h *harness) start() chan error {
	done := make(chan error, 1)
	go func() { done <- h.e.Run(context.Background()) }()
	return done
}

// sleeping waits until the loop has entered its n-th sleep.
func (h *harness) sleeping(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.waits) >= n
	}, 2*time.Second, time.Millisecond)
}

func (h *harness) wait(i int) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waits[i]
}

func stop(t *testing.T, h *harness, done chan error) {
	t.Helper()
	h.e.Shutdown()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
	assert.Equal(t, StateStopped, h.e.State())
}

func hold(int, []model.Candle) (pipeline.Prediction, error) {
	return pipeline.Prediction{Score: 0.5, Signal: strategy.Signal{Kind: strategy.KindHold}}, nil
}

func TestTick_PanicLeavesReadyWithOneAlert(t *testing.T) {
	h := newHarness(t, true, func(call int, c []model.Candle) (pipeline.Prediction, error) {
		if call == 1 {
			panic("index out of range")
		}
		return hold(call, c)
	})
	done := h.start()

	h.sleeping(t, 1)
	assert.Equal(t, StateReady, h.e.State())
	assert.Equal(t, 1, h.alerts.count("Tick failed"))
	assert.Equal(t, time.Minute, h.wait(0), "failed tick cools down")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TickFailures))

	// next tick succeeds and sleeps a full timeframe
	h.gate <- time.Time{}
	h.sleeping(t, 2)
	assert.Equal(t, tf, h.wait(1))
	assert.Equal(t, 1, h.alerts.count("Tick failed"))

	stop(t, h, done)
	assert.Equal(t, 1, h.alerts.count("Signal bot stopped"))
}

func TestTick_ErrorLeavesReadyWithOneAlert(t *testing.T) {
	h := newHarness(t, true, func(int, []model.Candle) (pipeline.Prediction, error) {
		return pipeline.Prediction{}, errors.New("scorer exploded")
	})
	done := h.start()

	h.sleeping(t, 1)
	assert.Equal(t, StateReady, h.e.State())
	assert.Equal(t, 1, h.alerts.count("Tick failed"))
	assert.Equal(t, 1, h.equity.Len(), "equity recorded on failed tick too")
	stop(t, h, done)
}

func TestTick_BuyExecutesAndNotifies(t *testing.T) {
	h := newHarness(t, true, func(_ int, c []model.Candle) (pipeline.Prediction, error) {
		last := c[len(c)-1]
		return pipeline.Prediction{
			Score:  0.9,
			Signal: strategy.Decide(0.9, strategy.DefaultThresholds()),
			Close:  last.Close,
			At:     last.TS,
		}, nil
	})
	done := h.start()
	h.sleeping(t, 1)

	fills := h.paper.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, strategy.KindBuy, fills[0].Directive.Kind)
	assert.Equal(t, 200.0, fills[0].Directive.Size, "2% of 10000")
	assert.Equal(t, "BTC-USD", fills[0].Directive.Asset)
	assert.Equal(t, 1, h.alerts.count("BUY BTC-USD"))
	assert.Equal(t, 1, h.equity.Len())
	assert.Equal(t, tf, h.wait(0))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SignalsTotal.WithLabelValues("BUY")))

	stop(t, h, done)
}

func TestTick_SlippageChargedToBalance(t *testing.T) {
	h := newHarness(t, true, func(_ int, c []model.Candle) (pipeline.Prediction, error) {
		last := c[len(c)-1]
		return pipeline.Prediction{
			Score:  0.9,
			Signal: strategy.Decide(0.9, strategy.DefaultThresholds()),
			Close:  last.Close,
			At:     last.TS,
		}, nil
	})
	h.paper = execution.NewPaperExecutor(50, nil, logger.Nop())
	h.e.deps.Executor = h.paper
	done := h.start()
	h.sleeping(t, 1)

	require.Len(t, h.paper.Fills(), 1)
	st := h.sizer.Status()
	assert.InDelta(t, 9999.0, st.Balance, 1e-6, "50bps of a 200 notional")
	assert.InDelta(t, 10000.0, st.Peak, 1e-9)
	assert.Greater(t, st.DrawdownPct, 0.0)

	stop(t, h, done)
}

func TestTick_HoldDoesNotExecute(t *testing.T) {
	h := newHarness(t, true, hold)
	done := h.start()
	h.sleeping(t, 1)
	assert.Empty(t, h.paper.Fills())
	assert.Zero(t, h.alerts.count("Tick failed"))
	stop(t, h, done)
}

func TestTick_DuplicateCandleSkipsPrediction(t *testing.T) {
	h := newHarness(t, true, hold)
	h.feed.same = true
	done := h.start()

	h.sleeping(t, 1)
	h.gate <- time.Time{}
	h.sleeping(t, 2)
	assert.Equal(t, 1, h.pred.count())
	assert.Equal(t, 2, h.equity.Len())
	stop(t, h, done)
}

func TestTick_WindowSeededFromHistory(t *testing.T) {
	var got int
	h := newHarness(t, true, func(call int, c []model.Candle) (pipeline.Prediction, error) {
		got = len(c)
		return hold(call, c)
	})
	done := h.start()
	h.sleeping(t, 1)
	assert.Equal(t, 51, got, "50 seeded plus the latest")
	stop(t, h, done)
}

func TestStartup_TrainsWhenModelMissingThenReloads(t *testing.T) {
	h := newHarness(t, false, hold)
	done := h.start()
	h.sleeping(t, 1)

	h.art.mu.Lock()
	assert.Equal(t, 1, h.art.trains)
	assert.Equal(t, 2, h.art.modelLoads, "initial attempt plus reload")
	assert.Equal(t, 1, h.art.scalerLoads, "scaler reloads after the model is present")
	h.art.mu.Unlock()

	titles := h.alerts.titles()
	require.GreaterOrEqual(t, len(titles), 2)
	assert.Equal(t, "Model not found", titles[0])
	assert.Equal(t, "Signal bot started", titles[1])
	stop(t, h, done)
}

func TestStartup_TrainingFailureIsFatal(t *testing.T) {
	h := newHarness(t, false, hold)
	h.art.trainErr = errors.New("not enough data")

	err := h.e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough data")
	assert.Equal(t, StateStopped, h.e.State())
	assert.Equal(t, 1, h.alerts.count("Startup failed"))
	assert.Zero(t, h.pred.count())
}

func TestStartup_CancelDuringTrainingStopsCleanly(t *testing.T) {
	h := newHarness(t, false, hold)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := &cancelingTrainer{a: h.art, cancel: cancel}
	h.e.deps.Trainer = tr

	err := h.e.Run(ctx)
	require.NoError(t, err)
	assert.False(t, tr.canceled, "training must not see the stop signal")
	assert.Equal(t, StateStopped, h.e.State())
	assert.Zero(t, h.alerts.count("Startup failed"))
	assert.Zero(t, h.alerts.count("Signal bot started"))
	assert.Equal(t, 1, h.alerts.count("Signal bot stopped"))
	assert.Zero(t, h.pred.count())

	h.art.mu.Lock()
	assert.Equal(t, 2, h.art.modelLoads, "model still reloaded after training")
	h.art.mu.Unlock()
}

func TestStartup_ShutdownDuringTrainingStopsCleanly(t *testing.T) {
	h := newHarness(t, false, hold)
	tr := &cancelingTrainer{a: h.art, cancel: h.e.Shutdown}
	h.e.deps.Trainer = tr

	require.NoError(t, h.e.Run(context.Background()))
	assert.Equal(t, StateStopped, h.e.State())
	assert.Zero(t, h.alerts.count("Signal bot started"))
	assert.Equal(t, 1, h.alerts.count("Signal bot stopped"))
	assert.Empty(t, h.waits)
}

func TestShutdown_IdempotentAndContextCancel(t *testing.T) {
	h := newHarness(t, true, hold)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.e.Run(ctx) }()
	h.sleeping(t, 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	h.e.Shutdown()
	h.e.Shutdown()
	assert.Equal(t, StateStopped, h.e.State())
	assert.Equal(t, 1, h.alerts.count("Signal bot stopped"))
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateStarting: "STARTING", StateReady: "READY", StateTick: "TICK",
		StateStopping: "STOPPING", StateStopped: "STOPPED", State(42): "UNKNOWN",
	} {
		assert.Equal(t, want, s.String())
	}
}
