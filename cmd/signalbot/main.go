// Command signalbot runs the trading signal loop: it loads (or trains) the
// model, scores each new candle, paper-executes actionable signals and
// alerts on them. A scheduler retrains the model once a day.
//
// Config: an optional YAML file (-config or SIGNALBOT_CONFIG) overlaid by
// environment variables; see package config.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"signalbot/config"
	"signalbot/internal/execution"
	"signalbot/internal/logger"
	"signalbot/internal/marketdata/synthetic"
	"signalbot/internal/marketdata/wsfeed"
	"signalbot/internal/metrics"
	"signalbot/internal/model"
	"signalbot/internal/notification"
	"signalbot/internal/pipeline"
	"signalbot/internal/portfolio"
	"signalbot/internal/scaler"
	"signalbot/internal/scheduler"
	"signalbot/internal/scorer"
	"signalbot/internal/store"
	"signalbot/internal/store/sqlite"
	"signalbot/internal/trader"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("SIGNALBOT_CONFIG"), "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "signalbot: %v\n", err)
		return 2
	}

	log := logger.Init(cfg.Service, cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("asset", cfg.Trader.Asset).
		Dur("timeframe", cfg.Trader.Timeframe).
		Str("market", cfg.Market.Source).
		Str("store", cfg.Store.Backend).
		Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Metrics & health ----
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()

	// ---- Artifact store ----
	artifacts, err := store.Open(cfg.Store, logger.Component(log, "store"))
	if err != nil {
		log.Error().Err(err).Msg("artifact store unavailable")
		return 1
	}
	defer artifacts.Close()
	checks := store.HealthChecks(artifacts, cfg.Store.ModelKey, func(at time.Time) {
		m.ModelUpdated.Set(float64(at.Unix()))
	})
	for name, check := range checks {
		health.AddProbe(name, check)
	}

	// ---- Market data ----
	feed, history, closeMarket, err := openMarket(ctx, cfg, m, log)
	if err != nil {
		log.Error().Err(err).Msg("market data unavailable")
		return 1
	}
	defer closeMarket()

	// ---- Notifications ----
	alerter, closeNotify, err := openAlerter(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("notifier setup failed")
		return 1
	}
	defer closeNotify()

	// ---- Model pipeline ----
	sc := scaler.New(artifacts, cfg.Store.ScalerKey, logger.Component(log, "scaler"))
	sr := scorer.New(cfg.Pipeline.Scorer, artifacts, cfg.Store.ModelKey, logger.Component(log, "scorer"))
	predictor := pipeline.NewPredictor(cfg.Pipeline, sc, sr)
	trainer := pipeline.NewTrainer(cfg.Pipeline, cfg.ArtifactKeys(), history, artifacts, logger.Component(log, "trainer"))

	// ---- Execution ----
	var journal execution.FillRecorder
	if cfg.Execution.JournalPath != "" {
		j, err := execution.NewJournal(cfg.Execution.JournalPath, logger.Component(log, "journal"))
		if err != nil {
			log.Error().Err(err).Msg("fill journal unavailable")
			return 1
		}
		defer j.Close()
		journal = j
	}
	executor := execution.NewPaperExecutor(cfg.Execution.SlippageBps, journal, logger.Component(log, "paper"))
	sizer := portfolio.NewRiskSizer(cfg.Risk)
	equity := portfolio.NewEquityTrace()

	// ---- Retrain scheduler ----
	sched, err := scheduler.New(cfg.Retrain, scheduler.Deps{
		Asset:   cfg.Trader.Asset,
		Trainer: trainer,
		Alerter: alerter,
		Metrics: m,
		Health:  health,
		Log:     logger.Component(log, "scheduler"),
	})
	if err != nil {
		log.Error().Err(err).Msg("scheduler setup failed")
		return 1
	}
	go sched.Run(ctx)

	// ---- HTTP: /metrics, /healthz, /retrain ----
	srv := metrics.NewServer(cfg.Metrics.Addr, prometheus.DefaultGatherer, health, sched.Trigger,
		cfg.Metrics.AdminTOTPSecret, logger.Component(log, "http"))
	srv.Start()
	health.StartLivenessChecker(ctx, 30*time.Second)

	// ---- Trading loop ----
	engine := trader.New(cfg.Trader, trader.Deps{
		Feed:      feed,
		History:   history,
		Model:     sr,
		Scaler:    sc,
		Predictor: predictor,
		Trainer:   trainer,
		Executor:  executor,
		Sizer:     sizer,
		Equity:    equity,
		Alerter:   alerter,
		Metrics:   m,
		Health:    health,
		Log:       logger.Component(log, "trader"),
	})
	go func() {
		<-ctx.Done()
		engine.Shutdown()
	}()

	code := 0
	if err := engine.Run(ctx); err != nil {
		log.Error().Err(err).Msg("trading loop failed to start")
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}

	sum := equity.Summarize()
	rs := sizer.Status()
	log.Info().
		Int("ticks", sum.Points).
		Float64("balance", rs.Balance).
		Float64("max_drawdown_pct", sum.MaxDrawdownPct).
		Int("fills", len(executor.Fills())).
		Msg("stopped")
	return code
}

// openMarket builds the live feed and the history source. The ws source
// records every candle it receives to SQLite and trains from that table.
func openMarket(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log zerolog.Logger) (model.CandleFeed, model.HistorySource, func(), error) {
	if cfg.Market.Source != "ws" {
		f := synthetic.NewFeed(cfg.Trader.Timeframe, cfg.Market.Seed)
		return f, f, func() {}, nil
	}

	candles, err := sqlite.NewCandleStore(cfg.Market.CandlesPath, cfg.Trader.Asset, logger.Component(log, "candles"))
	if err != nil {
		return nil, nil, nil, err
	}
	if last, ok, err := candles.LastTimestamp(ctx); err != nil {
		log.Warn().Err(err).Msg("candle history unreadable")
	} else if ok {
		log.Info().Time("last_candle", last).Msg("recorded history resumes")
	} else {
		log.Info().Msg("candle history empty")
	}
	wsCfg := cfg.Market.WS
	wsCfg.Timeframe = cfg.Trader.Timeframe
	wf, err := wsfeed.New(wsCfg, candles, logger.Component(log, "wsfeed"))
	if err != nil {
		candles.Close()
		return nil, nil, nil, err
	}
	wf.OnReconnect = func() { m.FeedReconnects.Inc() }
	go func() {
		if err := wf.Run(ctx); err != nil {
			log.Error().Err(err).Msg("ws feed exited")
		}
	}()
	return wf, candles, func() { candles.Close() }, nil
}

// openAlerter records alerts in the log and delivers them to every
// configured remote channel, each with its own retries.
func openAlerter(cfg *config.Config, log zerolog.Logger) (*notification.Dispatcher, func(), error) {
	nlog := logger.Component(log, "notify")
	var remotes []notification.Notifier
	closeFn := func() {}

	if cfg.Notify.TelegramToken != "" {
		remotes = append(remotes, notification.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, nlog))
	}
	if cfg.Notify.WebhookURL != "" {
		remotes = append(remotes, notification.NewWebhookNotifier(cfg.Notify.WebhookURL, nlog))
	}
	if len(cfg.Notify.Kafka.Brokers) > 0 {
		k, err := notification.NewKafkaNotifier(cfg.Notify.Kafka, cfg.Trader.Asset)
		if err != nil {
			return nil, nil, err
		}
		remotes = append(remotes, k)
		closeFn = func() {
			if err := k.Close(); err != nil {
				nlog.Warn().Err(err).Msg("kafka writer close")
			}
		}
	}
	nlog.Info().Int("remote_channels", len(remotes)).Msg("notifier ready")

	d := notification.NewDispatcher(notification.NewLogNotifier(nlog), remotes,
		cfg.Notify.Attempts, cfg.Notify.RetryDelay, nlog)
	return d, closeFn, nil
}
