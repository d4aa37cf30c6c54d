// cmd/train runs the training pipeline once, persists the scaler and the
// model, and optionally backtests the fresh model over the same history.
//
// Usage:
//
//	go run ./cmd/train -config=signalbot.yaml -backtest
//	go run ./cmd/train -seed-days=90   # fill the SQLite candle table first
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalbot/config"
	"signalbot/internal/logger"
	"signalbot/internal/marketdata/synthetic"
	"signalbot/internal/model"
	"signalbot/internal/pipeline"
	"signalbot/internal/scaler"
	"signalbot/internal/scorer"
	"signalbot/internal/store"
	"signalbot/internal/store/sqlite"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("SIGNALBOT_CONFIG"), "path to YAML config (optional)")
	backtest := flag.Bool("backtest", false, "replay the trained model over the training history")
	seedDays := flag.Int("seed-days", 0, "write this many days of synthetic candles to market.candles_path before training")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "train: %v\n", err)
		return 2
	}
	log := logger.Init(cfg.Service+"-train", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	artifacts, err := store.Open(cfg.Store, logger.Component(log, "store"))
	if err != nil {
		log.Error().Err(err).Msg("artifact store unavailable")
		return 1
	}
	defer artifacts.Close()

	var history model.HistorySource
	if cfg.Market.Source == "ws" || *seedDays > 0 {
		candles, err := sqlite.NewCandleStore(cfg.Market.CandlesPath, cfg.Trader.Asset, logger.Component(log, "candles"))
		if err != nil {
			log.Error().Err(err).Msg("candle store unavailable")
			return 1
		}
		defer candles.Close()

		if *seedDays > 0 {
			tf := cfg.Trader.Timeframe
			n := int(time.Duration(*seedDays) * 24 * time.Hour / tf)
			start := time.Now().UTC().Truncate(tf).Add(-time.Duration(n) * tf)
			series := synthetic.NewGenerator(cfg.Market.Seed).Series(start, tf, n)
			if err := candles.InsertBatch(ctx, series); err != nil {
				log.Error().Err(err).Msg("seed candles failed")
				return 1
			}
			log.Info().Int("candles", n).Str("path", cfg.Market.CandlesPath).Msg("seeded synthetic candles")
		}
		history = candles
	} else {
		history = synthetic.NewFeed(cfg.Trader.Timeframe, cfg.Market.Seed)
	}

	candles, err := history.History(ctx, time.Duration(cfg.Pipeline.HistoryDays)*24*time.Hour)
	if err != nil {
		log.Error().Err(err).Msg("history fetch failed")
		return 1
	}

	trainer := pipeline.NewTrainer(cfg.Pipeline, cfg.ArtifactKeys(), history, artifacts, logger.Component(log, "trainer"))
	report, err := trainer.Fit(ctx, candles)
	if err != nil {
		log.Error().Err(err).Msg("training failed, stored artifacts unchanged")
		return 1
	}
	fmt.Printf("trained %s: accuracy=%.2f%% samples=%d candles=%d in %s\n",
		cfg.Trader.Asset, report.Accuracy*100, report.Samples, report.Candles, report.Duration.Round(time.Millisecond))

	if !*backtest {
		return 0
	}

	// Load back what was persisted so the backtest sees the stored artifacts.
	sc := scaler.New(artifacts, cfg.Store.ScalerKey, logger.Component(log, "scaler"))
	sr := scorer.New(cfg.Pipeline.Scorer, artifacts, cfg.Store.ModelKey, logger.Component(log, "scorer"))
	if ok, err := sr.Load(ctx); err != nil || !ok {
		log.Error().Err(err).Bool("found", ok).Msg("model reload failed")
		return 1
	}
	if err := sc.EnsureLoaded(ctx); err != nil {
		log.Error().Err(err).Msg("scaler reload failed")
		return 1
	}

	res, err := pipeline.NewPredictor(cfg.Pipeline, sc, sr).Backtest(ctx, candles)
	if err != nil {
		log.Error().Err(err).Msg("backtest failed")
		return 1
	}

	fmt.Println("═══════════════════════════════════════════")
	fmt.Printf("  Backtest  %s  (%d rows)\n", cfg.Trader.Asset, res.Rows)
	fmt.Println("═══════════════════════════════════════════")
	fmt.Printf("  BUY   %6d\n", res.Buy)
	fmt.Printf("  SELL  %6d\n", res.Sell)
	fmt.Printf("  HOLD  %6d\n", res.Hold)
	fmt.Printf("  Hit rate on actionable signals: %.2f%%\n", res.HitRate()*100)
	return 0
}
