// Package wsfeed streams candles from a WebSocket candle server (for
// example cmd/candleserver) and serves the newest one to the trading loop.
//
// The expected JSON message format on the wire is identical to model.Candle:
//
//	{"ts":"2024-01-01T00:05:00Z","open":100.1,"high":100.4,"low":99.9,"close":100.2,"volume":4210}
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"signalbot/internal/model"
)

var (
	// ErrNoData is returned by Latest before the first candle arrives.
	ErrNoData = errors.New("wsfeed: no candle received yet")
	// ErrStale is returned when the newest candle is older than StaleAfter.
	ErrStale = errors.New("wsfeed: latest candle is stale")
)

// Config holds configuration for the feed.
type Config struct {
	// URL of the candle WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string `yaml:"url" validate:"omitempty,url"`

	// Timeframe is the nominal bar spacing; it sets the staleness bound.
	Timeframe time.Duration `yaml:"-"`

	// StaleAfter defaults to 3 timeframes.
	StaleAfter time.Duration `yaml:"stale_after"`

	// ReconnectDelay is the initial delay before reconnection attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"2s"`

	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay" default:"30s"`
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.StaleAfter == 0 && c.Timeframe > 0 {
		c.StaleAfter = 3 * c.Timeframe
	}
}

// Feed implements model.CandleFeed over a reconnecting WebSocket client.
type Feed struct {
	cfg      Config
	recorder model.CandleRecorder
	log      zerolog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	latest model.Candle
	has    bool

	// Optional hook, called each time a reconnection happens.
	OnReconnect func()
}

// New creates a feed. recorder may be nil. Returns an error if the URL is
// unparseable.
func New(cfg Config, recorder model.CandleRecorder, log zerolog.Logger) (*Feed, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("wsfeed: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("wsfeed: unsupported scheme %q", u.Scheme)
	}
	return &Feed{cfg: cfg, recorder: recorder, log: log, now: time.Now}, nil
}

// Latest returns the newest candle received.
func (f *Feed) Latest(ctx context.Context) (model.Candle, error) {
	if err := ctx.Err(); err != nil {
		return model.Candle{}, err
	}
	f.mu.RLock()
	c, has := f.latest, f.has
	f.mu.RUnlock()

	if !has {
		return model.Candle{}, ErrNoData
	}
	if f.cfg.StaleAfter > 0 && f.now().Sub(c.TS) > f.cfg.StaleAfter {
		return model.Candle{}, fmt.Errorf("%w: %s old", ErrStale, f.now().Sub(c.TS).Truncate(time.Second))
	}
	return c, nil
}

// Run connects and streams candles until ctx is cancelled, reconnecting
// with exponential backoff on disconnect.
func (f *Feed) Run(ctx context.Context) error {
	delay := f.cfg.ReconnectDelay

	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := f.runOnce(ctx)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}
		if connected {
			delay = f.cfg.ReconnectDelay
		}

		f.log.Warn().Err(err).Dur("retry_in", delay).Msg("disconnected, reconnecting")
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the dial succeeded.
func (f *Feed) runOnce(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	f.log.Info().Str("url", f.cfg.URL).Msg("connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}

		var c model.Candle
		if err := json.Unmarshal(raw, &c); err != nil {
			f.log.Warn().Err(err).Bytes("raw", raw).Msg("parse error")
			continue
		}
		if c.TS.IsZero() {
			f.log.Warn().Msg("skipping candle without timestamp")
			continue
		}
		f.accept(ctx, c)
	}
}

// accept stores c as latest when it is not older than the current latest
// and forwards it to the recorder.
func (f *Feed) accept(ctx context.Context, c model.Candle) {
	c.TS = c.TS.UTC()
	f.mu.Lock()
	if f.has && c.Before(f.latest) {
		f.mu.Unlock()
		return
	}
	f.latest = c
	f.has = true
	f.mu.Unlock()

	if f.recorder != nil {
		if err := f.recorder.Record(ctx, c); err != nil {
			f.log.Warn().Err(err).Time("ts", c.TS).Msg("record candle failed")
		}
	}
}
