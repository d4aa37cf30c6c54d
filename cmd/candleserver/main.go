// cmd/candleserver is a demo WebSocket candle server. It broadcasts a
// seeded random-walk candle stream so the ws market source can run without
// an exchange connection.
//
// Each message is one JSON candle:
//
//	{"ts":"2026-01-02T15:04:00Z","open":100.1,"high":100.3,"low":99.9,"close":100.2,"volume":4211}
//
// Config (env vars):
//
//	CANDLE_SERVER_ADDR  listen address (default ":9001")
//	CANDLE_TIMEFRAME    spacing of candle timestamps (default "5m")
//	CANDLE_INTERVAL     wall-clock broadcast interval (default: the timeframe)
//	CANDLE_SEED         random walk seed (default 42)
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"signalbot/internal/logger"
	"signalbot/internal/marketdata/synthetic"
)

// hub fans each candle out to all connected clients and replays the most
// recent one to new clients.
type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
	last    []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	if h.last != nil {
		ch <- h.last
	}
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = msg
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("upgrade failed")
			return
		}
		log.Info().Str("remote", r.RemoteAddr).Msg("client connected")

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Info().Str("remote", r.RemoteAddr).Msg("client disconnected")
		}()

		// drain reads so close frames are handled
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// runGenerator emits one candle per interval, stamped on the timeframe grid.
func runGenerator(ctx context.Context, h *hub, gen *synthetic.Generator, tf, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ts := time.Now().UTC().Truncate(tf)
	emit := func() {
		c := gen.Next(ts)
		ts = ts.Add(tf)
		h.broadcast(c.JSON())
		log.Debug().Time("ts", c.TS).Float64("close", c.Close).Int("clients", h.count()).Msg("candle")
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			emit()
		}
	}
}

func main() {
	log := logger.Init("candleserver", envOrDefault("LOG_LEVEL", "info"), envOrDefault("LOG_FORMAT", "console"))

	addr := envOrDefault("CANDLE_SERVER_ADDR", ":9001")
	tf := envDurationOrDefault("CANDLE_TIMEFRAME", 5*time.Minute)
	interval := envDurationOrDefault("CANDLE_INTERVAL", tf)
	seed := int64(envIntOrDefault("CANDLE_SEED", 42))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := newHub()
	go runGenerator(ctx, h, synthetic.NewGenerator(seed), tf, interval, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h, log))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"status":"ok","service":"candleserver","clients":%d}`+"\n", h.count())
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", addr).
		Dur("timeframe", tf).
		Dur("interval", interval).
		Msgf("listening (ws://localhost%s/ws)", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
