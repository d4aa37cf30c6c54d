package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// TriggerFunc requests an out-of-schedule retrain. It returns false when a
// request is already pending.
type TriggerFunc func() bool

// Server runs an HTTP server exposing /metrics, /healthz and POST /retrain.
type Server struct {
	health  *HealthStatus
	addr    string
	srv     *http.Server
	trigger TriggerFunc
	secret  string
	log     zerolog.Logger
	now     func() time.Time
}

// NewServer creates a metrics and health server. The retrain endpoint is
// only mounted when both trigger and totpSecret are set.
func NewServer(addr string, gatherer prometheus.Gatherer, health *HealthStatus, trigger TriggerFunc, totpSecret string, log zerolog.Logger) *Server {
	s := &Server{
		health:  health,
		addr:    addr,
		trigger: trigger,
		secret:  totpSecret,
		log:     log,
		now:     time.Now,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)
	if trigger != nil && totpSecret != "" {
		mux.HandleFunc("/retrain", s.handleRetrain)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	code := r.Header.Get("X-TOTP")
	if code == "" {
		http.Error(w, "missing X-TOTP header", http.StatusUnauthorized)
		return
	}
	ok, err := totp.ValidateCustom(code, s.secret, s.now().UTC(), totp.ValidateOpts{
		Period: 30,
		Skew:   1,
		Digits: 6,
	})
	if err != nil || !ok {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("retrain rejected: bad totp code")
		http.Error(w, "invalid code", http.StatusUnauthorized)
		return
	}

	if !s.trigger() {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"status":"already pending"}`))
		return
	}
	s.log.Info().Str("remote", r.RemoteAddr).Msg("manual retrain requested")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"status":"accepted"}`))
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("metrics server error")
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
