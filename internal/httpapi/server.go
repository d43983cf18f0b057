package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/pumpwatch/promatrix/internal/config"
	"github.com/pumpwatch/promatrix/internal/metrics"
	"github.com/pumpwatch/promatrix/internal/persistence"
)

// StatusSource reports the most recent detection run and store health.
type StatusSource interface {
	LastRun(ctx context.Context) (*persistence.RunReport, error)
	StoreHealth() string
}

// Server is the read-only monitoring HTTP server.
type Server struct {
	router  *mux.Router
	server  *http.Server
	status  StatusSource
	metrics *metrics.Registry
	started time.Time
}

// NewServer builds the monitoring server. The port is probed up front so
// monitor mode fails fast instead of on first scrape.
func NewServer(cfg config.HTTPSection, status StatusSource, reg *metrics.Registry) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", cfg.Port, err)
	}
	listener.Close()

	s := &Server{
		router:  mux.NewRouter(),
		status:  status,
		metrics: reg,
		started: time.Now(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Prometheus(), promhttp.HandlerOpts{})).Methods("GET")

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(handleNotFound)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"store_breaker":  s.status.StoreHealth(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.status.LastRun(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load last run"})
		return
	}
	if report == nil {
		writeJSON(w, http.StatusOK, map[string]any{"last_run": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"last_run": report})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(requestIDKey).(string)
		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting monitoring server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down monitoring server")
	return s.server.Shutdown(ctx)
}

// Address returns the bound host:port.
func (s *Server) Address() string {
	return s.server.Addr
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
