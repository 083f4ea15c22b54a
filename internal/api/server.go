// Package api exposes the read-only HTTP surface over the alert log.
// The server never mutates the log; the cache-refresh endpoint only
// drops the in-memory cache.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/solboy/solalerts/internal/config"
)

// SubscriberSource reports counts from the external subscriber
// registry, split by kind.
type SubscriberSource interface {
	Counts() (users, groups int)
}

// Server is the read-only alert API.
type Server struct {
	router    *mux.Router
	server    *http.Server
	cache     *recordCache
	subs      SubscriberSource
	log       zerolog.Logger
	startedAt time.Time
}

// NewServer wires routes and middleware over the given log source. subs
// may be nil when no registry is available.
func NewServer(cfg config.APIConfig, source LogSource, subs SubscriberSource, log zerolog.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		cache:     newRecordCache(source, cfg.CacheTTL),
		subs:      subs,
		log:       log.With().Str("component", "api").Logger(),
		startedAt: time.Now(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)

	// OPTIONS is listed so preflight requests reach the CORS middleware;
	// it answers them before the handler runs.
	s.router.HandleFunc("/api/alerts/recent", s.handleRecent).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/alerts/tiers", s.handleTiers).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/alerts/stats/daily", s.handleDaily).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/stats", s.handleStats).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/cache/refresh", s.handleCacheRefresh).Methods("GET", "POST", "OPTIONS")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown. It returns http.ErrServerClosed on a
// clean shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("api listening")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type contextKey string

const requestIDKey contextKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		requestID, _ := r.Context().Value(requestIDKey).(string)
		s.log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// corsMiddleware allows any origin; the API carries no credentials and
// dashboards are served from arbitrary hosts.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
