package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/swap-cycler/internal/logging"
	"github.com/swap-cycler/internal/types"
)

// ServerConfig holds the health server configuration
type ServerConfig struct {
	Host string
	Port string
}

// Server exposes liveness, readiness and metrics
type Server struct {
	router     *mux.Router
	registry   *Registry
	httpServer *http.Server
}

// NewServer creates a health server. metrics may be nil.
func NewServer(cfg ServerConfig, registry *Registry, metrics http.Handler) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		registry: registry,
	}

	s.router.Use(RecoveryMiddleware)
	s.router.HandleFunc("/health/live", s.handleLive).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.handleReady).Methods(http.MethodGet)
	if metrics != nil {
		s.router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    types.StatusUp,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	report := s.registry.Snapshot()
	code := http.StatusOK
	if report.Status == types.StatusDown {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, report)
}

// Start serves until Shutdown
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting health server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// RecoveryMiddleware turns handler panics into 500s
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logging.WithField("path", r.URL.Path).Errorf("PANIC: %v", err)
				respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "INTERNAL_ERROR"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
