// Package server exposes the coordinator over a small HTTP API.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vitals/internal/coordinator"
	"vitals/internal/metrics"
	"vitals/internal/store"
)

// defaultDismissHours silences an anomaly for a day unless the caller
// asks for something else.
const defaultDismissHours = 24

// Engine is the slice of the coordinator the HTTP layer consumes.
type Engine interface {
	State() coordinator.CalculationState
	CalculateAll(ctx context.Context, force bool) (coordinator.CalculationState, error)
	LatestScore(kind store.ScoreKind) *store.ScoreResult
	ActiveAnomalies() []store.AnomalyEvent
	DismissAnomaly(ctx context.Context, id string, until time.Time) error
}

// HistoryReader reads persisted score history.
type HistoryReader interface {
	GetScoreHistory(ctx context.Context, kind store.ScoreKind, asOf time.Time, days int) ([]store.ScoreResult, error)
}

// Server routes HTTP requests to the engine.
type Server struct {
	engine  Engine
	history HistoryReader
	logger  *zap.Logger
	router  *mux.Router
	clock   func() time.Time
}

// New builds the server and registers its routes.
func New(engine Engine, history HistoryReader, logger *zap.Logger) *Server {
	s := &Server{
		engine:  engine,
		history: history,
		logger:  logger,
		router:  mux.NewRouter(),
		clock:   time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.instrument)

	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/calculate", s.handleCalculate).Methods(http.MethodPost)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/scores/{kind}", s.handleScore).Methods(http.MethodGet)
	api.HandleFunc("/scores/{kind}/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/anomalies", s.handleAnomalies).Methods(http.MethodGet)
	api.HandleFunc("/anomalies/{id}/dismiss", s.handleDismiss).Methods(http.MethodPost)

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.State())
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.CalculateAll(r.Context(), false)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.CalculateAll(r.Context(), true)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	kind, ok := scoreKind(mux.Vars(r)["kind"])
	if !ok {
		http.Error(w, "unknown score kind", http.StatusNotFound)
		return
	}
	result := s.engine.LatestScore(kind)
	if result == nil {
		http.Error(w, "no result computed yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	kind, ok := scoreKind(mux.Vars(r)["kind"])
	if !ok {
		http.Error(w, "unknown score kind", http.StatusNotFound)
		return
	}

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 365 {
			http.Error(w, "days must be between 1 and 365", http.StatusBadRequest)
			return
		}
		days = parsed
	}

	results, err := s.history.GetScoreHistory(r.Context(), kind, s.clock().UTC(), days)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if results == nil {
		results = []store.ScoreResult{}
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies := s.engine.ActiveAnomalies()
	if anomalies == nil {
		anomalies = []store.AnomalyEvent{}
	}
	s.writeJSON(w, http.StatusOK, anomalies)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	hours := defaultDismissHours
	if v := r.URL.Query().Get("hours"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 24*7 {
			http.Error(w, "hours must be between 1 and 168", http.StatusBadRequest)
			return
		}
		hours = parsed
	}

	until := s.clock().UTC().Add(time.Duration(hours) * time.Hour)
	if err := s.engine.DismissAnomaly(r.Context(), id, until); err != nil {
		if err == store.ErrAnomalyNotFound {
			http.Error(w, "anomaly not found", http.StatusNotFound)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"id":              id,
		"dismissed_until": until.Format(time.RFC3339),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	state := s.engine.State()
	status := http.StatusOK
	if state.Phase == coordinator.PhaseError {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]string{"phase": string(state.Phase)})
}

// instrument wraps handlers with request logging and metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		elapsed := s.clock().Sub(start)

		metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())
		s.logger.Debug("request handled",
			zap.String("route", route),
			zap.String("method", r.Method),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Error("request failed", zap.Error(err))
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func scoreKind(raw string) (store.ScoreKind, bool) {
	switch store.ScoreKind(raw) {
	case store.ScoreRecovery:
		return store.ScoreRecovery, true
	case store.ScoreSleep:
		return store.ScoreSleep, true
	case store.ScoreStrain:
		return store.ScoreStrain, true
	}
	return "", false
}
