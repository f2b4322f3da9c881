// Package api serves the relay's read-only HTTP surface for the Dapp.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/armon/go-metrics"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/spf13/cast"

	"github.com/GPTx-global/flightsurety/oracle/consensus"
	"github.com/GPTx-global/flightsurety/oracle/health"
	"github.com/GPTx-global/flightsurety/oracle/log"
	"github.com/GPTx-global/flightsurety/oracle/store"
	"github.com/GPTx-global/flightsurety/oracle/surety"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

const (
	defaultSubmissionLimit = 100
	maxSubmissionLimit     = 1000
	shutdownTimeout        = 5 * time.Second
)

type Roster interface {
	Roster() []types.Oracle
}

type Tracker interface {
	Flights() []consensus.Tally
	Pending() []consensus.Tally
}

type FlightSource interface {
	Flights(ctx context.Context) ([]surety.FlightInfo, error)
}

type Journal interface {
	Submissions(limit int) ([]store.Submission, error)
}

// Deps are the components the API reads from. Nil members disable their
// routes.
type Deps struct {
	Roster  Roster
	Tracker Tracker
	Flights FlightSource
	Journal Journal
	Health  *health.Checker
	Metrics *metrics.InmemSink
	Hub     *Hub
}

type Server struct {
	deps   Deps
	router *mux.Router
	http   *http.Server
}

func NewServer(listen string, allowedOrigins []string, deps Deps) *Server {
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
	}
	s.routes()

	handler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: true,
	}).Handler(s.router)

	s.http = &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/api", s.handleIndex).Methods(http.MethodGet)

	if s.deps.Roster != nil {
		r.HandleFunc("/api/oracles", s.handleOracles).Methods(http.MethodGet)
	}
	if s.deps.Tracker != nil {
		r.HandleFunc("/api/flights", s.handleFlights).Methods(http.MethodGet)
		r.HandleFunc("/api/flights/pending", s.handlePending).Methods(http.MethodGet)
	}
	if s.deps.Flights != nil {
		r.HandleFunc("/api/flights/registered", s.handleRegistered).Methods(http.MethodGet)
	}
	if s.deps.Journal != nil {
		r.HandleFunc("/api/submissions", s.handleSubmissions).Methods(http.MethodGet)
	}
	if s.deps.Hub != nil {
		r.Handle("/api/events", s.deps.Hub).Methods(http.MethodGet)
	}
	if s.deps.Health != nil {
		r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	}
	if s.deps.Metrics != nil {
		r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	}
}

// Handler exposes the routed handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until ctx is done, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("API listening on %s", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

func (s *Server) Shutdown() error {
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "An API for use with your Dapp!"})
}

func (s *Server) handleOracles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Roster.Roster())
}

func (s *Server) handleFlights(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Tracker.Flights())
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Tracker.Pending())
}

func (s *Server) handleRegistered(w http.ResponseWriter, r *http.Request) {
	flights, err := s.deps.Flights.Flights(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeJSON(w, http.StatusOK, flights)
}

func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSubmissionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxSubmissionLimit)
	}

	subs, err := s.deps.Journal.Submissions(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	healthy := s.deps.Health.IsHealthy()
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"healthy": healthy,
		"checks":  s.deps.Health.GetStatus(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Metrics.DisplayMetrics(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
