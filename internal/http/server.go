package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cartridge/otreward/internal/metrics"
	"github.com/cartridge/otreward/internal/middleware"
	"github.com/cartridge/otreward/internal/replay"
	"github.com/cartridge/otreward/internal/varsync"
)

const maxPublishBody = 8 << 20

// Server exposes the variable source over HTTP, plus health and relabelling
// stats.
type Server struct {
	source    varsync.Source
	publisher varsync.Publisher
	metrics   *metrics.Collector
	replay    replay.Backend
	logger    zerolog.Logger
}

// NewServer constructs a Server. publisher may be nil, in which case
// publishing is rejected.
func NewServer(source varsync.Source, publisher varsync.Publisher, logger zerolog.Logger) *Server {
	return &Server{source: source, publisher: publisher, logger: logger}
}

// WithStats adds relabelling metrics and replay statistics to /api/v1/stats.
func (s *Server) WithStats(collector *metrics.Collector, backend replay.Backend) *Server {
	s.metrics = collector
	s.replay = backend
	return s
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CorrelationID)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/variables", s.handleGetVariables)
		r.Put("/variables", s.handlePublishVariables)
		r.Get("/stats", s.handleStats)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetVariables(w http.ResponseWriter, r *http.Request) {
	names := r.URL.Query()["name"]
	snapshot, err := s.source.Variables(r.Context(), names)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handlePublishVariables(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		s.writeError(w, http.StatusMethodNotAllowed, "publishing is disabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxPublishBody)
	defer r.Body.Close()
	var payload struct {
		Values map[string][]float64 `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid variables payload")
		return
	}
	if len(payload.Values) == 0 {
		s.writeError(w, http.StatusBadRequest, "no variables to publish")
		return
	}
	version, err := s.publisher.Publish(r.Context(), payload.Values)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.logger.Info().Int64("version", version).Int("variables", len(payload.Values)).Msg("Variables published")
	s.writeJSON(w, http.StatusOK, map[string]int64{"version": version})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := struct {
		Relabel metrics.Stats `json:"relabel"`
		Replay  *replay.Stats `json:"replay,omitempty"`
	}{Relabel: s.metrics.Stats()}
	if s.replay != nil {
		stats, err := s.replay.GetStats(r.Context(), "")
		if err != nil {
			s.respondError(w, err)
			return
		}
		out.Replay = stats
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, varsync.ErrNotReady):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, varsync.ErrUnknownVariable):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Request failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}
