// Package api serves the review surface: run history, the ambiguous
// resolution queue, golden status curation, venue candidate triage and
// Prometheus metrics.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placeresolve/internal/golden"
	"github.com/sells-group/placeresolve/internal/runlog"
	"github.com/sells-group/placeresolve/internal/venue"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Deps are the stores the API reads and curates. Any of them may be nil,
// in which case its routes answer 503.
type Deps struct {
	Golden          golden.Store
	Venues          venue.Store
	Runs            runlog.Store
	Gatherer        prometheus.Gatherer
	ResolverVersion string
	CORSOrigins     []string
}

type server struct {
	deps Deps
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: deps.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Get("/{id}", s.getRun)
	})

	r.Get("/reviews/ambiguous", s.listAmbiguous)

	r.Route("/golden/{id}", func(r chi.Router) {
		r.Get("/", s.getGolden)
		r.Post("/status", s.setGoldenStatus)
	})

	r.Route("/venues/candidates", func(r chi.Router) {
		r.Get("/", s.listCandidates)
		r.Post("/{id}/status", s.setCandidateStatus)
	})

	return r
}

func (s *server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		unavailable(w, "run log")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	runs, err := s.deps.Runs.List(r.Context(), runlog.Filter{
		Kind:   r.URL.Query().Get("kind"),
		Status: runlog.Status(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		internalError(w, r, err)
		return
	}
	if runs == nil {
		runs = []runlog.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		unavailable(w, "run log")
		return
	}
	run, err := s.deps.Runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if eris.Is(err, runlog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *server) listAmbiguous(w http.ResponseWriter, r *http.Request) {
	if s.deps.Golden == nil {
		unavailable(w, "golden registry")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	version := r.URL.Query().Get("version")
	if version == "" {
		version = s.deps.ResolverVersion
	}

	links, err := s.deps.Golden.ListAmbiguous(r.Context(), version, limit)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if links == nil {
		links = []golden.AmbiguousLink{}
	}
	writeJSON(w, http.StatusOK, links)
}

func (s *server) getGolden(w http.ResponseWriter, r *http.Request) {
	if s.deps.Golden == nil {
		unavailable(w, "golden registry")
		return
	}
	g, err := s.deps.Golden.GetGolden(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, r, err)
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "golden record not found")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *server) setGoldenStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Golden == nil {
		unavailable(w, "golden registry")
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, err := golden.ParseStatus(strings.ToUpper(req.Status))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.deps.Golden.UpdateStatus(r.Context(), id, status); err != nil {
		switch {
		case eris.Is(err, golden.ErrNotFound):
			writeError(w, http.StatusNotFound, "golden record not found")
		case eris.Is(err, golden.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			internalError(w, r, err)
		}
		return
	}
	zap.L().Info("golden status updated", zap.String("golden_id", id), zap.String("status", string(status)))
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(status)})
}

func (s *server) listCandidates(w http.ResponseWriter, r *http.Request) {
	if s.deps.Venues == nil {
		unavailable(w, "venue store")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	var status venue.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := venue.ParseStatus(strings.ToUpper(raw))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = st
	}

	cands, err := s.deps.Venues.ListCandidates(r.Context(), venue.ListFilter{
		ActorID: r.URL.Query().Get("actor"),
		Status:  status,
		Limit:   limit,
	})
	if err != nil {
		internalError(w, r, err)
		return
	}
	if cands == nil {
		cands = []venue.CandidateAssociation{}
	}
	writeJSON(w, http.StatusOK, cands)
}

func (s *server) setCandidateStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Venues == nil {
		unavailable(w, "venue store")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid candidate id")
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, err := venue.ParseStatus(strings.ToUpper(req.Status))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if status == venue.StatusPending {
		writeError(w, http.StatusBadRequest, "status must be APPROVED or REJECTED")
		return
	}

	if err := s.deps.Venues.SetStatus(r.Context(), id, status); err != nil {
		if eris.Is(err, venue.ErrNotFound) {
			writeError(w, http.StatusNotFound, "candidate not found")
			return
		}
		internalError(w, r, err)
		return
	}
	zap.L().Info("venue candidate reviewed", zap.Int64("candidate_id", id), zap.String("status", string(status)))
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" not configured")
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api: request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
