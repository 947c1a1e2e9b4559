package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"rng-u01/internal/config"
	"rng-u01/internal/journal"
	"rng-u01/internal/runner"
	"rng-u01/internal/scenario"
	"rng-u01/internal/u01"
)

// ======= helpers =======
func atoi(q string, def int) int {
	if q == "" {
		return def
	}
	v, err := strconv.Atoi(q)
	if err != nil {
		return def
	}
	return v
}

func atof(q string, def float64) float64 {
	if q == "" {
		return def
	}
	v, err := strconv.ParseFloat(q, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, u01.ErrInvalidParam):
		return http.StatusBadRequest
	case errors.Is(err, scenario.ErrUnknown), errors.Is(err, journal.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, u01.ErrBusy), errors.Is(err, u01.ErrInUse):
		return http.StatusConflict
	case errors.Is(err, u01.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// ======= server =======
type server struct {
	cfg    config.Config
	runner *runner.Runner
	store  journal.Store
	log    zerolog.Logger
}

func newServer(cfg config.Config, rn *runner.Runner, store journal.Store, log zerolog.Logger) *server {
	if abs, err := filepath.Abs(cfg.WorkDir); err == nil {
		cfg.WorkDir = abs
	}
	return &server{cfg: cfg, runner: rn, store: store, log: log}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthHandler)
	r.Get("/scenarios", s.scenariosHandler)
	r.Post("/scenarios/{name}/run", s.runScenarioHandler)
	r.Get("/batteries", s.batteriesHandler)
	r.Post("/files/battery", s.fileBatteryHandler)
	r.Post("/files/scatter", s.scatterHandler)
	r.Get("/runs", s.runsHandler)
	r.Get("/runs/{id}", s.runHandler)
	r.Get("/chain", s.chainHandler)
	r.Get("/chain/verify", s.verifyChainHandler)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	})
	return c.Handler(r)
}

func (s *server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Str("req", middleware.GetReqID(r.Context())).
			Msg("http")
	})
}

// ======= handlers =======
func (s *server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": s.runner.Backend().Name()})
}

func (s *server) scenariosHandler(w http.ResponseWriter, r *http.Request) {
	all := scenario.All()
	out := make([]ScenarioInfo, 0, len(all))
	for _, sc := range all {
		out = append(out, ScenarioInfo{Name: sc.Name, Description: sc.Description, Defaults: sc.Defaults()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) batteriesHandler(w http.ResponseWriter, r *http.Request) {
	var out []BatteryInfo
	for _, b := range u01.Batteries() {
		out = append(out, BatteryInfo{Name: b, Title: b.Title(), SupportsFile: b.SupportsFile()})
	}
	writeJSON(w, http.StatusOK, out)
}

// runScenarioHandler takes parameter overrides as the JSON body and
// key=value assignments as repeated "set" query values.
func (s *server) runScenarioHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	s.run(w, r, runner.Request{
		Scenario: chi.URLParam(r, "name"),
		Params:   body,
		Sets:     r.URL.Query()["set"],
	})
}

func (s *server) run(w http.ResponseWriter, r *http.Request, req runner.Request) {
	req.Dir = s.cfg.WorkDir
	rec, err := s.runner.Run(r.Context(), req)
	if rec == nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	writeJSON(w, status, rec)
}

func (s *server) runsHandler(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.List(r.Context(), atoi(r.URL.Query().Get("limit"), 50))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]RunSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, summarizeRun(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) runHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
