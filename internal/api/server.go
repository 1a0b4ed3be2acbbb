// Package api exposes the audit pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"vigilant-go/internal/actionable"
	"vigilant-go/internal/aggregator"
	"vigilant-go/internal/archive"
	"vigilant-go/internal/config"
	"vigilant-go/internal/logger"
	"vigilant-go/internal/metrics"
	"vigilant-go/internal/pipeline"
	"vigilant-go/internal/types"
)

const maxUploadBytes = 64 << 20

// Pipeline is the part of the orchestrator the handlers drive.
type Pipeline interface {
	Analyze(ctx context.Context, req pipeline.Request) (*types.AuditReport, error)
	Stream(ctx context.Context, req pipeline.Request) <-chan pipeline.StageEvent
}

// Reports is the read side of the report archive.
type Reports interface {
	Get(ctx context.Context, requestID string) (json.RawMessage, error)
	Recent(ctx context.Context, limit int) ([]archive.Summary, error)
}

// Sink receives every successfully assembled report. Sink errors are logged
// and never change the response.
type Sink struct {
	Name    string
	Deliver func(ctx context.Context, rep *types.AuditReport) error
}

type Server struct {
	router   *chi.Mux
	pipeline Pipeline
	defaults config.Config
	reports  Reports
	sinks    []Sink
	log      *logger.Logger
	now      func() time.Time
}

type Option func(*Server)

func WithReports(r Reports) Option {
	return func(s *Server) { s.reports = r }
}

func WithSink(name string, fn func(ctx context.Context, rep *types.AuditReport) error) Option {
	return func(s *Server) { s.sinks = append(s.sinks, Sink{Name: name, Deliver: fn}) }
}

func NewServer(p Pipeline, defaults config.Config, log *logger.Logger, opts ...Option) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		pipeline: p,
		defaults: defaults,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	router.Use(s.requestLog)

	router.Get("/healthz", s.health)
	router.Get("/config", s.getConfig)
	router.Get("/config/schema", s.configSchema)
	router.Post("/config/validate", s.validateConfig)
	router.Post("/analyze", s.analyze)
	router.Post("/analyze/stream", s.analyzeStream)
	router.Get("/reports", s.listReports)
	router.Get("/reports/{requestID}", s.getReport)
	router.Get("/insights", s.insights)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		s.log.WithRequest(r).WithFields(logrus.Fields{
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("request served")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.defaults)
}

func (s *Server) validateConfig(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		writeError(w, s.log.WithRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, config.Validate(s.defaults, raw))
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "report archive is not configured"})
		return
	}
	id := chi.URLParam(r, "requestID")
	raw, err := s.reports.Get(r.Context(), id)
	if err != nil {
		s.log.WithRequest(r).WithError(err).WithField("req_id", id).Debug("report lookup failed")
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "no report for " + id})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (s *Server) recent(w http.ResponseWriter, r *http.Request) ([]archive.Summary, bool) {
	if s.reports == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "report archive is not configured"})
		return nil, false
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	list, err := s.reports.Recent(r.Context(), limit)
	if err != nil {
		s.log.WithRequest(r).WithError(err).Error("list reports failed")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Detail: "report archive unavailable"})
		return nil, false
	}
	return list, true
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	if list, ok := s.recent(w, r); ok {
		writeJSON(w, http.StatusOK, list)
	}
}

// insights summarises the most recent archived audits with one action card.
func (s *Server) insights(w http.ResponseWriter, r *http.Request) {
	list, ok := s.recent(w, r)
	if !ok {
		return
	}
	ins := aggregator.Aggregate(list)
	writeJSON(w, http.StatusOK, map[string]any{
		"insight":     ins,
		"action_card": actionable.Generate(ins),
	})
}

// deliver hands rep to every sink. It runs detached from the request so a
// client hanging up does not cancel archiving.
func (s *Server) deliver(ctx context.Context, rep *types.AuditReport, log *logrus.Entry) {
	ctx = context.WithoutCancel(ctx)
	for _, sink := range s.sinks {
		if err := sink.Deliver(ctx, rep); err != nil {
			log.WithError(err).WithField("sink", sink.Name).WithField("req_id", rep.RequestID).Warn("report sink failed")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
