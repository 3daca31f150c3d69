// Package server exposes the capture store and engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/capture-cli/internal/config"
	"github.com/sells-group/capture-cli/internal/model"
	"github.com/sells-group/capture-cli/internal/outcome"
	"github.com/sells-group/capture-cli/internal/outreach"
	"github.com/sells-group/capture-cli/internal/scorer"
	"github.com/sells-group/capture-cli/internal/store"
)

// ScoreRunner runs a scoring pass.
type ScoreRunner interface {
	Run(ctx context.Context, opts scorer.PassOptions) (*scorer.PassResult, error)
}

// DraftRunner runs an outreach drafting pass.
type DraftRunner interface {
	Run(ctx context.Context, filter model.MatchFilter) (*outreach.Result, error)
}

// Server serves the read API, outcome capture and engine actions.
type Server struct {
	store    store.Store
	recorder *outcome.Recorder
	scorer   ScoreRunner
	drafter  DraftRunner
	cfg      config.ServerConfig
	log      *zap.Logger
}

// New creates a Server. drafter may be nil, in which case the draft action
// reports 503.
func New(st store.Store, sc ScoreRunner, drafter DraftRunner, cfg config.ServerConfig) *Server {
	return &Server{
		store:    st,
		recorder: outcome.NewRecorder(st),
		scorer:   sc,
		drafter:  drafter,
		cfg:      cfg,
		log:      zap.L().With(zap.String("component", "server")),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/opportunities", s.listOpportunities)
	r.Get("/opportunities/{noticeID}", s.getOpportunity)
	r.Get("/contractors", s.listContractors)
	r.Get("/contractors/{id}", s.getContractor)
	r.Get("/matches", s.listMatches)
	r.Post("/outcomes", s.recordOutcome)
	r.Get("/outcomes/{opportunityID}/{contractorID}", s.getOutcome)
	r.Get("/runs", s.listRuns)
	r.Post("/engine/{action}", s.engineAction)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("server shutdown", zap.Error(err))
		}
	}()

	s.log.Info("starting server", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.OpportunityFilter{
		ActiveOnly: q.Get("active") == "true",
		NAICS:      q.Get("naics"),
	}
	if ids := q.Get("notice_ids"); ids != "" {
		filter.NoticeIDs = strings.Split(ids, ",")
	}
	if v := q.Get("posted_after"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "posted_after must be YYYY-MM-DD")
			return
		}
		filter.PostedAfter = &t
	}
	var ok bool
	if filter.Limit, ok = limitParam(w, r); !ok {
		return
	}

	opps, err := s.store.ListOpportunities(r.Context(), filter)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(opps))
}

func (s *Server) getOpportunity(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.GetOpportunity(r.Context(), chi.URLParam(r, "noticeID"))
	if err != nil {
		s.lookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) listContractors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ContractorFilter{
		RegisteredOnly: q.Get("registered") == "true",
		State:          strings.ToUpper(q.Get("state")),
	}
	var ok bool
	if filter.Limit, ok = limitParam(w, r); !ok {
		return
	}

	cs, err := s.store.ListContractors(r.Context(), filter)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(cs))
}

func (s *Server) getContractor(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetContractor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.lookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) listMatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.MatchFilter{
		OpportunityID: q.Get("opportunity_id"),
		ContractorID:  strings.ToUpper(q.Get("contractor_id")),
	}
	if t := q.Get("min_tier"); t != "" {
		filter.MinTier = model.Tier(strings.ToUpper(t))
		if filter.MinTier.Rank() == 0 {
			writeError(w, http.StatusBadRequest, "min_tier must be HOT, WARM or COLD")
			return
		}
	}
	var ok bool
	if filter.Limit, ok = limitParam(w, r); !ok {
		return
	}

	ms, err := s.store.ListMatches(r.Context(), filter)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ms))
}

func (s *Server) recordOutcome(w http.ResponseWriter, r *http.Request) {
	var o model.Outcome
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	saved, err := s.recorder.Record(r.Context(), o)
	if err != nil {
		var verr *outcome.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) getOutcome(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.GetOutcome(r.Context(),
		chi.URLParam(r, "opportunityID"), strings.ToUpper(chi.URLParam(r, "contractorID")))
	if err != nil {
		s.lookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(runs))
}

func (s *Server) engineAction(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch action := chi.URLParam(r, "action"); action {
	case "score":
		opts := scorer.PassOptions{
			WriteMode: store.WriteMode(q.Get("write_mode")),
			DryRun:    q.Get("dry_run") == "true",
			Opportunities: model.OpportunityFilter{
				ActiveOnly: q.Get("active") == "true",
				NAICS:      q.Get("naics"),
			},
		}
		if ids := q.Get("notice_ids"); ids != "" {
			opts.Opportunities.NoticeIDs = strings.Split(ids, ",")
		}
		if opts.WriteMode != "" && opts.WriteMode != store.WriteUpsert && opts.WriteMode != store.WriteReplace {
			writeError(w, http.StatusBadRequest, "write_mode must be upsert or replace")
			return
		}
		res, err := s.scorer.Run(r.Context(), opts)
		if err != nil {
			s.internalError(w, err)
			return
		}
		if q.Get("include_matches") != "true" {
			res.Matches = nil
		}
		writeJSON(w, http.StatusOK, res)

	case "draft":
		if s.drafter == nil {
			writeError(w, http.StatusServiceUnavailable, "drafting is not configured")
			return
		}
		res, err := s.drafter.Run(r.Context(), model.MatchFilter{OpportunityID: q.Get("opportunity_id")})
		if err != nil {
			s.internalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)

	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
	}
}

func (s *Server) lookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.internalError(w, err)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
