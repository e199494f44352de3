package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/doc-cache/pkg/cache"
	"github.com/Sternrassler/doc-cache/pkg/docstore"
	"github.com/Sternrassler/doc-cache/pkg/metrics"
)

const readyTimeout = 2 * time.Second

type server struct {
	repo       *cache.Repository
	store      docstore.Store
	sweeper    *cache.Sweeper
	allowClear bool
	logger     zerolog.Logger
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/health", healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/stats", s.statsHandler)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/sweep", s.sweepHandler)
		if s.allowClear {
			r.Post("/clear", s.clearHandler)
		}
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.store.(docstore.Pinger)
	if !ok {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "READY")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Readiness check failed")
		http.Error(w, "document store unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "READY")
}

func (s *server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sweeper.Stats())
}

func (s *server) sweepHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.sweeper.RunOnce(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"result": res,
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

func (s *server) clearHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn().
		Str("namespace", s.repo.Codec().Namespace()).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("Clearing cache namespace")

	err := s.repo.Clear(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
		return
	}

	body := map[string]any{"status": "incomplete", "error": err.Error()}
	var clearErr *cache.ClearError
	if errors.As(err, &clearErr) {
		body["result"] = clearErr.Result
	}
	writeJSON(w, http.StatusInternalServerError, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request at debug level, and admin calls at info.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			level := zerolog.DebugLevel
			if r.Method != http.MethodGet {
				level = zerolog.InfoLevel
			}
			logger.WithLevel(level).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("HTTP request")
		})
	}
}
