// Package server exposes the stored place corpus over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placecrawl/internal/export"
	"github.com/sells-group/placecrawl/internal/store"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
	shutdownTimeout  = 10 * time.Second
)

// Server serves read-only views of the place store.
type Server struct {
	store  store.PlaceStore
	router chi.Router
}

// New constructs a Server with its routes wired.
func New(st store.PlaceStore) *Server {
	s := &Server{store: st}

	r := chi.NewRouter()
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)

	r.Get("/health", s.health)
	r.Get("/stats", s.stats)
	r.Get("/places", s.listPlaces)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the context is cancelled or the listener
// fails, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("http server listening", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server: shutdown")
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return eris.Wrap(err, "server: listen")
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statsResponse aggregates corpus size and recent crawl runs.
type statsResponse struct {
	Places int64            `json:"places"`
	Runs   []store.CrawlRun `json:"runs"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	runs, err := s.store.ListRuns(r.Context(), 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []store.CrawlRun{}
	}
	writeJSON(w, http.StatusOK, statsResponse{Places: count, Runs: runs})
}

// errDone ends a store iteration early once the page is full.
var errDone = eris.New("server: page complete")

// listPlaces streams a page of the corpus as NDJSON. Query parameters:
// limit (default 100, max 1000) and offset.
func (s *Server) listPlaces(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)

	skipped, written := 0, 0
	err = s.store.Iterate(r.Context(), func(sp store.StoredPlace) error {
		if skipped < offset {
			skipped++
			return nil
		}
		record, err := export.Record(sp)
		if err != nil {
			return err
		}
		if err := enc.Encode(record); err != nil {
			return err
		}
		written++
		if written >= limit {
			return errDone
		}
		return nil
	})
	if err != nil && !eris.Is(err, errDone) {
		// Headers are already out; all we can do is log and cut the stream.
		zap.L().Error("server: stream places", zap.Error(err))
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		zap.L().Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				zap.L().Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write json response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
