// Package server exposes the pipeline over HTTP: submission, record reads,
// re-parsing and workbook export.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pamdocs/docpipe/internal/common"
	"github.com/pamdocs/docpipe/internal/export"
	"github.com/pamdocs/docpipe/internal/pipeline"
	"github.com/pamdocs/docpipe/internal/store"
)

// Server holds the handlers' collaborators.
type Server struct {
	log          *zap.SugaredLogger
	orch         *pipeline.Orchestrator
	store        store.JobStore
	export       *export.Service
	partitionKey string
}

func New(log *zap.SugaredLogger, orch *pipeline.Orchestrator, st store.JobStore, exp *export.Service, partitionKey string) *Server {
	return &Server{
		log:          log,
		orch:         orch,
		store:        st,
		export:       exp,
		partitionKey: partitionKey,
	}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/count", s.handleCount)
		r.Get("/{jobID}", s.handleGet)
		r.Patch("/{jobID}", s.handleReparse)
		r.Get("/{jobID}/export", s.handleExport)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		ctx := common.WithRequestID(r.Context(), reqID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		s.log.Infow("http.request",
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}
