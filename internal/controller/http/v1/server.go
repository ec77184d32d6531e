package v1

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mvai/bracket_orchestrator/internal/config"
)

type Server struct {
	httpServer *http.Server
}

func NewServer(log *slog.Logger, cfg config.HTTP, service JobsService, cache StatusCache, stream EventStream) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := NewJobsHandler(log, service, cache, stream)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", h.CreateJob)
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/", h.GetJob)
			r.Get("/events", h.StreamEvents)
			r.Get("/groups/{group_id}/result", h.DownloadResult)
			r.Post("/uploads", h.PresignUploads)
			r.Post("/uploads/multipart", h.PresignMultipartUpload)
			r.Post("/uploads/multipart/complete", h.CompleteMultipartUpload)
			r.Post("/files", h.RegisterFiles)
			r.Post("/analyze", h.Analyze)
			r.Post("/start", h.Start)
			r.Post("/retry", h.Retry)
			r.Post("/cancel", h.Cancel)
		})
		r.Post("/callbacks/dispatch", h.DispatchCallback)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
			Handler:      r,
		},
	}
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
