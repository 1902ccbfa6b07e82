package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates the HTTP router with configured routes, middleware, and
// handlers: download control, status poll, event stream, library access,
// health check, and Prometheus metrics.
func NewRouter(handler *DownloadHandler, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/download", handler.StartDownload)
		r.Get("/downloads/status", handler.DownloadStatus)
		r.Post("/cancel", handler.CancelDownload)
		r.Post("/reset", handler.ResetSession)
		r.Get("/events", handler.Events)

		r.Get("/media", handler.ListMedia)
		r.Get("/media/detail", handler.MediaDetail)
		r.Post("/library/scan", handler.ScanLibrary)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
