package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"go-docspace/internal/config"
	"go-docspace/internal/handler"
	"go-docspace/internal/metrics"
	"go-docspace/internal/middleware"
)

type Handlers struct {
	FileOps   *handler.FileOpsHandler
	Health    *handler.HealthHandler
	Docs      *handler.DocsHandler
	Websocket http.Handler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, h Handlers) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.TaskRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(metrics.Middleware)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Get("/health", h.Health.Health)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/openapi.yaml", h.Docs.OpenAPI)
	r.Get("/swagger", h.Docs.SwaggerUI)
	r.With(authMiddleware.RequireAuth).Get("/ws", h.Websocket.ServeHTTP)

	r.Route("/api/v1/fileops", func(ops chi.Router) {
		ops.Use(authMiddleware.RequireAuth)
		ops.Use(rateLimitMiddleware.Handler)

		// results can be large archives; no buffering timeout here
		ops.With(middleware.StreamingTimeout(time.Hour, 2*time.Minute)).Get("/downloads/*", h.FileOps.DownloadResult)

		ops.Group(func(api chi.Router) {
			api.Use(middleware.Timeout(cfg.RequestTimeout))

			api.Get("/", h.FileOps.List)
			api.Put("/terminate", h.FileOps.Terminate)
			api.Put("/terminate/{taskID}", h.FileOps.Terminate)
			api.Post("/download", h.FileOps.Download)
			api.Post("/markasread", h.FileOps.MarkAsRead)

			api.With(authMiddleware.RequireUser).Post("/move", h.FileOps.Move)
			api.With(authMiddleware.RequireUser).Post("/copy", h.FileOps.Copy)
			api.With(authMiddleware.RequireUser).Post("/delete", h.FileOps.Delete)
			api.With(authMiddleware.RequireUser).Post("/emptytrash", h.FileOps.EmptyTrash)
			api.With(authMiddleware.RequireUser).Post("/duplicate", h.FileOps.Duplicate)
		})
	})

	return r
}
