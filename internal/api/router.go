package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds settings for the API router.
// Passed from main.go so the router can configure CORS and auth from env vars.
type RouterConfig struct {
	// BackendAPIKey is the key that must be provided in X-API-Key or Authorization: Bearer <key>.
	// If empty, auth middleware is skipped (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// CORS: restrict origins when configured, otherwise allow all (dev mode)
	allowedOrigins := []string{"*"}
	if cfg.CorsAllowedOrigins != "" {
		origins := strings.Split(cfg.CorsAllowedOrigins, ",")
		trimmed := make([]string, 0, len(origins))
		for _, o := range origins {
			if s := strings.TrimSpace(o); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			allowedOrigins = trimmed
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check — public, no auth required
	r.Get("/health", h.Health)

	// WebSocket push channel (§6.2) — outside /v1 since it's not a REST
	// resource, so APIKeyAuth does not apply; Connect only requires a
	// non-empty token query parameter and does not verify it.
	r.Get("/ws/connect", h.Connect)

	// API routes — protected by API key auth
	r.Route("/v1", func(r chi.Router) {
		// Apply auth middleware only to /v1 routes
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}

		// Projects
		r.Get("/projects", h.ListProjects)
		r.Post("/projects", h.CreateProject)
		r.Get("/projects/{id}", h.GetProject)
		r.Post("/projects/{id}/archive", h.ArchiveProject)
		r.Get("/projects/{id}/chapters", h.ListProjectChapters)

		// Chapters
		r.Get("/chapters/{id}", h.GetChapter)
		r.Post("/chapters/{id}/confirm", h.ConfirmChapter)
		r.Post("/chapters/{id}/reset", h.ResetChapter)
		r.Delete("/chapters/{id}", h.DeleteChapter)

		// Paragraphs
		r.Patch("/paragraphs/{id}", h.UpdateParagraph)

		// API keys
		r.Post("/api-keys", h.CreateAPIKey)
		r.Get("/api-keys", h.ListAPIKeys)
		r.Delete("/api-keys/{id}", h.DeleteAPIKey)

		// Stage fan-out triggers
		r.Post("/prompt/generate-prompts", h.GeneratePrompts)
		r.Post("/prompt/generate-prompts-ids", h.GeneratePromptsByIDs)
		r.Post("/generate-images", h.GenerateImages)
		r.Post("/generate-audio", h.GenerateAudio)

		// Video tasks
		r.Post("/video-tasks", h.CreateVideoTask)
		r.Get("/video-tasks/{id}", h.GetVideoTask)
		r.Post("/video-tasks/{id}/retry", h.RetryVideoTask)
		r.Delete("/video-tasks/{id}", h.DeleteVideoTask)

		// Generic task status
		r.Get("/tasks/{task_id}", h.GetTaskStatus)
	})

	return r
}
