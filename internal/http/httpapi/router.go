package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"storyforge/internal/http/handlers"
	"storyforge/internal/middleware"
)

// NewRouter assembles the public HTTP surface.
func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		chimw.Recoverer,
		middleware.RequestID,
		middleware.Logger(app.Log),
		middleware.CORS(app.Cfg.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.With(middleware.RateLimit(app.Cfg.RateLimitPerMin, time.Minute)).Post("/", app.CreateJob)
		r.Get("/{id}", app.GetJob)
		r.Post("/{id}/cancel", app.CancelJob)
		r.Get("/{id}/events", app.JobEvents)
		r.Get("/{id}/assets", app.DownloadAssets)
	})

	// Generated assets are served straight from the blob store.
	fs := http.StripPrefix("/static/", http.FileServer(http.Dir(app.Store.BasePath())))
	r.Get("/static/*", fs.ServeHTTP)

	return r
}
