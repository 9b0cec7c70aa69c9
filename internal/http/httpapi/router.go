package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/http/handlers"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/middleware"
)

// Options configures the middleware stack.
type Options struct {
	JWTSecret       string
	DefaultLocale   string
	RateLimitPerMin int
	CORSOrigins     []string
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
		middleware.I18N(opts.DefaultLocale),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	// Machine callers authenticate with their own secrets.
	r.Post("/v1/webhooks/replicate", app.ReplicateWebhook)
	r.Get("/v1/cron/sync", app.CronSync)
	r.Get("/v1/files/*", app.File)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.Get("/v1/events", app.Events)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
			r.Post("/v1/jobs", app.JobsSubmit)
			r.Get("/v1/jobs/{job_id}", app.JobStatus)
			r.Post("/v1/jobs/{job_id}/cancel", app.JobCancel)
			r.Get("/v1/jobs/{job_id}/archive", app.JobArchive)
			r.Get("/v1/credits", app.CreditsBalance)
		})
	})

	return r
}
