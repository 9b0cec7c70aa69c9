package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/events"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/jobs"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/middleware"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/poller"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/reconcile"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/storage"
)

// JobService is the user-facing job lifecycle.
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*domain.Job, error)
	Get(ctx context.Context, ownerID, jobID string) (*domain.Job, error)
	Cancel(ctx context.Context, ownerID, jobID string) (*domain.Job, error)
}

// Reconciler applies provider observations.
type Reconciler interface {
	Reconcile(ctx context.Context, job *domain.Job, obs reconcile.Observation) (reconcile.Outcome, error)
}

// App carries the dependencies shared by the HTTP handlers.
type App struct {
	Logger        zerolog.Logger
	Store         domain.Store
	Jobs          JobService
	Reconciler    Reconciler
	Sweeper       poller.Runner
	EventsBus     events.Subscriber
	Files         storage.ObjectStore
	WebhookSecret string
	CronSecret    string

	// AllowedOrigins lists the browser origins accepted for websocket upgrades.
	AllowedOrigins []string

	validate *validator.Validate
}

func NewApp(logger zerolog.Logger) *App {
	return &App{Logger: logger, validate: validator.New()}
}

func (a *App) validator() *validator.Validate {
	if a.validate == nil {
		a.validate = validator.New()
	}
	return a.validate
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]errorBody{"error": {Code: errCode, Message: message}})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
