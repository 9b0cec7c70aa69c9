package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/jobs"
)

type jobDTO struct {
	ID                 string     `json:"id"`
	Kind               string     `json:"kind"`
	Status             string     `json:"status"`
	ExternalJobID      string     `json:"external_job_id,omitempty"`
	ResultURLs         []string   `json:"result_urls"`
	ThumbnailURLs      []string   `json:"thumbnail_urls"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	StorageError       string     `json:"storage_error,omitempty"`
	EphemeralExpiresAt *time.Time `json:"ephemeral_expires_at,omitempty"`
	ProcessingSeconds  float64    `json:"processing_seconds,omitempty"`
	CreditsCharged     int        `json:"credits_charged"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

func toJobDTO(job *domain.Job) jobDTO {
	dto := jobDTO{
		ID:                 job.ID,
		Kind:               string(job.Kind),
		Status:             string(job.Status),
		ExternalJobID:      job.ExternalJobID,
		ResultURLs:         job.ResultURLs,
		ThumbnailURLs:      job.ThumbnailURLs,
		ErrorMessage:       job.ErrorMessage,
		StorageError:       job.StorageError,
		EphemeralExpiresAt: job.EphemeralExpiresAt,
		ProcessingSeconds:  job.ProcessingSeconds,
		CreditsCharged:     job.CreditsCharged,
		CreatedAt:          job.CreatedAt,
		UpdatedAt:          job.UpdatedAt,
		CompletedAt:        job.CompletedAt,
	}
	if dto.ResultURLs == nil {
		dto.ResultURLs = []string{}
	}
	if dto.ThumbnailURLs == nil {
		dto.ThumbnailURLs = []string{}
	}
	return dto
}

func (a *App) JobsSubmit(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req jobs.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.OwnerID = userID

	job, err := a.Jobs.Submit(r.Context(), req)
	switch {
	case err == nil:
		a.json(w, http.StatusAccepted, toJobDTO(job))
	case errors.Is(err, domain.ErrInvalidJob):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "user not found")
	case job != nil:
		// The provider refused the job; the charge has been refunded.
		a.json(w, http.StatusBadGateway, map[string]any{
			"error": errorBody{Code: "provider_error", Message: "provider rejected the job"},
			"job":   toJobDTO(job),
		})
	default:
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("submit job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to submit job")
	}
}

func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.Jobs.Get(r.Context(), userID, chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, toJobDTO(job))
}

func (a *App) JobCancel(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.Jobs.Cancel(r.Context(), userID, chi.URLParam(r, "job_id"))
	switch {
	case err == nil:
		a.json(w, http.StatusAccepted, toJobDTO(job))
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrInvalidJob):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	default:
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("cancel job failed")
		a.error(w, http.StatusBadGateway, "provider_error", "failed to cancel job")
	}
}

type balanceDTO struct {
	CreditsLimit int `json:"credits_limit"`
	CreditsUsed  int `json:"credits_used"`
	Available    int `json:"available"`
}

func (a *App) CreditsBalance(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	bal, err := a.Store.Credits().Balance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load balance")
		return
	}
	a.json(w, http.StatusOK, balanceDTO{CreditsLimit: bal.CreditsLimit, CreditsUsed: bal.CreditsUsed, Available: bal.Available()})
}
