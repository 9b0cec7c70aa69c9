package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/materialize"
	"github.com/tiagomennab/ensaio-fotos-sub002/pkg/zip"
)

// JobArchive returns the materialized results of a completed job as a zip.
// Jobs still pointing at ephemeral provider URLs have nothing to bundle.
func (a *App) JobArchive(w http.ResponseWriter, r *http.Request) {
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
	if job.Status != domain.JobStatusCompleted || job.StorageError != "" || len(job.ResultURLs) == 0 || a.Files == nil {
		a.error(w, http.StatusConflict, "not_archivable", "job has no stored results")
		return
	}

	assets := make([]zip.Asset, 0, len(job.ResultURLs))
	for _, u := range job.ResultURLs {
		key, ok := materialize.KeyFromURL(job, u)
		if !ok {
			a.error(w, http.StatusConflict, "not_archivable", "job has no stored results")
			return
		}
		data, err := a.Files.Get(r.Context(), key)
		if err != nil {
			a.Logger.Error().Err(err).Str("job_id", job.ID).Str("key", key).Msg("read artifact for archive")
			a.error(w, http.StatusInternalServerError, "internal", "failed to read results")
			return
		}
		assets = append(assets, zip.Asset{Filename: key, Data: data})
	}

	var buf bytes.Buffer
	modified := job.UpdatedAt
	if job.CompletedAt != nil {
		modified = *job.CompletedAt
	}
	if modified.IsZero() {
		modified = time.Now().UTC()
	}
	if err := zip.Write(&buf, assets, modified); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("build archive")
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.ID+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
