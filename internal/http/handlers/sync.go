package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// CronSync runs one polling cycle on behalf of an external scheduler.
func (a *App) CronSync(w http.ResponseWriter, r *http.Request) {
	if !a.cronAuthorized(r) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid cron secret")
		return
	}
	if a.Sweeper == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "poller not configured")
		return
	}
	summary, err := a.Sweeper.Run(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("cron sync failed")
		a.error(w, http.StatusInternalServerError, "internal", "sync failed")
		return
	}
	a.json(w, http.StatusOK, summary)
}

func (a *App) cronAuthorized(r *http.Request) bool {
	if a.CronSecret == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(a.CronSecret)) == 1
}
