package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/providers/replicate"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/reconcile"
)

const (
	webhookProvider      = "replicate"
	webhookMaxBody       = 1 << 20
	signatureHeader      = "X-Webhook-Signature"
	webhookTimestampHead = "Webhook-Timestamp"
)

type webhookEnvelope struct {
	ID     string `json:"id" validate:"required"`
	Status string `json:"status" validate:"required"`
}

type webhookResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
	Action string `json:"action,omitempty"`
}

// ReplicateWebhook receives provider status callbacks. A delivery is marked
// processed only once the transition has fully applied, so the provider's
// retries drive failed deliveries again.
func (a *App) ReplicateWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, webhookMaxBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable payload")
		return
	}
	if a.WebhookSecret != "" && !VerifySignature(a.WebhookSecret, body, r.Header.Get(signatureHeader)) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.validator().Struct(envelope); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "id and status are required")
		return
	}
	var pred replicate.Prediction
	if err := json.Unmarshal(body, &pred); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	ctx := r.Context()
	log := a.Logger.With().Str("external_id", pred.ID).Str("status", pred.Status).Logger()

	job, err := a.Store.Jobs().GetByExternalID(ctx, pred.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("webhook for unknown job")
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		log.Error().Err(err).Msg("load job for webhook")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	log = log.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Logger()

	eventType := string(job.Kind) + "." + strings.ToLower(pred.Status)
	key := IdempotencyKey(eventType, pred.ID, webhookTimestamp(r, &pred))
	delivery, err := a.Store.Deliveries().Record(ctx, &domain.WebhookDelivery{
		IdempotencyKey: key,
		Provider:       webhookProvider,
		EventType:      eventType,
		ExternalJobID:  pred.ID,
		RawPayload:     body,
	})
	if err != nil {
		log.Error().Err(err).Msg("record webhook delivery")
		a.error(w, http.StatusInternalServerError, "internal", "failed to record delivery")
		return
	}
	if delivery.Processed {
		log.Debug().Str("idempotency_key", key).Msg("webhook already processed")
		a.json(w, http.StatusOK, webhookResponse{Status: "already_processed", JobID: job.ID})
		return
	}

	outcome, err := a.Reconciler.Reconcile(ctx, job, reconcile.FromPrediction(&pred))
	if err != nil {
		if markErr := a.Store.Deliveries().MarkFailed(ctx, key, err.Error()); markErr != nil {
			log.Error().Err(markErr).Msg("mark webhook delivery failed")
		}
		switch {
		case errors.Is(err, domain.ErrJobBusy):
			log.Info().Msg("job busy, provider will retry")
			a.error(w, http.StatusServiceUnavailable, "busy", "job is being processed")
		case errors.Is(err, domain.ErrInvalidJob):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		default:
			log.Error().Err(err).Msg("reconcile from webhook failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to apply status")
		}
		return
	}
	if err := a.Store.Deliveries().MarkProcessed(ctx, key); err != nil {
		log.Error().Err(err).Msg("mark webhook delivery processed")
	}
	log.Info().Str("action", string(outcome.Action)).Msg("webhook applied")
	a.json(w, http.StatusOK, webhookResponse{Status: "processed", JobID: job.ID, Action: string(outcome.Action)})
}

// VerifySignature checks an "sha256=<hex>" HMAC of body.
func VerifySignature(secret string, body []byte, header string) bool {
	sig := strings.TrimSpace(header)
	sig = strings.TrimPrefix(sig, "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, Sign(secret, body))
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// IdempotencyKey derives the delivery key from the event identity.
func IdempotencyKey(eventType, externalID, timestamp string) string {
	sum := sha256.Sum256([]byte(eventType + "|" + externalID + "|" + timestamp))
	return hex.EncodeToString(sum[:])
}

func webhookTimestamp(r *http.Request, p *replicate.Prediction) string {
	if ts := strings.TrimSpace(r.Header.Get(webhookTimestampHead)); ts != "" {
		return ts
	}
	for _, ts := range []string{p.CompletedAt, p.StartedAt, p.CreatedAt} {
		if ts != "" {
			return ts
		}
	}
	return ""
}
