package domain

import "time"

// WebhookDelivery guards against applying the same provider event twice.
type WebhookDelivery struct {
	IdempotencyKey string
	Provider       string
	EventType      string
	ExternalJobID  string
	Processed      bool
	RetryCount     int
	RawPayload     []byte
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ProcessedAt    *time.Time
}
