package domain

import "context"

// JobRepository persists job records. The conditional mutators return false
// when the row was already terminal (or otherwise not eligible), which callers
// treat as "already handled".
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id string) (*Job, error)
	GetByExternalID(ctx context.Context, externalID string) (*Job, error)
	SetSubmitted(ctx context.Context, id, externalID string) error
	MarkProcessing(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string, params CompleteParams) (bool, error)
	Fail(ctx context.Context, id string, status JobStatus, message string) (bool, error)
	ListStale(ctx context.Context, q StaleQuery) ([]Job, error)
}

// CreditRepository is the append-only credit ledger plus the cached balance.
type CreditRepository interface {
	Balance(ctx context.Context, ownerID string) (*CreditBalance, error)
	Charge(ctx context.Context, ownerID string, amount int, jobID, reason string) (string, error)
	// Refund credits back the charge of job. It returns the refunded amount,
	// or 0 when the job was already refunded or nothing was charged.
	Refund(ctx context.Context, job *Job, reason string) (int, error)
	Replay(ctx context.Context, ownerID string) ([]LedgerDrift, error)
	RewriteCached(ctx context.Context, ownerID string, creditsUsed int) error
}

// WebhookDeliveryRepository stores webhook idempotency records.
type WebhookDeliveryRepository interface {
	// Record creates the delivery on first receipt or returns the stored one.
	Record(ctx context.Context, d *WebhookDelivery) (*WebhookDelivery, error)
	MarkProcessed(ctx context.Context, key string) error
	MarkFailed(ctx context.Context, key, message string) error
}

// Store groups the repositories so they can share one transaction.
type Store interface {
	Jobs() JobRepository
	Credits() CreditRepository
	Deliveries() WebhookDeliveryRepository
	InTx(ctx context.Context, fn func(tx Store) error) error
}
