package repo

import (
	"context"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/sqlinline"
)

// DeliveryRepositoryPG implements domain.WebhookDeliveryRepository.
type DeliveryRepositoryPG struct {
	db infra.SQLExecutor
}

func NewDeliveryRepository(db infra.SQLExecutor) *DeliveryRepositoryPG {
	return &DeliveryRepositoryPG{db: db}
}

// Record inserts the delivery or returns the existing row for the same key.
func (r *DeliveryRepositoryPG) Record(ctx context.Context, d *domain.WebhookDelivery) (*domain.WebhookDelivery, error) {
	row := r.db.QueryRow(ctx, sqlinline.QRecordWebhookDelivery,
		d.IdempotencyKey,
		d.Provider,
		d.EventType,
		d.ExternalJobID,
		d.RawPayload,
	)
	var out domain.WebhookDelivery
	if err := row.Scan(
		&out.IdempotencyKey,
		&out.Provider,
		&out.EventType,
		&out.ExternalJobID,
		&out.Processed,
		&out.RetryCount,
		&out.RawPayload,
		&out.LastError,
		&out.CreatedAt,
		&out.UpdatedAt,
		&out.ProcessedAt,
	); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *DeliveryRepositoryPG) MarkProcessed(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx, sqlinline.QMarkWebhookProcessed, key)
	return err
}

func (r *DeliveryRepositoryPG) MarkFailed(ctx context.Context, key, message string) error {
	_, err := r.db.Exec(ctx, sqlinline.QMarkWebhookFailed, key, message)
	return err
}
