package repo

import (
	"context"
	"fmt"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/sqlinline"
)

// CreditRepositoryPG implements domain.CreditRepository.
type CreditRepositoryPG struct {
	db infra.SQLExecutor
}

// NewCreditRepository creates a ledger repository backed by PostgreSQL.
func NewCreditRepository(db infra.SQLExecutor) *CreditRepositoryPG {
	return &CreditRepositoryPG{db: db}
}

// Balance reads the cached balance from the user record.
func (r *CreditRepositoryPG) Balance(ctx context.Context, ownerID string) (*domain.CreditBalance, error) {
	var b domain.CreditBalance
	if err := r.db.QueryRow(ctx, sqlinline.QSelectCreditBalance, ownerID).Scan(&b.OwnerID, &b.CreditsLimit, &b.CreditsUsed); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// Charge debits amount and appends the CHARGE row.
func (r *CreditRepositoryPG) Charge(ctx context.Context, ownerID string, amount int, jobID, reason string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("charge amount must be positive, got %d", amount)
	}
	var txID string
	if err := r.db.QueryRow(ctx, sqlinline.QChargeCredits, ownerID, amount, jobID, reason).Scan(&txID); err != nil {
		if infra.IsNoRows(err) {
			return "", domain.ErrInsufficientCredits
		}
		return "", err
	}
	return txID, nil
}

// Refund credits back what job was charged. The amount is the one stored on
// the job; older rows without it fall back to the latest positive charge.
func (r *CreditRepositoryPG) Refund(ctx context.Context, job *domain.Job, reason string) (int, error) {
	amount := job.CreditsCharged
	if amount <= 0 {
		err := r.db.QueryRow(ctx, sqlinline.QLatestChargeForJob, job.ID).Scan(&amount)
		if err != nil {
			if infra.IsNoRows(err) {
				return 0, nil
			}
			return 0, err
		}
	}
	if amount <= 0 {
		return 0, nil
	}

	var refunded int
	if err := r.db.QueryRow(ctx, sqlinline.QRefundJob, job.OwnerID, job.ID, amount, reason).Scan(&refunded); err != nil {
		if infra.IsNoRows(err) {
			return 0, nil
		}
		return 0, err
	}
	return refunded, nil
}

// Replay sums the ledger per owner and reports every owner whose cached
// credits_used disagrees. An empty ownerID replays all users.
func (r *CreditRepositoryPG) Replay(ctx context.Context, ownerID string) ([]domain.LedgerDrift, error) {
	rows, err := r.db.Query(ctx, sqlinline.QReplayCredits, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifts []domain.LedgerDrift
	for rows.Next() {
		var d domain.LedgerDrift
		if err := rows.Scan(&d.OwnerID, &d.Cached, &d.Replayed); err != nil {
			return nil, err
		}
		if d.Cached != d.Replayed {
			drifts = append(drifts, d)
		}
	}
	return drifts, rows.Err()
}

func (r *CreditRepositoryPG) RewriteCached(ctx context.Context, ownerID string, creditsUsed int) error {
	tag, err := r.db.Exec(ctx, sqlinline.QRewriteCreditsUsed, ownerID, creditsUsed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
