package repo

import (
	"context"
	"errors"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
)

// Store implements domain.Store on top of the marker-checked SQL runner.
type Store struct {
	db infra.SQLExecutor
	tx infra.TxExecutor
}

// NewStore binds the repositories to runner.
func NewStore(runner infra.TxExecutor) *Store {
	return &Store{db: runner, tx: runner}
}

func (s *Store) Jobs() domain.JobRepository {
	return &JobRepositoryPG{db: s.db}
}

func (s *Store) Credits() domain.CreditRepository {
	return &CreditRepositoryPG{db: s.db}
}

func (s *Store) Deliveries() domain.WebhookDeliveryRepository {
	return &DeliveryRepositoryPG{db: s.db}
}

// InTx runs fn with repositories bound to a single database transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Store) error) error {
	if s.tx == nil {
		return errors.New("store: transactions unavailable")
	}
	return s.tx.InTx(ctx, func(exec infra.SQLExecutor) error {
		scoped := &Store{db: exec}
		if nested, ok := exec.(infra.TxExecutor); ok {
			scoped.tx = nested
		}
		return fn(scoped)
	})
}

var _ domain.Store = (*Store)(nil)
