// Package storage holds the durable object store tiers used to keep
// materialized artifacts.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
)

// ErrObjectNotFound is returned by Get when no tier holds the key.
var ErrObjectNotFound = errors.New("storage: object not found")

// ErrInvalidKey rejects empty keys and keys escaping the store root.
var ErrInvalidKey = errors.New("storage: invalid key")

// ObjectStore is a keyed PUT/GET store. Put overwrites existing objects so
// retries with the same key are idempotent.
type ObjectStore interface {
	Name() string
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Tiered writes to the first tier that accepts the object.
type Tiered struct {
	tiers  []ObjectStore
	logger *infra.Logger
}

// NewTiered builds a fallback chain. Nil tiers are skipped.
func NewTiered(logger *infra.Logger, tiers ...ObjectStore) *Tiered {
	if logger == nil {
		logger = infra.NopLogger()
	}
	t := &Tiered{logger: logger}
	for _, tier := range tiers {
		if tier != nil {
			t.tiers = append(t.tiers, tier)
		}
	}
	return t
}

func (t *Tiered) Name() string { return "tiered" }

func (t *Tiered) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if len(t.tiers) == 0 {
		return "", errors.New("storage: no tiers configured")
	}
	var errs []error
	for _, tier := range t.tiers {
		url, err := tier.Put(ctx, key, data, contentType)
		if err == nil {
			if len(errs) > 0 {
				t.logger.Warn().Str("key", key).Str("tier", tier.Name()).Msg("storage fallback tier used")
			}
			return url, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.logger.Warn().Err(err).Str("key", key).Str("tier", tier.Name()).Msg("storage tier put failed")
		errs = append(errs, fmt.Errorf("%s: %w", tier.Name(), err))
	}
	return "", errors.Join(errs...)
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	for _, tier := range t.tiers {
		data, err := tier.Get(ctx, key)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrObjectNotFound) {
			t.logger.Debug().Err(err).Str("key", key).Str("tier", tier.Name()).Msg("storage tier get failed")
		}
	}
	return nil, ErrObjectNotFound
}
