// Package memory is an in-process domain.Store used by tests and local runs
// without PostgreSQL. Conditional updates follow the same rules as the SQL
// statements so both stores reach the same outcomes.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
)

type state struct {
	jobs       map[string]domain.Job
	users      map[string]domain.CreditBalance
	ledger     []domain.CreditTransaction
	deliveries map[string]domain.WebhookDelivery
}

func (s *state) clone() *state {
	c := &state{
		jobs:       make(map[string]domain.Job, len(s.jobs)),
		users:      make(map[string]domain.CreditBalance, len(s.users)),
		ledger:     append([]domain.CreditTransaction(nil), s.ledger...),
		deliveries: make(map[string]domain.WebhookDelivery, len(s.deliveries)),
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.deliveries {
		c.deliveries[k] = v
	}
	return c
}

type shared struct {
	mu   sync.Mutex
	txMu sync.Mutex
	data *state
	now  func() time.Time
}

// Store implements domain.Store in memory.
type Store struct {
	sh   *shared
	inTx bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{sh: &shared{
		data: &state{
			jobs:       map[string]domain.Job{},
			users:      map[string]domain.CreditBalance{},
			deliveries: map[string]domain.WebhookDelivery{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.sh.mu.Lock()
	s.sh.now = now
	s.sh.mu.Unlock()
}

// AddUser seeds an owner with a credit allowance.
func (s *Store) AddUser(ownerID string, creditsLimit int) {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	s.sh.data.users[ownerID] = domain.CreditBalance{OwnerID: ownerID, CreditsLimit: creditsLimit}
}

// Ledger returns the transactions recorded for ownerID in insertion order.
func (s *Store) Ledger(ownerID string) []domain.CreditTransaction {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	var out []domain.CreditTransaction
	for _, t := range s.sh.data.ledger {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out
}

// Touch overrides a job's timestamps, for sweep tests.
func (s *Store) Touch(id string, createdAt, updatedAt time.Time) {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	if j, ok := s.sh.data.jobs[id]; ok {
		j.CreatedAt, j.UpdatedAt = createdAt, updatedAt
		s.sh.data.jobs[id] = j
	}
}

func (s *Store) Jobs() domain.JobRepository                   { return jobRepo{sh: s.sh} }
func (s *Store) Credits() domain.CreditRepository             { return creditRepo{sh: s.sh} }
func (s *Store) Deliveries() domain.WebhookDeliveryRepository { return deliveryRepo{sh: s.sh} }

// InTx serializes transactions and restores the previous state when fn fails.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Store) error) error {
	if !s.inTx {
		s.sh.txMu.Lock()
		defer s.sh.txMu.Unlock()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.sh.mu.Lock()
	snapshot := s.sh.data.clone()
	s.sh.mu.Unlock()

	if err := fn(&Store{sh: s.sh, inTx: true}); err != nil {
		s.sh.mu.Lock()
		s.sh.data = snapshot
		s.sh.mu.Unlock()
		return err
	}
	return nil
}

type jobRepo struct{ sh *shared }

func (r jobRepo) Create(_ context.Context, job *domain.Job) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	if _, exists := r.sh.data.jobs[job.ID]; exists {
		return domain.ErrDuplicateOperation
	}
	now := r.sh.now()
	job.CreatedAt, job.UpdatedAt = now, now
	r.sh.data.jobs[job.ID] = copyJob(*job)
	return nil
}

func (r jobRepo) GetByID(_ context.Context, id string) (*domain.Job, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	j, ok := r.sh.data.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := copyJob(j)
	return &out, nil
}

func (r jobRepo) GetByExternalID(_ context.Context, externalID string) (*domain.Job, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	for _, j := range r.sh.data.jobs {
		if externalID != "" && j.ExternalJobID == externalID {
			out := copyJob(j)
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r jobRepo) SetSubmitted(_ context.Context, id, externalID string) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	j, ok := r.sh.data.jobs[id]
	if !ok || !preProcessing(j.Status) {
		return domain.ErrNotFound
	}
	j.ExternalJobID = externalID
	j.Status = domain.JobStatusProcessing
	j.UpdatedAt = r.sh.now()
	r.sh.data.jobs[id] = j
	return nil
}

func (r jobRepo) MarkProcessing(_ context.Context, id string) (bool, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	j, ok := r.sh.data.jobs[id]
	if !ok || !preProcessing(j.Status) {
		return false, nil
	}
	j.Status = domain.JobStatusProcessing
	j.UpdatedAt = r.sh.now()
	r.sh.data.jobs[id] = j
	return true, nil
}

func (r jobRepo) Complete(_ context.Context, id string, p domain.CompleteParams) (bool, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	j, ok := r.sh.data.jobs[id]
	if !ok || j.Status.Terminal() {
		return false, nil
	}
	now := r.sh.now()
	j.Status = domain.JobStatusCompleted
	j.ResultURLs = append([]string{}, p.ResultURLs...)
	j.ThumbnailURLs = append([]string{}, p.ThumbnailURLs...)
	j.StorageError = p.StorageError
	j.EphemeralExpiresAt = p.EphemeralExpiresAt
	j.ProcessingSeconds = p.ProcessingSeconds
	j.ErrorMessage = ""
	j.CompletedAt = &now
	j.UpdatedAt = now
	r.sh.data.jobs[id] = j
	return true, nil
}

func (r jobRepo) Fail(_ context.Context, id string, status domain.JobStatus, message string) (bool, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	j, ok := r.sh.data.jobs[id]
	if !ok || j.Status.Terminal() {
		return false, nil
	}
	now := r.sh.now()
	j.Status = status
	j.ErrorMessage = message
	j.CompletedAt = &now
	j.UpdatedAt = now
	r.sh.data.jobs[id] = j
	return true, nil
}

func (r jobRepo) ListStale(_ context.Context, q domain.StaleQuery) ([]domain.Job, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	now := r.sh.now()
	updatedBefore := now.Add(-q.MinAge)
	createdAfter := now.Add(-q.MaxAge)

	var out []domain.Job
	for _, j := range r.sh.data.jobs {
		if j.Kind != q.Kind || j.Status != domain.JobStatusProcessing || j.ExternalJobID == "" {
			continue
		}
		if j.UpdatedAt.After(updatedBefore) || j.CreatedAt.Before(createdAfter) {
			continue
		}
		out = append(out, copyJob(j))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

type creditRepo struct{ sh *shared }

func (r creditRepo) Balance(_ context.Context, ownerID string) (*domain.CreditBalance, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	b, ok := r.sh.data.users[ownerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (r creditRepo) Charge(_ context.Context, ownerID string, amount int, jobID, reason string) (string, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	if amount <= 0 {
		return "", domain.ErrInvalidJob
	}
	b, ok := r.sh.data.users[ownerID]
	if !ok || b.Available() < amount {
		return "", domain.ErrInsufficientCredits
	}
	b.CreditsUsed += amount
	r.sh.data.users[ownerID] = b
	id := uuid.NewString()
	r.sh.data.ledger = append(r.sh.data.ledger, domain.CreditTransaction{
		ID:           id,
		OwnerID:      ownerID,
		Kind:         domain.CreditKindCharge,
		CreditsUsed:  amount,
		RelatedJobID: jobID,
		Reason:       reason,
		CreatedAt:    r.sh.now(),
	})
	return id, nil
}

func (r creditRepo) Refund(_ context.Context, job *domain.Job, reason string) (int, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	amount := job.CreditsCharged
	for i := len(r.sh.data.ledger) - 1; i >= 0; i-- {
		t := r.sh.data.ledger[i]
		if t.RelatedJobID != job.ID {
			continue
		}
		if t.Kind == domain.CreditKindRefund {
			return 0, nil
		}
		if amount <= 0 && t.Kind == domain.CreditKindCharge && t.CreditsUsed > 0 {
			amount = t.CreditsUsed
		}
	}
	if amount <= 0 {
		return 0, nil
	}
	b, ok := r.sh.data.users[job.OwnerID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	b.CreditsUsed -= amount
	r.sh.data.users[job.OwnerID] = b
	r.sh.data.ledger = append(r.sh.data.ledger, domain.CreditTransaction{
		ID:           uuid.NewString(),
		OwnerID:      job.OwnerID,
		Kind:         domain.CreditKindRefund,
		CreditsUsed:  -amount,
		RelatedJobID: job.ID,
		Reason:       reason,
		CreatedAt:    r.sh.now(),
	})
	return amount, nil
}

func (r creditRepo) Replay(_ context.Context, ownerID string) ([]domain.LedgerDrift, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	sums := map[string]int{}
	for _, t := range r.sh.data.ledger {
		sums[t.OwnerID] += t.CreditsUsed
	}
	var out []domain.LedgerDrift
	for id, b := range r.sh.data.users {
		if ownerID != "" && id != ownerID {
			continue
		}
		if b.CreditsUsed != sums[id] {
			out = append(out, domain.LedgerDrift{OwnerID: id, Cached: b.CreditsUsed, Replayed: sums[id]})
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].OwnerID < out[b].OwnerID })
	return out, nil
}

func (r creditRepo) RewriteCached(_ context.Context, ownerID string, creditsUsed int) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	b, ok := r.sh.data.users[ownerID]
	if !ok {
		return domain.ErrNotFound
	}
	b.CreditsUsed = creditsUsed
	r.sh.data.users[ownerID] = b
	return nil
}

type deliveryRepo struct{ sh *shared }

func (r deliveryRepo) Record(_ context.Context, d *domain.WebhookDelivery) (*domain.WebhookDelivery, error) {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	now := r.sh.now()
	if existing, ok := r.sh.data.deliveries[d.IdempotencyKey]; ok {
		existing.UpdatedAt = now
		r.sh.data.deliveries[d.IdempotencyKey] = existing
		return &existing, nil
	}
	rec := *d
	rec.Processed = false
	rec.RetryCount = 0
	rec.CreatedAt, rec.UpdatedAt = now, now
	r.sh.data.deliveries[d.IdempotencyKey] = rec
	return &rec, nil
}

func (r deliveryRepo) MarkProcessed(_ context.Context, key string) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	d, ok := r.sh.data.deliveries[key]
	if !ok {
		return nil
	}
	now := r.sh.now()
	d.Processed = true
	d.ProcessedAt = &now
	d.LastError = ""
	d.UpdatedAt = now
	r.sh.data.deliveries[key] = d
	return nil
}

func (r deliveryRepo) MarkFailed(_ context.Context, key, message string) error {
	r.sh.mu.Lock()
	defer r.sh.mu.Unlock()
	d, ok := r.sh.data.deliveries[key]
	if !ok || d.Processed {
		return nil
	}
	d.RetryCount++
	d.LastError = message
	d.UpdatedAt = r.sh.now()
	r.sh.data.deliveries[key] = d
	return nil
}

func preProcessing(s domain.JobStatus) bool {
	switch s {
	case domain.JobStatusDraft, domain.JobStatusPending, domain.JobStatusUploading:
		return true
	}
	return false
}

func copyJob(j domain.Job) domain.Job {
	j.ResultURLs = append([]string(nil), j.ResultURLs...)
	j.ThumbnailURLs = append([]string(nil), j.ThumbnailURLs...)
	j.Input = append([]byte(nil), j.Input...)
	return j
}

var _ domain.Store = (*Store)(nil)
