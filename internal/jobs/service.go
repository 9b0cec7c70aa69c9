// Package jobs submits and cancels provider jobs on behalf of users.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/providers/replicate"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/reconcile"
)

// Provider is the part of the provider client the service needs.
type Provider interface {
	Submit(ctx context.Context, spec replicate.JobSpec) (string, error)
	Cancel(ctx context.Context, kind domain.JobKind, externalID string) error
}

// Reconciler applies provider observations.
type Reconciler interface {
	Reconcile(ctx context.Context, job *domain.Job, obs reconcile.Observation) (reconcile.Outcome, error)
}

// SubmitRequest is a user's request to start a job.
type SubmitRequest struct {
	OwnerID string         `json:"-" validate:"required"`
	Kind    domain.JobKind `json:"kind" validate:"required,oneof=generation training upscale"`
	Input   map[string]any `json:"input" validate:"required"`
}

// DefaultCosts is the credit price of one unit of each kind. Generations are
// priced per requested output.
var DefaultCosts = map[domain.JobKind]int{
	domain.JobKindGeneration: 1,
	domain.JobKindUpscale:    2,
	domain.JobKindTraining:   20,
}

// MaxOutputs caps num_outputs of a generation.
const MaxOutputs = 8

// Options wires the Service.
type Options struct {
	Store      domain.Store
	Provider   Provider
	Reconciler Reconciler
	WebhookURL string
	Costs      map[domain.JobKind]int
	Logger     *infra.Logger

	// RecordAttempts and RecordBackoff bound the retries of storing the
	// provider id after a successful submission.
	RecordAttempts int
	RecordBackoff  time.Duration
}

// Service creates job records, charges credits and talks to the provider.
type Service struct {
	store      domain.Store
	provider   Provider
	reconciler Reconciler
	webhookURL string
	costs      map[domain.JobKind]int
	validate   *validator.Validate
	logger     *infra.Logger
	attempts   int
	backoff    time.Duration
}

func NewService(opts Options) *Service {
	s := &Service{
		store:      opts.Store,
		provider:   opts.Provider,
		reconciler: opts.Reconciler,
		webhookURL: opts.WebhookURL,
		costs:      opts.Costs,
		validate:   validator.New(),
		logger:     opts.Logger,
		attempts:   opts.RecordAttempts,
		backoff:    opts.RecordBackoff,
	}
	if s.costs == nil {
		s.costs = DefaultCosts
	}
	if s.attempts <= 0 {
		s.attempts = 3
	}
	if s.backoff <= 0 {
		s.backoff = 200 * time.Millisecond
	}
	if s.logger == nil {
		s.logger = infra.NopLogger()
	}
	return s
}

// Cost returns the credits charged for req. An invalid num_outputs counts as
// one output; Submit rejects such requests before charging.
func (s *Service) Cost(req SubmitRequest) int {
	unit := s.costs[req.Kind]
	if req.Kind != domain.JobKindGeneration {
		return unit
	}
	outputs, _ := numOutputs(req.Input)
	return unit * max(outputs, 1)
}

// numOutputs reads num_outputs. ok is false when it is present but not a
// whole number in [1, MaxOutputs].
func numOutputs(input map[string]any) (int, bool) {
	raw, present := input["num_outputs"]
	if !present {
		return 1, true
	}
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	default:
		return 0, false
	}
	if f != math.Trunc(f) || f < 1 || f > MaxOutputs {
		return 0, false
	}
	return int(f), true
}

// Submit charges the owner, records the job and hands it to the provider.
// When the provider refuses the job, the charge is refunded through the
// reconciler and the failed job is returned together with the error.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidJob, err)
	}
	if req.Kind == domain.JobKindGeneration {
		if _, ok := numOutputs(req.Input); !ok {
			return nil, fmt.Errorf("%w: num_outputs must be a whole number between 1 and %d", domain.ErrInvalidJob, MaxOutputs)
		}
	}
	input, err := json.Marshal(req.Input)
	if err != nil {
		return nil, fmt.Errorf("%w: input: %v", domain.ErrInvalidJob, err)
	}
	cost := s.Cost(req)
	if cost <= 0 {
		return nil, fmt.Errorf("%w: no price for %s", domain.ErrInvalidJob, req.Kind)
	}

	job := &domain.Job{
		ID:             uuid.NewString(),
		Kind:           req.Kind,
		OwnerID:        req.OwnerID,
		Status:         domain.JobStatusPending,
		CreditsCharged: cost,
		Input:          input,
	}
	err = s.store.InTx(ctx, func(tx domain.Store) error {
		if err := tx.Jobs().Create(ctx, job); err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		if _, err := tx.Credits().Charge(ctx, job.OwnerID, cost, job.ID, fmt.Sprintf("%s job %s", job.Kind, job.ID)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := s.logger.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Str("owner_id", job.OwnerID).Logger()
	externalID, err := s.provider.Submit(ctx, replicate.JobSpec{Kind: job.Kind, Input: req.Input, WebhookURL: s.webhookURL})
	if err != nil {
		log.Error().Err(err).Msg("provider submission failed")
		obs := reconcile.Observation{Status: replicate.StatusFailed, Error: "submission failed: " + err.Error()}
		if _, recErr := s.reconciler.Reconcile(ctx, job, obs); recErr != nil {
			log.Error().Err(recErr).Msg("refund after failed submission")
			return nil, errors.Join(err, recErr)
		}
		failed, getErr := s.store.Jobs().GetByID(ctx, job.ID)
		if getErr != nil {
			return nil, err
		}
		return failed, err
	}

	if err := s.recordSubmitted(ctx, job.ID, externalID); err != nil {
		log.Error().Err(err).Str("external_id", externalID).Msg("record external id")
		return s.abandon(ctx, job, externalID, fmt.Errorf("record external id: %w", err))
	}
	log.Info().Str("external_id", externalID).Int("credits", cost).Msg("job submitted")
	return s.store.Jobs().GetByID(ctx, job.ID)
}

func (s *Service) recordSubmitted(ctx context.Context, jobID, externalID string) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err = s.store.Jobs().SetSubmitted(ctx, jobID, externalID); err == nil {
			return nil
		}
		if attempt == s.attempts {
			break
		}
		t := time.NewTimer(s.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return err
}

// abandon handles a job the provider accepted but whose id could not be
// stored: neither the webhook nor the sweep can find such a job, so it is
// cancelled at the provider and failed locally with a refund.
func (s *Service) abandon(ctx context.Context, job *domain.Job, externalID string, cause error) (*domain.Job, error) {
	log := s.logger.With().Str("job_id", job.ID).Str("external_id", externalID).Logger()
	if err := s.provider.Cancel(ctx, job.Kind, externalID); err != nil {
		log.Warn().Err(err).Msg("cancel of unrecorded job failed")
	}
	obs := reconcile.Observation{Status: replicate.StatusFailed, Error: "submission not recorded: " + cause.Error()}
	if _, err := s.reconciler.Reconcile(ctx, job, obs); err != nil {
		log.Error().Err(err).Msg("refund of unrecorded job failed")
		return nil, errors.Join(cause, err)
	}
	failed, err := s.store.Jobs().GetByID(ctx, job.ID)
	if err != nil {
		return nil, cause
	}
	return failed, cause
}

// Get returns one of the owner's jobs.
func (s *Service) Get(ctx context.Context, ownerID, jobID string) (*domain.Job, error) {
	job, err := s.store.Jobs().GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// Cancel signals the provider. The job record changes only when the
// provider later reports the cancellation.
func (s *Service) Cancel(ctx context.Context, ownerID, jobID string) (*domain.Job, error) {
	job, err := s.Get(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}
	if job.ExternalJobID == "" {
		return nil, fmt.Errorf("%w: job was not submitted", domain.ErrInvalidJob)
	}
	if err := s.provider.Cancel(ctx, job.Kind, job.ExternalJobID); err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	s.logger.Info().Str("job_id", job.ID).Str("external_id", job.ExternalJobID).Msg("cancel requested")
	return job, nil
}
