// Package poller re-queries the provider for jobs whose webhook never
// arrived and feeds the answers to the reconciler.
package poller

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/providers/replicate"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/reconcile"
)

// StatusFetcher reads a job's state from the provider.
type StatusFetcher interface {
	GetStatus(ctx context.Context, kind domain.JobKind, externalID string) (*replicate.Prediction, error)
}

// Reconciler applies provider observations.
type Reconciler interface {
	Reconcile(ctx context.Context, job *domain.Job, obs reconcile.Observation) (reconcile.Outcome, error)
}

// Options configures a Sweeper.
type Options struct {
	Jobs       domain.JobRepository
	Provider   StatusFetcher
	Reconciler Reconciler
	MinAge     time.Duration
	MaxAge     time.Duration
	BatchSize  int
	Budget     time.Duration
	ItemDelay  time.Duration
	Logger     *infra.Logger
}

// KindSummary counts the work done for one job kind.
type KindSummary struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// Summary is the result of one sweep.
type Summary struct {
	Generations KindSummary `json:"generations"`
	Training    KindSummary `json:"training"`
	Upscales    KindSummary `json:"upscales"`
	// Truncated is set when the budget ran out before every candidate was checked.
	Truncated  bool  `json:"truncated"`
	DurationMS int64 `json:"duration_ms"`
}

func (s *Summary) kind(k domain.JobKind) *KindSummary {
	switch k {
	case domain.JobKindTraining:
		return &s.Training
	case domain.JobKindUpscale:
		return &s.Upscales
	default:
		return &s.Generations
	}
}

// Sweeper runs polling cycles. It holds no state between cycles.
type Sweeper struct {
	jobs       domain.JobRepository
	provider   StatusFetcher
	reconciler Reconciler
	minAge     time.Duration
	maxAge     time.Duration
	batch      int
	budget     time.Duration
	itemDelay  time.Duration
	logger     *infra.Logger
}

func NewSweeper(opts Options) *Sweeper {
	s := &Sweeper{
		jobs:       opts.Jobs,
		provider:   opts.Provider,
		reconciler: opts.Reconciler,
		minAge:     opts.MinAge,
		maxAge:     opts.MaxAge,
		batch:      opts.BatchSize,
		budget:     opts.Budget,
		itemDelay:  opts.ItemDelay,
		logger:     opts.Logger,
	}
	if s.minAge <= 0 {
		s.minAge = 2 * time.Minute
	}
	if s.maxAge <= 0 {
		s.maxAge = 24 * time.Hour
	}
	if s.batch <= 0 {
		s.batch = 15
	}
	if s.budget <= 0 {
		s.budget = time.Minute
	}
	if s.logger == nil {
		s.logger = infra.NopLogger()
	}
	return s
}

// Run performs one cycle over every kind. A failing job is counted and
// skipped; the budget stops new items from starting but lets the current
// one finish.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	var summary Summary

	budgetCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	limit := rate.Inf
	if s.itemDelay > 0 {
		limit = rate.Every(s.itemDelay)
	}
	pace := rate.NewLimiter(limit, 1)

	for _, kind := range domain.JobKinds {
		if budgetCtx.Err() != nil {
			summary.Truncated = true
			break
		}
		candidates, err := s.jobs.ListStale(budgetCtx, domain.StaleQuery{Kind: kind, MinAge: s.minAge, MaxAge: s.maxAge, Limit: s.batch})
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			s.logger.Error().Err(err).Str("kind", string(kind)).Msg("list stale jobs")
			summary.kind(kind).Errors++
			continue
		}
		for i := range candidates {
			if err := pace.Wait(budgetCtx); err != nil {
				summary.Truncated = true
				break
			}
			s.check(ctx, &candidates[i], summary.kind(kind))
		}
	}

	summary.DurationMS = time.Since(started).Milliseconds()
	s.logger.Info().
		Interface("generations", summary.Generations).
		Interface("training", summary.Training).
		Interface("upscales", summary.Upscales).
		Bool("truncated", summary.Truncated).
		Int64("duration_ms", summary.DurationMS).
		Msg("poll cycle finished")
	return summary, nil
}

func (s *Sweeper) check(ctx context.Context, job *domain.Job, counts *KindSummary) {
	counts.Checked++
	log := s.logger.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Str("external_id", job.ExternalJobID).Logger()

	pred, err := s.provider.GetStatus(ctx, job.Kind, job.ExternalJobID)
	if err != nil {
		counts.Errors++
		log.Warn().Err(err).Msg("provider status lookup failed")
		return
	}
	out, err := s.reconciler.Reconcile(ctx, job, reconcile.FromPrediction(pred))
	if err != nil {
		counts.Errors++
		if errors.Is(err, domain.ErrJobBusy) {
			log.Debug().Msg("job busy, left for next cycle")
			return
		}
		log.Error().Err(err).Msg("reconcile failed")
		return
	}
	if out.Updated() {
		counts.Updated++
	}
}
