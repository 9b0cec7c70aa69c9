// Package reconcile holds the single state-transition routine that both the
// webhook receiver and the polling sweep drive.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/events"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/lock"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/materialize"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/providers/replicate"
)

const (
	msgNoOutput       = "succeeded but no output"
	msgProviderFailed = "provider reported failure"
	msgCanceled       = "canceled by provider"
)

// Observation is one sighting of the provider's job state.
type Observation struct {
	ExternalID string
	Status     string
	Output     json.RawMessage
	Error      string
	Seconds    float64
}

// FromPrediction converts a provider response into an Observation.
func FromPrediction(p *replicate.Prediction) Observation {
	return Observation{
		ExternalID: p.ID,
		Status:     p.Status,
		Output:     p.Output,
		Error:      p.ErrorMessage(),
		Seconds:    p.Metrics.Seconds(),
	}
}

// Action names what a reconciliation did.
type Action string

const (
	ActionNoop       Action = "noop"
	ActionIgnored    Action = "ignored"
	ActionProcessing Action = "processing"
	ActionCompleted  Action = "completed"
	ActionFailed     Action = "failed"
	ActionCancelled  Action = "cancelled"
)

// Outcome reports the effect of one Reconcile call.
type Outcome struct {
	JobID    string
	Action   Action
	Status   domain.JobStatus
	Refunded int
}

// Updated reports whether the job record changed.
func (o Outcome) Updated() bool {
	switch o.Action {
	case ActionProcessing, ActionCompleted, ActionFailed, ActionCancelled:
		return true
	}
	return false
}

// Materializer copies artifacts to durable storage.
type Materializer interface {
	Materialize(ctx context.Context, req materialize.Request) (*materialize.Result, error)
}

// Options wires the Reconciler.
type Options struct {
	Store        domain.Store
	Locker       lock.Locker
	Materializer Materializer
	Publisher    events.Publisher
	Policies     map[domain.JobKind]KindPolicy
	Logger       *infra.Logger
	Now          func() time.Time
}

// Reconciler applies provider observations to job records.
type Reconciler struct {
	store        domain.Store
	locker       lock.Locker
	materializer Materializer
	publisher    events.Publisher
	policies     map[domain.JobKind]KindPolicy
	logger       *infra.Logger
	now          func() time.Time
}

// New validates opts and returns a Reconciler.
func New(opts Options) (*Reconciler, error) {
	if opts.Store == nil {
		return nil, errors.New("reconcile: store is required")
	}
	if opts.Locker == nil {
		return nil, errors.New("reconcile: locker is required")
	}
	r := &Reconciler{
		store:        opts.Store,
		locker:       opts.Locker,
		materializer: opts.Materializer,
		publisher:    opts.Publisher,
		policies:     opts.Policies,
		logger:       opts.Logger,
		now:          opts.Now,
	}
	if r.policies == nil {
		r.policies = DefaultPolicies
	}
	if r.logger == nil {
		r.logger = infra.NopLogger()
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	for kind, p := range r.policies {
		if p.Materialize && r.materializer == nil {
			return nil, fmt.Errorf("reconcile: %s needs a materializer", kind)
		}
	}
	return r, nil
}

// errAlreadyHandled aborts a transaction whose conditional update matched
// no row.
var errAlreadyHandled = errors.New("reconcile: already handled")

// Reconcile drives job towards the observed provider state. It is safe to
// call concurrently for the same job: the job lock serializes callers and a
// terminal job is never touched again. Errors leave the job as it was so
// either observer can retry.
func (r *Reconciler) Reconcile(ctx context.Context, job *domain.Job, obs Observation) (Outcome, error) {
	if job == nil {
		return Outcome{}, domain.ErrInvalidJob
	}
	out := Outcome{JobID: job.ID, Action: ActionNoop, Status: job.Status}
	if job.Status.Terminal() {
		return out, nil
	}

	log := r.logger.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Str("external_id", obs.ExternalID).Logger()
	if obs.ExternalID != "" && job.ExternalJobID != "" && obs.ExternalID != job.ExternalJobID {
		return out, fmt.Errorf("%w: observation for %s does not belong to job", domain.ErrInvalidJob, obs.ExternalID)
	}

	mapped, ok := replicate.MapStatus(obs.Status)
	if !ok {
		log.Warn().Str("provider_status", obs.Status).Msg("unknown provider status ignored")
		out.Action = ActionIgnored
		return out, nil
	}

	release, err := r.locker.Acquire(ctx, job.ID)
	if err != nil {
		return out, err
	}
	defer release()

	current, err := r.store.Jobs().GetByID(ctx, job.ID)
	if err != nil {
		return out, fmt.Errorf("reload job: %w", err)
	}
	out.Status = current.Status
	if current.Status.Terminal() {
		log.Debug().Str("status", string(current.Status)).Msg("job already terminal")
		return out, nil
	}

	switch mapped {
	case domain.JobStatusProcessing:
		return r.processing(ctx, current, out)
	case domain.JobStatusCompleted:
		return r.succeeded(ctx, current, obs, out, log)
	case domain.JobStatusCancelled:
		return r.fail(ctx, current, domain.JobStatusCancelled, firstNonEmpty(obs.Error, msgCanceled), out, log)
	default:
		return r.fail(ctx, current, domain.JobStatusFailed, firstNonEmpty(obs.Error, msgProviderFailed), out, log)
	}
}

func (r *Reconciler) processing(ctx context.Context, job *domain.Job, out Outcome) (Outcome, error) {
	if job.Status == domain.JobStatusProcessing {
		return out, nil
	}
	changed, err := r.store.Jobs().MarkProcessing(ctx, job.ID)
	if err != nil {
		return out, fmt.Errorf("mark processing: %w", err)
	}
	if !changed {
		return out, nil
	}
	out.Action, out.Status = ActionProcessing, domain.JobStatusProcessing
	r.publish(ctx, job, events.TypeJobProcessing, events.Payload{Status: string(out.Status)})
	return out, nil
}

func (r *Reconciler) succeeded(ctx context.Context, job *domain.Job, obs Observation, out Outcome, log infra.Logger) (Outcome, error) {
	urls := replicate.NormalizeOutput(obs.Output)
	if job.Kind == domain.JobKindTraining {
		urls = replicate.NormalizeTrainingOutput(obs.Output)
	}
	if len(urls) == 0 {
		return r.fail(ctx, job, domain.JobStatusFailed, msgNoOutput, out, log)
	}

	params := domain.CompleteParams{ResultURLs: urls, ProcessingSeconds: obs.Seconds}
	policy := r.policies[job.Kind]
	if policy.Materialize {
		res, err := r.materializer.Materialize(ctx, materialize.Request{Kind: job.Kind, JobID: job.ID, OwnerID: job.OwnerID, URLs: urls})
		switch {
		case err == nil:
			params.ResultURLs = res.URLs
			params.ThumbnailURLs = res.ThumbnailURLs
		case policy.OnMaterializeFail == ExposeEphemeral:
			log.Warn().Err(err).Msg("materialization failed, exposing provider urls")
			expires := r.now().Add(policy.EphemeralTTL)
			params.ThumbnailURLs = urls
			params.StorageError = err.Error()
			params.EphemeralExpiresAt = &expires
		case errors.Is(err, materialize.ErrUploadFailed) || ctx.Err() != nil:
			return out, fmt.Errorf("materialize: %w", err)
		default:
			log.Warn().Err(err).Msg("materialization failed, failing job")
			return r.fail(ctx, job, domain.JobStatusFailed, "storage failed: "+err.Error(), out, log)
		}
	}

	changed, err := r.store.Jobs().Complete(ctx, job.ID, params)
	if err != nil {
		return out, fmt.Errorf("complete job: %w", err)
	}
	if !changed {
		return out, nil
	}
	out.Action, out.Status = ActionCompleted, domain.JobStatusCompleted
	log.Info().Int("artifacts", len(params.ResultURLs)).Bool("ephemeral", params.StorageError != "").Msg("job completed")
	r.publish(ctx, job, events.TypeJobCompleted, events.Payload{
		Status:             string(out.Status),
		ResultURLs:         params.ResultURLs,
		ThumbnailURLs:      params.ThumbnailURLs,
		StorageError:       params.StorageError,
		EphemeralExpiresAt: params.EphemeralExpiresAt,
	})
	return out, nil
}

// fail records the terminal status and refunds the charge in one transaction.
func (r *Reconciler) fail(ctx context.Context, job *domain.Job, status domain.JobStatus, message string, out Outcome, log infra.Logger) (Outcome, error) {
	var refunded int
	err := r.store.InTx(ctx, func(tx domain.Store) error {
		changed, err := tx.Jobs().Fail(ctx, job.ID, status, message)
		if err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		if !changed {
			return errAlreadyHandled
		}
		refunded, err = tx.Credits().Refund(ctx, job, fmt.Sprintf("refund %s job %s: %s", job.Kind, job.ID, message))
		if err != nil {
			return fmt.Errorf("refund: %w", err)
		}
		return nil
	})
	if errors.Is(err, errAlreadyHandled) {
		return out, nil
	}
	if err != nil {
		return out, err
	}

	out.Status, out.Refunded = status, refunded
	out.Action = ActionFailed
	eventType := events.TypeJobFailed
	if status == domain.JobStatusCancelled {
		out.Action = ActionCancelled
		eventType = events.TypeJobCancelled
	}
	log.Info().Str("status", string(status)).Int("refunded", refunded).Str("error", message).Msg("job failed")
	r.publish(ctx, job, eventType, events.Payload{Status: string(status), Error: message, CreditsRefunded: refunded})
	return out, nil
}

func (r *Reconciler) publish(ctx context.Context, job *domain.Job, eventType string, payload events.Payload) {
	if r.publisher == nil {
		return
	}
	payload.JobID = job.ID
	payload.Kind = string(job.Kind)
	if err := r.publisher.Publish(ctx, job.OwnerID, eventType, payload); err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Str("event", eventType).Msg("event publish failed")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
