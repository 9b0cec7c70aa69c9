package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a job repository backed by PostgreSQL.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// Create inserts a new job record and fills in the database timestamps.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	return r.db.QueryRow(ctx, sqlinline.QInsertJob,
		job.ID,
		string(job.Kind),
		job.OwnerID,
		string(job.Status),
		job.CreditsCharged,
		nullableBytes(job.Input),
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	return scanJob(r.db.QueryRow(ctx, sqlinline.QSelectJobByID, id))
}

// GetByExternalID fetches a job by the provider's job id.
func (r *JobRepositoryPG) GetByExternalID(ctx context.Context, externalID string) (*domain.Job, error) {
	return scanJob(r.db.QueryRow(ctx, sqlinline.QSelectJobByExternalID, externalID))
}

// SetSubmitted records the provider job id and moves the job to PROCESSING.
func (r *JobRepositoryPG) SetSubmitted(ctx context.Context, id, externalID string) error {
	tag, err := r.db.Exec(ctx, sqlinline.QSetJobSubmitted, id, externalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *JobRepositoryPG) MarkProcessing(ctx context.Context, id string) (bool, error) {
	return r.conditional(ctx, sqlinline.QMarkJobProcessing, id)
}

// Complete writes the success fields unless the job is already terminal.
func (r *JobRepositoryPG) Complete(ctx context.Context, id string, p domain.CompleteParams) (bool, error) {
	return r.conditional(ctx, sqlinline.QCompleteJob,
		id,
		nonNil(p.ResultURLs),
		nonNil(p.ThumbnailURLs),
		p.StorageError,
		p.EphemeralExpiresAt,
		p.ProcessingSeconds,
	)
}

// Fail moves the job to FAILED or CANCELLED unless it is already terminal.
func (r *JobRepositoryPG) Fail(ctx context.Context, id string, status domain.JobStatus, message string) (bool, error) {
	return r.conditional(ctx, sqlinline.QFailJob, id, string(status), message)
}

// ListStale returns PROCESSING jobs of one kind inside the sweep window.
func (r *JobRepositoryPG) ListStale(ctx context.Context, q domain.StaleQuery) ([]domain.Job, error) {
	now := time.Now().UTC()
	rows, err := r.db.Query(ctx, sqlinline.QListStaleJobs,
		string(q.Kind),
		now.Add(-q.MinAge),
		now.Add(-q.MaxAge),
		q.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *JobRepositoryPG) conditional(ctx context.Context, query string, args ...any) (bool, error) {
	var id string
	if err := r.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		if infra.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job    domain.Job
		kind   string
		status string
	)
	if err := row.Scan(
		&job.ID,
		&kind,
		&job.OwnerID,
		&job.ExternalJobID,
		&status,
		&job.ResultURLs,
		&job.ThumbnailURLs,
		&job.ErrorMessage,
		&job.StorageError,
		&job.EphemeralExpiresAt,
		&job.ProcessingSeconds,
		&job.CreditsCharged,
		&job.Input,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Kind = domain.JobKind(kind)
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
