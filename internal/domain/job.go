package domain

import "time"

// JobKind enumerates the externally executed job categories.
type JobKind string

const (
	JobKindGeneration JobKind = "generation"
	JobKindTraining   JobKind = "training"
	JobKindUpscale    JobKind = "upscale"
)

// JobKinds lists every kind in sweep order.
var JobKinds = []JobKind{JobKindGeneration, JobKindTraining, JobKindUpscale}

// Valid reports whether k is a known kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindGeneration, JobKindTraining, JobKindUpscale:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusDraft      JobStatus = "DRAFT"
	JobStatusPending    JobStatus = "PENDING"
	JobStatusUploading  JobStatus = "UPLOADING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are permitted from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is the durable record of one externally executed unit of work.
type Job struct {
	ID                 string
	Kind               JobKind
	OwnerID            string
	ExternalJobID      string
	Status             JobStatus
	ResultURLs         []string
	ThumbnailURLs      []string
	ErrorMessage       string
	StorageError       string
	EphemeralExpiresAt *time.Time
	ProcessingSeconds  float64
	CreditsCharged     int
	Input              []byte
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
}

// CompleteParams carries the result fields written on a successful transition.
type CompleteParams struct {
	ResultURLs         []string
	ThumbnailURLs      []string
	StorageError       string
	EphemeralExpiresAt *time.Time
	ProcessingSeconds  float64
}

// StaleQuery selects in-flight jobs for the polling sweep.
type StaleQuery struct {
	Kind   JobKind
	MinAge time.Duration
	MaxAge time.Duration
	Limit  int
}
