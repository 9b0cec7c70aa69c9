package reconcile

import (
	"time"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
)

// FailurePolicy decides what a kind does when materialization fails.
type FailurePolicy string

const (
	// ExposeEphemeral completes the job with the provider URLs, flags the
	// storage error and records when those URLs stop working.
	ExposeEphemeral FailurePolicy = "exposeEphemeral"
	// HardFail fails and refunds the job when artifacts cannot be fetched.
	// Upload failures are left for a later attempt.
	HardFail FailurePolicy = "hardFail"
)

// KindPolicy is the per-kind behaviour of a successful provider result.
type KindPolicy struct {
	Materialize       bool
	OnMaterializeFail FailurePolicy
	EphemeralTTL      time.Duration
}

// DefaultPolicies is the policy table used by the services.
var DefaultPolicies = map[domain.JobKind]KindPolicy{
	domain.JobKindGeneration: {Materialize: true, OnMaterializeFail: ExposeEphemeral, EphemeralTTL: time.Hour},
	domain.JobKindUpscale:    {Materialize: true, OnMaterializeFail: HardFail},
	// Training produces a model reference, not downloadable images.
	domain.JobKindTraining: {Materialize: false},
}
