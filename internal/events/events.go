// Package events fans job state changes out to the owner's connected clients.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeJobProcessing = "job.processing"
	TypeJobCompleted  = "job.completed"
	TypeJobFailed     = "job.failed"
	TypeJobCancelled  = "job.cancelled"
)

// Payload is the job snapshot carried by an event.
type Payload struct {
	JobID              string     `json:"job_id"`
	Kind               string     `json:"kind"`
	Status             string     `json:"status"`
	ResultURLs         []string   `json:"result_urls,omitempty"`
	ThumbnailURLs      []string   `json:"thumbnail_urls,omitempty"`
	Error              string     `json:"error,omitempty"`
	StorageError       string     `json:"storage_error,omitempty"`
	EphemeralExpiresAt *time.Time `json:"ephemeral_expires_at,omitempty"`
	CreditsRefunded    int        `json:"credits_refunded,omitempty"`
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Type    string    `json:"type"`
	OwnerID string    `json:"owner_id"`
	Payload Payload   `json:"payload"`
	At      time.Time `json:"at"`
	Message string    `json:"message,omitempty"`
}

// Publisher is fire-and-forget from the caller's point of view: errors are
// reported so they can be logged, never acted upon.
type Publisher interface {
	Publish(ctx context.Context, ownerID, eventType string, payload Payload) error
}

// Subscriber streams the events of one owner until cancel is called or ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, ownerID string) (<-chan Event, func(), error)
}

// Bus is both ends of the event stream.
type Bus interface {
	Publisher
	Subscriber
}

func channel(ownerID string) string {
	return "events:" + ownerID
}
