// Package events feeds domain events into the channel fan-out. The
// backplane never introspects application models: the event source hands
// it fully-formed event and model dictionaries.
package events

import (
	"context"
	"errors"
	"time"
)

// Event kinds emitted by the backplane itself.
const (
	KindCollaboratorOnline  = "collaborator_online"
	KindCollaboratorOffline = "collaborator_offline"
)

// ErrEventNotFound means the event record does not exist. It is terminal:
// the publish worker drops the task instead of retrying.
var ErrEventNotFound = errors.New("event not found")

// Model is the serialized form of the domain model an event references.
// Nil for events without a surviving model (e.g. deletions).
type Model map[string]interface{}

// Event is one domain event record.
type Event struct {
	ID        int64                  `json:"id"`
	Kind      string                 `json:"kind"`
	ProjectID *int64                 `json:"project_id,omitempty"`
	VideoID   *int64                 `json:"video_id,omitempty"`
	ActorID   *int64                 `json:"actor_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Source supplies event records to the publish pipeline.
type Source interface {
	// GetEvent returns the event and its model dictionary.
	// Returns ErrEventNotFound for missing records.
	GetEvent(ctx context.Context, id int64) (*Event, Model, error)
}

// Recorder persists backplane-originated events (presence transitions) and
// schedules their fan-out.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
}

// Scheduler enqueues an event id for fan-out after the publish countdown.
type Scheduler interface {
	Schedule(eventID int64)
}
