// Package store persists a journal of service lifecycle and health events so
// the shell can show what happened across runs.
package store

import (
	"context"
	"time"
)

// EventType labels one journal entry.
type EventType string

const (
	EventSpawned   EventType = "spawned"
	EventHealthy   EventType = "healthy"
	EventUnhealthy EventType = "unhealthy"
	EventStopped   EventType = "stopped"
	EventCrashed   EventType = "crashed"
)

// Event is one recorded occurrence for a named service.
type Event struct {
	ID         int64     `json:"id"`
	Service    string    `json:"service"`
	Type       EventType `json:"type"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Store is the minimal persistence interface the supervisor records into.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordEvent(ctx context.Context, ev Event) error
	RecentEvents(ctx context.Context, limit int) ([]Event, error)
	Close() error
}
