// Package outbox queues notification intents durably and delivers them
// asynchronously, so webhook delivery never blocks a state transition.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/davigut/pactum/internal/notify"
)

var (
	// ErrEntryNotFound indicates the outbox entry does not exist
	ErrEntryNotFound = errors.New("outbox entry not found")
)

// Entry status values
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Entry is one queued notification.
type Entry struct {
	ID          string                 `json:"id"`
	Email       string                 `json:"email"`
	EventType   notify.EventType       `json:"eventType"`
	Data        map[string]interface{} `json:"data"`
	Status      string                 `json:"status"`
	Attempts    int                    `json:"attempts"`
	NextAttempt time.Time              `json:"nextAttempt"`
	LastError   string                 `json:"lastError,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	DeliveredAt *time.Time             `json:"deliveredAt,omitempty"`
}

// Store persists outbox entries.
type Store interface {
	Enqueue(ctx context.Context, e *Entry) error

	// Due returns pending entries whose next attempt time has passed,
	// oldest first, up to limit.
	Due(ctx context.Context, now time.Time, limit int) ([]*Entry, error)

	MarkDelivered(ctx context.Context, id string, at time.Time) error

	// Reschedule records a failed attempt and the time of the next one.
	Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastError string) error

	// MarkFailed parks an entry permanently after the retry budget is spent.
	MarkFailed(ctx context.Context, id string, attempts int, lastError string) error
}
