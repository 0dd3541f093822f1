package trigger

import (
	"time"

	"github.com/google/uuid"
)

// Event is an external occurrence that may fire actions.
type Event struct {
	ID         string
	Type       string
	Data       map[string]any
	OccurredAt time.Time
}

// NewEvent builds an event with a fresh ID and the current timestamp.
func NewEvent(eventType string, data map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}
