package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef identifies the staff member who produced the event.
type ActorRef struct {
	StaffID string `json:"staffId"`
}

// NewActorRef returns nil for an anonymous actor.
func NewActorRef(staffID string) *ActorRef {
	if staffID == "" {
		return nil
	}
	return &ActorRef{StaffID: staffID}
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
