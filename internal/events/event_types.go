package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/support-bridge/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketAssigned      EventType = "ticket_assigned"
	EventTopicCreated        EventType = "topic_created"
	EventMirrorMissed        EventType = "mirror_missed"
	EventDeliveryFailed      EventType = "delivery_failed"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type domain.EventActor `json:"type"`
	ID   *int64            `json:"id,omitempty"`
}

// UserActor is the end user identified by id.
func UserActor(id int64) Actor {
	return Actor{Type: domain.ActorUser, ID: &id}
}

// StaffActor is the staff member identified by id.
func StaffActor(id int64) Actor {
	return Actor{Type: domain.ActorStaff, ID: &id}
}

// SystemActor is the bridge itself.
func SystemActor() Actor {
	return Actor{Type: domain.ActorSystem}
}

// Event represents a domain event emitted by the bridge.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType EventType, ticketID string, actor Actor, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	UserID   int64  `json:"user_id"`
	Category string `json:"category"`
	GroupID  int64  `json:"group_id"`
	Reopened bool   `json:"reopened,omitempty"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Trigger   domain.Trigger      `json:"trigger"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AssigneeID   int64  `json:"assignee_id"`
	AssigneeName string `json:"assignee_name,omitempty"`
}

// TopicCreatedPayload payload.
type TopicCreatedPayload struct {
	GroupID int64  `json:"group_id"`
	TopicID int64  `json:"topic_id"`
	Title   string `json:"title"`
}

// MirrorMissedPayload payload.
type MirrorMissedPayload struct {
	Kind            string      `json:"kind"`
	OriginSide      domain.Side `json:"origin_side"`
	OriginMessageID int64       `json:"origin_message_id"`
}

// DeliveryFailedPayload payload.
type DeliveryFailedPayload struct {
	Key       string `json:"key"`
	Kind      string `json:"kind"`
	Direction string `json:"direction"`
	Attempts  int    `json:"attempts"`
	Permanent bool   `json:"permanent"`
	Error     string `json:"error"`
	GroupID   int64  `json:"group_id,omitempty"`
	TopicID   int64  `json:"topic_id,omitempty"`
}
