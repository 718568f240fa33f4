package domain

import "time"

// EventActor indicates who caused an audit entry.
type EventActor string

const (
	ActorUser   EventActor = "USER"
	ActorStaff  EventActor = "STAFF"
	ActorSystem EventActor = "SYSTEM"
)

// TicketEventAction captures what happened in an audit entry.
type TicketEventAction string

const (
	ActionTicketCreated  TicketEventAction = "TICKET_CREATED"
	ActionStatusChanged  TicketEventAction = "STATUS_CHANGED"
	ActionAssigned       TicketEventAction = "ASSIGNED"
	ActionTopicCreated   TicketEventAction = "TOPIC_CREATED"
	ActionMirrorMissed   TicketEventAction = "MIRROR_MISSED"
	ActionDeliveryFailed TicketEventAction = "DELIVERY_FAILED"
)

// TicketEvent is an immutable audit trail entry.
type TicketEvent struct {
	ID        string
	TicketID  string
	Actor     EventActor
	ActorID   *int64
	Action    TicketEventAction
	Payload   map[string]any
	CreatedAt time.Time
}
