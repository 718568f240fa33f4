package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew          TicketStatus = "NEW"
	TicketStatusOpen         TicketStatus = "OPEN"
	TicketStatusAssigned     TicketStatus = "ASSIGNED"
	TicketStatusWaitingStaff TicketStatus = "WAITING_STAFF"
	TicketStatusWaitingUser  TicketStatus = "WAITING_USER"
	TicketStatusClosed       TicketStatus = "CLOSED"
	TicketStatusReopened     TicketStatus = "REOPENED"
)

// AllTicketStatuses lists every status in declaration order.
var AllTicketStatuses = []TicketStatus{
	TicketStatusNew,
	TicketStatusOpen,
	TicketStatusAssigned,
	TicketStatusWaitingStaff,
	TicketStatusWaitingUser,
	TicketStatusClosed,
	TicketStatusReopened,
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	for _, known := range AllTicketStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Active reports whether the ticket still counts as the user's open conversation.
func (s TicketStatus) Active() bool {
	return s != TicketStatusClosed
}

// Ticket is one tracked support conversation between a user and staff.
type Ticket struct {
	ID           string
	UserID       int64
	UserName     string
	Username     string
	Category     string
	GroupID      int64
	TopicID      *int64
	Status       TicketStatus
	Assignee     *int64
	AssigneeName string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time
}

// HasTopic reports whether the staff-side thread exists.
func (t *Ticket) HasTopic() bool {
	return t != nil && t.TopicID != nil && *t.TopicID != 0
}

// Clone returns a deep copy so callers can mutate without aliasing cached values.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	if t.TopicID != nil {
		v := *t.TopicID
		cp.TopicID = &v
	}
	if t.Assignee != nil {
		v := *t.Assignee
		cp.Assignee = &v
	}
	if t.ClosedAt != nil {
		v := *t.ClosedAt
		cp.ClosedAt = &v
	}
	return &cp
}
