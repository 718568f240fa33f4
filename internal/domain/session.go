package domain

import "time"

// SessionState is the cached per-user view of the conversation.
type SessionState struct {
	UserID          int64        `json:"user_id"`
	TicketID        string       `json:"ticket_id,omitempty"`
	Status          TicketStatus `json:"status,omitempty"`
	PendingCategory string       `json:"pending_category,omitempty"`
	TopicPending    bool         `json:"topic_pending,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Track points the session at the ticket and copies its status.
func (s *SessionState) Track(t *Ticket) {
	if t == nil {
		s.TicketID = ""
		s.Status = ""
		return
	}
	s.TicketID = t.ID
	s.Status = t.Status
}

// TopicRef maps a staff topic back to its ticket.
type TopicRef struct {
	GroupID  int64  `json:"group_id"`
	TopicID  int64  `json:"topic_id"`
	TicketID string `json:"ticket_id"`
	UserID   int64  `json:"user_id"`
}

// Trigger is the state-machine input derived from an event.
type Trigger string

const (
	TriggerUserMessage   Trigger = "USER_MESSAGE"
	TriggerStaffMessage  Trigger = "STAFF_MESSAGE"
	TriggerTopicCreated  Trigger = "TOPIC_CREATED"
	TriggerCloseCommand  Trigger = "CLOSE_COMMAND"
	TriggerReopenCommand Trigger = "REOPEN_COMMAND"
)
