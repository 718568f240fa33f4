package service

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spec-kit/support-bridge/internal/domain"
)

type transitionKey struct {
	from    domain.TicketStatus
	trigger domain.Trigger
}

// transitions holds every explicit row of the ticket lifecycle. CloseCommand is
// handled separately since it applies to every non-closed status.
var transitions = map[transitionKey]domain.TicketStatus{
	{domain.TicketStatusNew, domain.TriggerTopicCreated}:          domain.TicketStatusOpen,
	{domain.TicketStatusReopened, domain.TriggerTopicCreated}:     domain.TicketStatusOpen,
	{domain.TicketStatusOpen, domain.TriggerStaffMessage}:         domain.TicketStatusAssigned,
	{domain.TicketStatusAssigned, domain.TriggerStaffMessage}:     domain.TicketStatusAssigned,
	{domain.TicketStatusAssigned, domain.TriggerUserMessage}:      domain.TicketStatusWaitingStaff,
	{domain.TicketStatusWaitingStaff, domain.TriggerStaffMessage}: domain.TicketStatusWaitingUser,
	{domain.TicketStatusWaitingUser, domain.TriggerUserMessage}:   domain.TicketStatusWaitingStaff,
	{domain.TicketStatusClosed, domain.TriggerUserMessage}:        domain.TicketStatusReopened,
	{domain.TicketStatusClosed, domain.TriggerReopenCommand}:      domain.TicketStatusReopened,
}

// NextStatus returns the status reached from current on trigger. ok is false when
// the pair has no row; the status is then returned unchanged.
func NextStatus(current domain.TicketStatus, trigger domain.Trigger) (domain.TicketStatus, bool) {
	if trigger == domain.TriggerCloseCommand {
		if current.Valid() && current != domain.TicketStatusClosed {
			return domain.TicketStatusClosed, true
		}
		return current, false
	}
	next, ok := transitions[transitionKey{current, trigger}]
	if !ok {
		return current, false
	}
	return next, true
}

const maxTopicTitle = 128

func statusEmoji(status domain.TicketStatus) string {
	switch status {
	case domain.TicketStatusNew, domain.TicketStatusOpen, domain.TicketStatusReopened:
		return "🟢"
	case domain.TicketStatusAssigned, domain.TicketStatusWaitingStaff, domain.TicketStatusWaitingUser:
		return "🟡"
	default:
		return "⚪️"
	}
}

// TopicTitle renders "<emoji> [-] Name (@username)"; the [-] marker stays until someone is assigned.
func TopicTitle(t *domain.Ticket) string {
	parts := []string{statusEmoji(t.Status)}
	if t.Assignee == nil && t.Status != domain.TicketStatusClosed {
		parts = append(parts, "[-]")
	}
	name := strings.TrimSpace(t.UserName)
	if name == "" {
		name = t.Username
	}
	if name == "" {
		name = "#" + strconv.FormatInt(t.UserID, 10)
	}
	parts = append(parts, name)
	if t.Username != "" {
		parts = append(parts, "(@"+t.Username+")")
	}
	return truncateRunes(strings.Join(parts, " "), maxTopicTitle)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
