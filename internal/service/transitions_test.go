package service

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/support-bridge/internal/domain"
)

func TestNextStatus_Table(t *testing.T) {
	cases := []struct {
		from    domain.TicketStatus
		trigger domain.Trigger
		want    domain.TicketStatus
	}{
		{domain.TicketStatusNew, domain.TriggerTopicCreated, domain.TicketStatusOpen},
		{domain.TicketStatusReopened, domain.TriggerTopicCreated, domain.TicketStatusOpen},
		{domain.TicketStatusOpen, domain.TriggerStaffMessage, domain.TicketStatusAssigned},
		{domain.TicketStatusAssigned, domain.TriggerStaffMessage, domain.TicketStatusAssigned},
		{domain.TicketStatusAssigned, domain.TriggerUserMessage, domain.TicketStatusWaitingStaff},
		{domain.TicketStatusWaitingStaff, domain.TriggerStaffMessage, domain.TicketStatusWaitingUser},
		{domain.TicketStatusWaitingUser, domain.TriggerUserMessage, domain.TicketStatusWaitingStaff},
		{domain.TicketStatusClosed, domain.TriggerUserMessage, domain.TicketStatusReopened},
		{domain.TicketStatusClosed, domain.TriggerReopenCommand, domain.TicketStatusReopened},
	}
	for _, status := range domain.AllTicketStatuses {
		if status != domain.TicketStatusClosed {
			cases = append(cases, struct {
				from    domain.TicketStatus
				trigger domain.Trigger
				want    domain.TicketStatus
			}{status, domain.TriggerCloseCommand, domain.TicketStatusClosed})
		}
	}

	defined := map[[2]string]bool{}
	for _, tc := range cases {
		got, ok := NextStatus(tc.from, tc.trigger)
		assert.True(t, ok, "%s + %s", tc.from, tc.trigger)
		assert.Equal(t, tc.want, got, "%s + %s", tc.from, tc.trigger)
		defined[[2]string{string(tc.from), string(tc.trigger)}] = true
	}

	triggers := []domain.Trigger{
		domain.TriggerUserMessage,
		domain.TriggerStaffMessage,
		domain.TriggerTopicCreated,
		domain.TriggerCloseCommand,
		domain.TriggerReopenCommand,
	}
	for _, status := range domain.AllTicketStatuses {
		for _, trigger := range triggers {
			if defined[[2]string{string(status), string(trigger)}] {
				continue
			}
			got, ok := NextStatus(status, trigger)
			assert.False(t, ok, "%s + %s", status, trigger)
			assert.Equal(t, status, got, "%s + %s keeps status", status, trigger)
		}
	}
}

func TestNextStatus_UnknownStatus(t *testing.T) {
	got, ok := NextStatus("ARCHIVED", domain.TriggerCloseCommand)
	assert.False(t, ok)
	assert.Equal(t, domain.TicketStatus("ARCHIVED"), got)
}

func TestTopicTitle(t *testing.T) {
	assignee := int64(7)
	cases := []struct {
		name   string
		ticket domain.Ticket
		want   string
	}{
		{"unassigned", domain.Ticket{Status: domain.TicketStatusOpen, UserName: "Ann Lee", Username: "ann"}, "🟢 [-] Ann Lee (@ann)"},
		{"assigned", domain.Ticket{Status: domain.TicketStatusAssigned, UserName: "Ann Lee", Assignee: &assignee}, "🟡 Ann Lee"},
		{"closed", domain.Ticket{Status: domain.TicketStatusClosed, UserName: "Ann", Username: "ann"}, "⚪️ Ann (@ann)"},
		{"username only", domain.Ticket{Status: domain.TicketStatusNew, Username: "ann"}, "🟢 [-] ann (@ann)"},
		{"no names", domain.Ticket{Status: domain.TicketStatusNew, UserID: 42}, "🟢 [-] #42"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, TopicTitle(&tc.ticket))
		})
	}
}

func TestTopicTitle_Truncates(t *testing.T) {
	title := TopicTitle(&domain.Ticket{Status: domain.TicketStatusOpen, UserName: strings.Repeat("ж", 300)})
	assert.Equal(t, maxTopicTitle, utf8.RuneCountInString(title))
	assert.True(t, utf8.ValidString(title))
}
