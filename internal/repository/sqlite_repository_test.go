package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-bridge/internal/config"
	"github.com/spec-kit/support-bridge/internal/domain"
	"github.com/spec-kit/support-bridge/internal/persistence"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	db, err := persistence.NewSQLite(context.Background(), config.SQLiteConfig{Path: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return NewSQLiteStore(db.DB)
}

func TestSQLiteStore_TicketLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	first := &domain.Ticket{UserID: 42, UserName: "Ann", Category: "general", GroupID: -100, Status: domain.TicketStatusNew}
	require.NoError(t, store.Tickets.CreateTicket(ctx, first))

	duplicate := &domain.Ticket{UserID: 42, Category: "general", GroupID: -100, Status: domain.TicketStatusNew}
	assert.ErrorIs(t, store.Tickets.CreateTicket(ctx, duplicate), ErrAlreadyExists)

	require.NoError(t, store.Tickets.SetTopic(ctx, first.ID, 555))
	byTopic, err := store.Tickets.LoadTicketByTopic(ctx, -100, 555)
	require.NoError(t, err)
	assert.Equal(t, first.ID, byTopic.ID)

	closedAt := time.Now().UTC()
	first.Status = domain.TicketStatusClosed
	first.ClosedAt = &closedAt
	require.NoError(t, store.Tickets.UpdateStatus(ctx, first))

	latest, err := store.Tickets.LoadTicketByUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, latest.Status)
	require.NotNil(t, latest.ClosedAt)

	second := &domain.Ticket{UserID: 42, Category: "general", GroupID: -100, Status: domain.TicketStatusNew}
	require.NoError(t, store.Tickets.CreateTicket(ctx, second))

	latest, err = store.Tickets.LoadTicketByUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	_, err = store.Tickets.LoadTicketByUser(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Tickets.SetTopic(ctx, "missing", 1), ErrNotFound)
}

func TestSQLiteStore_Mirrors(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	ticket := &domain.Ticket{UserID: 42, Category: "general", GroupID: -100, Status: domain.TicketStatusOpen}
	require.NoError(t, store.Tickets.CreateTicket(ctx, ticket))

	mirror := &domain.MessageMirror{
		TicketID: ticket.ID, OriginSide: domain.SideUser, OriginChatID: 42, OriginMessageID: 10,
		MirrorChatID: -100, MirrorMessageID: 900,
	}
	require.NoError(t, store.Mirrors.RecordMirror(ctx, mirror))

	again := *mirror
	again.MirrorMessageID = 901
	require.NoError(t, store.Mirrors.RecordMirror(ctx, &again))

	found, err := store.Mirrors.LookupMirror(ctx, ticket.ID, domain.SideUser, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(900), found.MirrorMessageID)

	reverse, err := store.Mirrors.LookupMirrorByTarget(ctx, ticket.ID, domain.SideUser, 900)
	require.NoError(t, err)
	assert.Equal(t, int64(10), reverse.OriginMessageID)

	_, err = store.Mirrors.LookupMirror(ctx, ticket.ID, domain.SideStaff, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Events(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	ticket := &domain.Ticket{UserID: 42, Category: "general", GroupID: -100, Status: domain.TicketStatusNew}
	require.NoError(t, store.Tickets.CreateTicket(ctx, ticket))

	require.NoError(t, store.Events.Append(ctx, &domain.TicketEvent{
		TicketID: ticket.ID, Actor: domain.ActorUser, Action: domain.ActionTicketCreated,
		Payload: map[string]any{"category": "general"},
	}))
	require.NoError(t, store.Events.Append(ctx, &domain.TicketEvent{
		TicketID: ticket.ID, Actor: domain.ActorSystem, Action: domain.ActionTopicCreated,
	}))

	events, err := store.Events.ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.ActionTicketCreated, events[0].Action)
	assert.Equal(t, "general", events[0].Payload["category"])
	assert.Nil(t, events[1].ActorID)
}
