package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/spec-kit/support-bridge/internal/domain"
	"github.com/spec-kit/support-bridge/internal/platform"
)

var (
	// ErrMirrorNotFound means an edit or delete has no recorded mirror to act on.
	ErrMirrorNotFound = errors.New("worker: mirror not found")
	// ErrTopicUnavailable means the ticket has no staff topic to deliver into.
	ErrTopicUnavailable = errors.New("worker: topic unavailable")
)

// ActionKind enumerates outbound operations.
type ActionKind string

const (
	ActionCreateTopic   ActionKind = "create_topic"
	ActionSendMessage   ActionKind = "send_message"
	ActionEditMessage   ActionKind = "edit_message"
	ActionDeleteMessage ActionKind = "delete_message"
	ActionCloseTopic    ActionKind = "close_topic"
	ActionReopenTopic   ActionKind = "reopen_topic"
	ActionEditTopic     ActionKind = "edit_topic"
)

// Direction says which way an action moves content.
type Direction string

const (
	DirectionToStaff Direction = "to_staff"
	DirectionToUser  Direction = "to_user"
)

// DirectionFrom maps an origin side to the direction its mirror travels.
func DirectionFrom(origin domain.Side) Direction {
	if origin == domain.SideStaff {
		return DirectionToUser
	}
	return DirectionToStaff
}

// Key renders the idempotency key ticket:direction:kind:sequence.
func Key(ticketID string, dir Direction, kind ActionKind, sequence any) string {
	return fmt.Sprintf("%s:%s:%s:%v", ticketID, dir, kind, sequence)
}

// Target addresses the platform object an action operates on.
type Target struct {
	ChatID    int64
	ThreadID  int64
	MessageID int64
}

// Origin identifies the message a send mirrors, so the result can be recorded.
type Origin struct {
	Side      domain.Side
	ChatID    int64
	MessageID int64
}

// Resolver completes an action right before it runs, inside its lane.
// Returning ErrMirrorNotFound or ErrTopicUnavailable fails the action without retry.
type Resolver func(ctx context.Context, a *Action) error

// Action is one unit of outbound work.
type Action struct {
	Key       string
	Lane      string
	Kind      ActionKind
	TicketID  string
	UserID    int64
	Direction Direction

	Target    Target
	Origin    *Origin
	Text      string
	Caption   bool
	Title     string
	CopyFrom  *platform.MessageRef
	ReplyToID int64

	Resolve Resolver
}

// LaneKey returns the lane an action runs in.
func (a Action) LaneKey() string {
	if a.Lane != "" {
		return a.Lane
	}
	if a.TicketID != "" {
		return a.TicketID
	}
	return fmt.Sprintf("user:%d", a.UserID)
}

// Result is the final outcome of an action after retries.
type Result struct {
	Action    Action
	TopicID   int64
	MessageID int64
	Attempts  int
	Err       error
}

// OK reports success.
func (r Result) OK() bool {
	return r.Err == nil
}

// ResultHandler receives every final outcome. It runs inside the action's lane,
// so the next action of the lane starts only after it returns.
type ResultHandler interface {
	OnActionResult(ctx context.Context, res Result)
}

// ResultHandlerFunc adapts a function to ResultHandler.
type ResultHandlerFunc func(ctx context.Context, res Result)

func (f ResultHandlerFunc) OnActionResult(ctx context.Context, res Result) {
	f(ctx, res)
}

// Enqueuer is what producers of actions depend on.
type Enqueuer interface {
	Enqueue(actions ...Action) int
}
