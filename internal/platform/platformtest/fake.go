// Package platformtest provides an in-memory platform for tests.
package platformtest

import (
	"context"
	"sync"

	"github.com/spec-kit/support-bridge/internal/platform"
)

// Call records one platform invocation.
type Call struct {
	Method    string
	ChatID    int64
	ThreadID  int64
	MessageID int64
	Text      string
	Title     string
	CopyFrom  *platform.MessageRef
	ReplyToID int64
	Caption   bool
}

// Hook can replace the outcome of a call. n is the 1-based count of calls to that method.
type Hook func(ctx context.Context, n int, call Call) error

// Fake implements platform.Platform and every extension interface.
type Fake struct {
	mu        sync.Mutex
	calls     []Call
	counts    map[string]int
	hooks     map[string]Hook
	nextTopic int64
	nextMsg   int64
	inFlight  int
	maxFlight int
}

var (
	_ platform.Platform       = (*Fake)(nil)
	_ platform.TopicReopener  = (*Fake)(nil)
	_ platform.TopicEditor    = (*Fake)(nil)
	_ platform.MessageDeleter = (*Fake)(nil)
)

// NewFake returns a fake whose topic ids start at 100 and message ids at 1000.
func NewFake() *Fake {
	return &Fake{
		counts:    make(map[string]int),
		hooks:     make(map[string]Hook),
		nextTopic: 100,
		nextMsg:   1000,
	}
}

// On installs a hook for method ("CreateTopic", "SendMessage", ...).
func (f *Fake) On(method string, hook Hook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[method] = hook
}

// Calls returns a copy of every recorded call, optionally filtered by method.
func (f *Fake) Calls(methods ...string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, 0, len(f.calls))
	for _, c := range f.calls {
		if len(methods) == 0 || contains(methods, c.Method) {
			out = append(out, c)
		}
	}
	return out
}

// MaxConcurrent is the highest number of calls observed in flight at once.
func (f *Fake) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxFlight
}

func (f *Fake) CreateTopic(ctx context.Context, groupID int64, title string) (int64, error) {
	if err := f.invoke(ctx, Call{Method: "CreateTopic", ChatID: groupID, Title: title}); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTopic++
	return f.nextTopic, nil
}

func (f *Fake) SendMessage(ctx context.Context, msg platform.OutboundMessage) (int64, error) {
	call := Call{
		Method:    "SendMessage",
		ChatID:    msg.ChatID,
		ThreadID:  msg.ThreadID,
		Text:      msg.Text,
		CopyFrom:  msg.CopyFrom,
		ReplyToID: msg.ReplyToID,
	}
	if err := f.invoke(ctx, call); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsg++
	return f.nextMsg, nil
}

func (f *Fake) EditMessage(ctx context.Context, edit platform.MessageEdit) error {
	return f.invoke(ctx, Call{Method: "EditMessage", ChatID: edit.ChatID, MessageID: edit.MessageID, Text: edit.Text, Caption: edit.Caption})
}

func (f *Fake) CloseTopic(ctx context.Context, groupID, topicID int64) error {
	return f.invoke(ctx, Call{Method: "CloseTopic", ChatID: groupID, ThreadID: topicID})
}

func (f *Fake) ReopenTopic(ctx context.Context, groupID, topicID int64) error {
	return f.invoke(ctx, Call{Method: "ReopenTopic", ChatID: groupID, ThreadID: topicID})
}

func (f *Fake) EditTopic(ctx context.Context, groupID, topicID int64, title string) error {
	return f.invoke(ctx, Call{Method: "EditTopic", ChatID: groupID, ThreadID: topicID, Title: title})
}

func (f *Fake) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return f.invoke(ctx, Call{Method: "DeleteMessage", ChatID: chatID, MessageID: messageID})
}

// invoke runs the hook and records the call only when it succeeds.
func (f *Fake) invoke(ctx context.Context, call Call) error {
	f.mu.Lock()
	f.counts[call.Method]++
	n := f.counts[call.Method]
	hook := f.hooks[call.Method]
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	f.mu.Unlock()

	var err error
	if hook != nil {
		err = hook(ctx, n, call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if err != nil {
		return err
	}
	f.calls = append(f.calls, call)
	return nil
}

// Core hides the extension interfaces of a platform.
type Core struct {
	platform.Platform
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
