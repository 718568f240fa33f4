// Package platform is the outbound side of the bridge: the chat platform
// capabilities the dispatcher consumes, and their Telegram implementation.
package platform

import "context"

// MessageRef points at an existing platform message.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

// OutboundMessage is either a text message or a copy of an existing message.
// When CopyFrom is set, Text is ignored and the copy keeps the original media.
type OutboundMessage struct {
	ChatID    int64
	ThreadID  int64
	Text      string
	CopyFrom  *MessageRef
	ReplyToID int64
}

// MessageEdit replaces the text, or the caption for media messages, of a sent message.
type MessageEdit struct {
	ChatID    int64
	MessageID int64
	Text      string
	Caption   bool
}

// Platform is the set of capabilities every chat platform must offer.
type Platform interface {
	CreateTopic(ctx context.Context, groupID int64, title string) (topicID int64, err error)
	SendMessage(ctx context.Context, msg OutboundMessage) (messageID int64, err error)
	EditMessage(ctx context.Context, edit MessageEdit) error
	CloseTopic(ctx context.Context, groupID, topicID int64) error
}

// TopicReopener is implemented by platforms that can reopen closed topics.
type TopicReopener interface {
	ReopenTopic(ctx context.Context, groupID, topicID int64) error
}

// TopicEditor is implemented by platforms that can rename topics.
type TopicEditor interface {
	EditTopic(ctx context.Context, groupID, topicID int64, title string) error
}

// MessageDeleter is implemented by platforms that can delete sent messages.
type MessageDeleter interface {
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}
