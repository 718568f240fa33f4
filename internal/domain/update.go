package domain

// Sender identifies the platform account behind a message.
type Sender struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
}

// DisplayName renders the sender for humans, falling back to username.
func (s Sender) DisplayName() string {
	name := s.FirstName
	if s.LastName != "" {
		if name != "" {
			name += " "
		}
		name += s.LastName
	}
	if name == "" {
		name = s.Username
	}
	return name
}

// Message is the normalized view of a platform message on either side.
type Message struct {
	Side      Side
	ChatID    int64
	ThreadID  int64
	MessageID int64
	Sender    Sender
	Text      string
	Caption   string
	HasMedia  bool
	ReplyToID int64
}

// Body returns the text carried by the message, text first then caption.
func (m Message) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// EventKind names the closed set of event variants.
type EventKind string

const (
	EventKindNewMessage     EventKind = "new_message"
	EventKindEditedMessage  EventKind = "edited_message"
	EventKindDeletedMessage EventKind = "deleted_message"
	EventKindCommand        EventKind = "command"
)

// Event is implemented only by the variants in this file.
type Event interface {
	Kind() EventKind
	Origin() Side
	event()
}

// NewMessage is a freshly posted message.
type NewMessage struct {
	Message Message
}

// EditedMessage carries the new content of a previously posted message.
type EditedMessage struct {
	Message Message
}

// DeletedMessage reports messages removed from a chat.
type DeletedMessage struct {
	Side       Side
	ChatID     int64
	ThreadID   int64
	MessageIDs []int64
}

// Command is a slash command; Name is lower-cased without the leading slash or bot suffix.
type Command struct {
	Message Message
	Name    string
	Args    string
}

func (NewMessage) Kind() EventKind     { return EventKindNewMessage }
func (EditedMessage) Kind() EventKind  { return EventKindEditedMessage }
func (DeletedMessage) Kind() EventKind { return EventKindDeletedMessage }
func (Command) Kind() EventKind        { return EventKindCommand }

func (e NewMessage) Origin() Side     { return e.Message.Side }
func (e EditedMessage) Origin() Side  { return e.Message.Side }
func (e DeletedMessage) Origin() Side { return e.Side }
func (e Command) Origin() Side        { return e.Message.Side }

func (NewMessage) event()     {}
func (EditedMessage) event()  {}
func (DeletedMessage) event() {}
func (Command) event()        {}

// Update is one admitted platform update.
type Update struct {
	ID    int64
	Event Event
}

// UserID returns the end-user identity for user-side updates and zero otherwise.
func (u Update) UserID() int64 {
	if u.Event == nil || u.Event.Origin() != SideUser {
		return 0
	}
	switch ev := u.Event.(type) {
	case NewMessage:
		return ev.Message.ChatID
	case EditedMessage:
		return ev.Message.ChatID
	case Command:
		return ev.Message.ChatID
	case DeletedMessage:
		return ev.ChatID
	}
	return 0
}

// Location returns the chat and thread the update happened in.
func (u Update) Location() (chatID, threadID int64) {
	switch ev := u.Event.(type) {
	case NewMessage:
		return ev.Message.ChatID, ev.Message.ThreadID
	case EditedMessage:
		return ev.Message.ChatID, ev.Message.ThreadID
	case Command:
		return ev.Message.ChatID, ev.Message.ThreadID
	case DeletedMessage:
		return ev.ChatID, ev.ThreadID
	}
	return 0, 0
}
