// Package intake turns raw platform updates into domain updates and drops replays.
package intake

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/spec-kit/support-bridge/internal/domain"
)

// ErrMalformed marks updates that cannot be interpreted at all.
var ErrMalformed = errors.New("intake: malformed update")

// GroupDirectory answers whether a chat is a staff group.
type GroupDirectory interface {
	IsStaffGroup(chatID int64) bool
}

// Normalizer maps telego updates onto domain updates.
type Normalizer struct {
	groups      GroupDirectory
	botUsername string
}

// NewNormalizer builds a normalizer. botUsername, when set, drops commands addressed to other bots.
func NewNormalizer(groups GroupDirectory, botUsername string) *Normalizer {
	return &Normalizer{groups: groups, botUsername: strings.TrimPrefix(strings.ToLower(botUsername), "@")}
}

// Normalize returns the domain update and whether it should reach the bridge.
// Ignored updates return ok=false and a nil error.
func (n *Normalizer) Normalize(u telego.Update) (update domain.Update, ok bool, err error) {
	if u.UpdateID <= 0 {
		return domain.Update{}, false, fmt.Errorf("%w: missing update id", ErrMalformed)
	}
	update.ID = int64(u.UpdateID)

	switch {
	case u.Message != nil:
		update.Event, ok, err = n.fromMessage(u.Message, false)
	case u.BusinessMessage != nil:
		update.Event, ok, err = n.fromMessage(u.BusinessMessage, false)
	case u.EditedMessage != nil:
		update.Event, ok, err = n.fromMessage(u.EditedMessage, true)
	case u.EditedBusinessMessage != nil:
		update.Event, ok, err = n.fromMessage(u.EditedBusinessMessage, true)
	case u.DeletedBusinessMessages != nil:
		update.Event, ok, err = fromDeleted(u.DeletedBusinessMessages)
	case u.CallbackQuery != nil, u.InlineQuery != nil, u.MyChatMember != nil, u.ChatMember != nil,
		u.ChannelPost != nil, u.EditedChannelPost != nil, u.MessageReaction != nil, u.BusinessConnection != nil:
		return update, false, nil
	default:
		return domain.Update{}, false, fmt.Errorf("%w: update %d has no recognised payload", ErrMalformed, u.UpdateID)
	}
	if err != nil || !ok {
		return domain.Update{}, ok, err
	}
	return update, true, nil
}

func (n *Normalizer) fromMessage(m *telego.Message, edited bool) (domain.Event, bool, error) {
	if m.Chat.ID == 0 {
		return nil, false, fmt.Errorf("%w: message %d without chat", ErrMalformed, m.MessageID)
	}
	if m.From == nil {
		if m.Chat.Type == telego.ChatTypePrivate {
			return nil, false, fmt.Errorf("%w: message %d without sender", ErrMalformed, m.MessageID)
		}
		return nil, false, nil
	}
	if m.From.IsBot || isServiceMessage(m) {
		return nil, false, nil
	}

	side, ok := n.side(m)
	if !ok {
		return nil, false, nil
	}

	msg := domain.Message{
		Side:      side,
		ChatID:    m.Chat.ID,
		MessageID: int64(m.MessageID),
		Sender: domain.Sender{
			ID:        m.From.ID,
			FirstName: m.From.FirstName,
			LastName:  m.From.LastName,
			Username:  m.From.Username,
		},
		Text:     m.Text,
		Caption:  m.Caption,
		HasMedia: hasMedia(m),
	}
	if side == domain.SideStaff {
		msg.ThreadID = int64(m.MessageThreadID)
	}
	if reply := m.ReplyToMessage; reply != nil && !isThreadRoot(m, reply) {
		msg.ReplyToID = int64(reply.MessageID)
	}
	if msg.Body() == "" && !msg.HasMedia {
		return nil, false, nil
	}

	if name, args, isCommand := parseCommand(m.Text); isCommand {
		if edited {
			return nil, false, nil
		}
		if at := strings.IndexByte(name, '@'); at >= 0 {
			target := name[at+1:]
			name = name[:at]
			if n.botUsername != "" && target != n.botUsername {
				return nil, false, nil
			}
		}
		return domain.Command{Message: msg, Name: name, Args: args}, true, nil
	}

	if edited {
		return domain.EditedMessage{Message: msg}, true, nil
	}
	return domain.NewMessage{Message: msg}, true, nil
}

func (n *Normalizer) side(m *telego.Message) (domain.Side, bool) {
	if m.Chat.Type == telego.ChatTypePrivate {
		return domain.SideUser, true
	}
	if m.IsTopicMessage && m.MessageThreadID != 0 && n.groups.IsStaffGroup(m.Chat.ID) {
		return domain.SideStaff, true
	}
	return "", false
}

func fromDeleted(d *telego.BusinessMessagesDeleted) (domain.Event, bool, error) {
	if d.Chat.ID == 0 {
		return nil, false, fmt.Errorf("%w: deletion without chat", ErrMalformed)
	}
	if d.Chat.Type != "" && d.Chat.Type != telego.ChatTypePrivate {
		return nil, false, nil
	}
	if len(d.MessageIDs) == 0 {
		return nil, false, nil
	}
	ids := make([]int64, len(d.MessageIDs))
	for i, id := range d.MessageIDs {
		ids[i] = int64(id)
	}
	return domain.DeletedMessage{Side: domain.SideUser, ChatID: d.Chat.ID, MessageIDs: ids}, true, nil
}

// parseCommand splits "/Name@bot args" into a lower-cased name (bot suffix kept) and args.
func parseCommand(text string) (name, args string, ok bool) {
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if head == "" {
		return "", "", false
	}
	if nl := strings.IndexByte(head, '\n'); nl >= 0 {
		rest = head[nl+1:] + " " + rest
		head = head[:nl]
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// isThreadRoot reports replies that only point at the topic's creation message.
func isThreadRoot(m, reply *telego.Message) bool {
	if reply.ForumTopicCreated != nil {
		return true
	}
	return m.IsTopicMessage && reply.MessageID == m.MessageThreadID
}

func isServiceMessage(m *telego.Message) bool {
	return m.ForumTopicCreated != nil ||
		m.ForumTopicEdited != nil ||
		m.ForumTopicClosed != nil ||
		m.ForumTopicReopened != nil ||
		m.GeneralForumTopicHidden != nil ||
		m.GeneralForumTopicUnhidden != nil ||
		len(m.NewChatMembers) > 0 ||
		m.LeftChatMember != nil ||
		m.NewChatTitle != "" ||
		len(m.NewChatPhoto) > 0 ||
		m.DeleteChatPhoto ||
		m.GroupChatCreated ||
		m.SupergroupChatCreated ||
		m.PinnedMessage != nil ||
		m.MigrateToChatID != 0 ||
		m.MigrateFromChatID != 0
}

func hasMedia(m *telego.Message) bool {
	return len(m.Photo) > 0 ||
		m.Document != nil ||
		m.Video != nil ||
		m.Audio != nil ||
		m.Voice != nil ||
		m.Animation != nil ||
		m.Sticker != nil ||
		m.VideoNote != nil ||
		m.Contact != nil ||
		m.Location != nil ||
		m.Venue != nil ||
		m.Dice != nil
}
