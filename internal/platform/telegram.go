package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	ta "github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"

	"github.com/spec-kit/support-bridge/internal/config"
)

// AllowedUpdates lists the update types the bridge consumes.
var AllowedUpdates = []string{
	"message",
	"edited_message",
	"business_message",
	"edited_business_message",
	"deleted_business_messages",
}

// TelegramClient implements Platform and every extension over the Bot API.
type TelegramClient struct {
	bot    *telego.Bot
	logger *zap.Logger
}

var (
	_ Platform       = (*TelegramClient)(nil)
	_ TopicReopener  = (*TelegramClient)(nil)
	_ TopicEditor    = (*TelegramClient)(nil)
	_ MessageDeleter = (*TelegramClient)(nil)
)

// NewTelegramClient builds the bot; telego's own logs go through logger at debug/error.
func NewTelegramClient(cfg config.TelegramConfig, logger *zap.Logger) (*TelegramClient, error) {
	opts := []telego.BotOption{telego.WithLogger(logger.Named("telego").Sugar())}
	if cfg.APIServer != "" {
		opts = append(opts, telego.WithAPIServer(cfg.APIServer))
	}
	bot, err := telego.NewBot(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramClient{bot: bot, logger: logger}, nil
}

func (c *TelegramClient) CreateTopic(ctx context.Context, groupID int64, title string) (int64, error) {
	topic, err := c.bot.CreateForumTopic(ctx, &telego.CreateForumTopicParams{
		ChatID: tu.ID(groupID),
		Name:   title,
	})
	if err != nil {
		return 0, translate("create topic", err)
	}
	return int64(topic.MessageThreadID), nil
}

func (c *TelegramClient) SendMessage(ctx context.Context, msg OutboundMessage) (int64, error) {
	var reply *telego.ReplyParameters
	if msg.ReplyToID != 0 {
		reply = &telego.ReplyParameters{MessageID: int(msg.ReplyToID), AllowSendingWithoutReply: true}
	}

	if msg.CopyFrom != nil {
		copied, err := c.bot.CopyMessage(ctx, &telego.CopyMessageParams{
			ChatID:          tu.ID(msg.ChatID),
			MessageThreadID: int(msg.ThreadID),
			FromChatID:      tu.ID(msg.CopyFrom.ChatID),
			MessageID:       int(msg.CopyFrom.MessageID),
			ReplyParameters: reply,
		})
		if err != nil {
			return 0, translate("copy message", err)
		}
		return int64(copied.MessageID), nil
	}

	sent, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:          tu.ID(msg.ChatID),
		MessageThreadID: int(msg.ThreadID),
		Text:            msg.Text,
		ReplyParameters: reply,
	})
	if err != nil {
		return 0, translate("send message", err)
	}
	return int64(sent.MessageID), nil
}

func (c *TelegramClient) EditMessage(ctx context.Context, edit MessageEdit) error {
	var err error
	if edit.Caption {
		_, err = c.bot.EditMessageCaption(ctx, &telego.EditMessageCaptionParams{
			ChatID:    tu.ID(edit.ChatID),
			MessageID: int(edit.MessageID),
			Caption:   edit.Text,
		})
	} else {
		_, err = c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:    tu.ID(edit.ChatID),
			MessageID: int(edit.MessageID),
			Text:      edit.Text,
		})
	}
	if isNotModified(err) {
		return nil
	}
	return translate("edit message", err)
}

func (c *TelegramClient) CloseTopic(ctx context.Context, groupID, topicID int64) error {
	err := c.bot.CloseForumTopic(ctx, &telego.CloseForumTopicParams{
		ChatID:          tu.ID(groupID),
		MessageThreadID: int(topicID),
	})
	if isTopicStateUnchanged(err) {
		return nil
	}
	return translate("close topic", err)
}

func (c *TelegramClient) ReopenTopic(ctx context.Context, groupID, topicID int64) error {
	err := c.bot.ReopenForumTopic(ctx, &telego.ReopenForumTopicParams{
		ChatID:          tu.ID(groupID),
		MessageThreadID: int(topicID),
	})
	if isTopicStateUnchanged(err) {
		return nil
	}
	return translate("reopen topic", err)
}

func (c *TelegramClient) EditTopic(ctx context.Context, groupID, topicID int64, title string) error {
	err := c.bot.EditForumTopic(ctx, &telego.EditForumTopicParams{
		ChatID:          tu.ID(groupID),
		MessageThreadID: int(topicID),
		Name:            title,
	})
	if isTopicStateUnchanged(err) {
		return nil
	}
	return translate("edit topic", err)
}

func (c *TelegramClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	err := c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(chatID),
		MessageID: int(messageID),
	})
	return translate("delete message", err)
}

// SetWebhook registers url with the platform.
func (c *TelegramClient) SetWebhook(ctx context.Context, url, secretToken string) error {
	err := c.bot.SetWebhook(ctx, &telego.SetWebhookParams{
		URL:            url,
		SecretToken:    secretToken,
		AllowedUpdates: AllowedUpdates,
	})
	return translate("set webhook", err)
}

// BotUsername returns the bot's own @username without the prefix.
func (c *TelegramClient) BotUsername(ctx context.Context) (string, error) {
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return "", translate("get me", err)
	}
	return me.Username, nil
}

// PollUpdates starts long polling; the channel closes when ctx is done.
// Any registered webhook is removed first since the two modes are exclusive.
func (c *TelegramClient) PollUpdates(ctx context.Context, timeout time.Duration) (<-chan telego.Update, error) {
	if err := c.bot.DeleteWebhook(ctx, &telego.DeleteWebhookParams{}); err != nil {
		return nil, translate("delete webhook", err)
	}
	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        int(timeout.Seconds()),
		AllowedUpdates: AllowedUpdates,
	})
	if err != nil {
		return nil, translate("long polling", err)
	}
	return updates, nil
}

// translate converts telego API errors into *APIError, leaving transport errors as they are.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *ta.Error
	if errors.As(err, &apiErr) {
		out := &APIError{Code: apiErr.ErrorCode, Description: apiErr.Description}
		if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
			out.RetryAfter = time.Duration(apiErr.Parameters.RetryAfter) * time.Second
		}
		return fmt.Errorf("%s: %w", op, out)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func apiDescription(err error) (string, bool) {
	var apiErr *ta.Error
	if err == nil || !errors.As(err, &apiErr) {
		return "", false
	}
	return strings.ToLower(apiErr.Description), true
}

func isNotModified(err error) bool {
	desc, ok := apiDescription(err)
	return ok && strings.Contains(desc, "message is not modified")
}

func isTopicStateUnchanged(err error) bool {
	desc, ok := apiDescription(err)
	return ok && strings.Contains(desc, "topic_not_modified")
}
