package handlers

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/mymmrac/telego"
	"go.uber.org/zap"

	"github.com/spec-kit/support-bridge/internal/intake"
	apperrors "github.com/spec-kit/support-bridge/pkg/util/errorutil"
)

// SecretTokenHeader carries the secret registered with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateProcessor runs one raw update through intake.
type UpdateProcessor interface {
	Process(ctx context.Context, update telego.Update) error
}

// WebhookHandler receives platform updates.
type WebhookHandler struct {
	processor   UpdateProcessor
	secretToken string
	logger      *zap.Logger
}

// NewWebhookHandler constructs handler. An empty secretToken disables the header check.
func NewWebhookHandler(processor UpdateProcessor, secretToken string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{processor: processor, secretToken: secretToken, logger: logger}
}

// Receive POST /webhook. Every interpretable update is acknowledged, whatever the bridge made of it.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	if h.secretToken != "" {
		got := c.Get(SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secretToken)) != 1 {
			return apperrors.NewForbidden("invalid secret token")
		}
	}

	var update telego.Update
	if err := c.BodyParser(&update); err != nil {
		return apperrors.NewMalformedUpdate(err)
	}

	if err := h.processor.Process(c.UserContext(), update); err != nil {
		if errors.Is(err, intake.ErrMalformed) {
			return apperrors.NewMalformedUpdate(err)
		}
		h.logger.Error("update processing failed", zap.Int("update_id", update.UpdateID), zap.Error(err))
	}
	return c.JSON(fiber.Map{"ok": true})
}
