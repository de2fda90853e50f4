package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/service/whatsapp"
)

// WebhookHandler serves the WhatsApp callback that carries front-desk chat
// commands.
type WebhookHandler struct {
	commands whatsapp.MessagingService
	logger   *zap.Logger
}

// NewWebhookHandler binds the chat command service to HTTP.
func NewWebhookHandler(commands whatsapp.MessagingService, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{commands: commands, logger: logger}
}

// Verify answers the subscription handshake with the challenge when the
// verify token matches.
func (h *WebhookHandler) Verify(c *gin.Context) {
	challenge, err := h.commands.VerifyWebhookToken(
		c.Query("hub.mode"), c.Query("hub.verify_token"), c.Query("hub.challenge"))
	if err != nil {
		h.logger.Warn("webhook subscription refused", zap.Error(err))
		c.String(http.StatusForbidden, "verification failed")
		return
	}
	c.String(http.StatusOK, challenge)
}

// Receive runs the chat commands of one callback and reports how each ended.
// Any parsed callback is acknowledged with 200: Meta redelivers on errors,
// which would run sale commands twice.
func (h *WebhookHandler) Receive(c *gin.Context) {
	var payload models.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.Warn("malformed command callback", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	result := h.commands.HandleWebhook(c.Request.Context(), payload)

	done := result.Count(whatsapp.StatusDone)
	rejected := result.Count(whatsapp.StatusRejected)
	ignored := result.Count(whatsapp.StatusIgnored)
	undelivered := result.Undelivered()
	if len(result.Outcomes) > 0 {
		h.logger.Info("chat commands processed",
			zap.Int("done", done),
			zap.Int("rejected", rejected),
			zap.Int("ignored", ignored),
			zap.Int("undelivered", undelivered))
	}
	if undelivered > 0 {
		h.logger.Warn("command replies not delivered", zap.Int("undelivered", undelivered))
	}

	c.JSON(http.StatusOK, gin.H{
		"done":        done,
		"rejected":    rejected,
		"ignored":     ignored,
		"undelivered": undelivered,
		"outcomes":    result.Outcomes,
	})
}
