package handler

import (
	"crypto/subtle"

	"donatebot/internal/bot"
	"donatebot/internal/gateway/telegram"
	"donatebot/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SecretTokenHeader carries the secret registered with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Handler receives gateway updates pushed over HTTP.
type Handler struct {
	dispatcher bot.Handler
	secret     string
	mode       string
	logger     *zap.Logger
}

func NewHandler(dispatcher bot.Handler, secret, mode string, logger *zap.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		secret:     secret,
		mode:       mode,
		logger:     logger.Named("webhook"),
	}
}

// Webhook accepts one update.
// POST /api/v1/telegram/webhook
//
// Every request must carry the configured secret token; with no secret
// configured the endpoint refuses everything.
//
// Handling failures are logged and still acknowledged with 200 so the
// gateway does not redeliver an update the bot already acted on.
func (h *Handler) Webhook(c *gin.Context) {
	got := c.GetHeader(SecretTokenHeader)
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		h.logger.Warn("webhook rejected: bad secret token", zap.String("client_ip", c.ClientIP()))
		response.Unauthorized(c, "invalid secret token")
		return
	}

	var update telegram.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		response.ParamError(c, "invalid update: "+err.Error())
		return
	}

	if err := h.dispatcher.Dispatch(c.Request.Context(), update); err != nil {
		h.logger.Debug("update handled with error", zap.Int64("update_id", update.UpdateID), zap.Error(err))
	}
	response.Success(c, nil)
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok", "mode": h.mode})
}
