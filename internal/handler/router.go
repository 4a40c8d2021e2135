package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// WebhookPath is where the gateway pushes updates.
const WebhookPath = "/api/v1/telegram/webhook"

// SetupRouter builds the HTTP server. The webhook route is only mounted when
// updates are pushed; polling deployments still expose health and metrics.
func SetupRouter(h *Handler, logger *zap.Logger, webhook bool) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware())

	if webhook {
		api := r.Group("/api/v1")
		{
			telegram := api.Group("/telegram")
			{
				telegram.POST("/webhook", h.Webhook)
			}
		}
	}

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
