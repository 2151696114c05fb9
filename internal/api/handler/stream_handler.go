package handler

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

// Stream handles GET /api/assets/stream
// Server-sent events for every job status change. Delivery is best effort;
// clients reconcile with batch-status after reconnecting.
func (h *AssetHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	events, err := h.broadcaster.Subscribe(ctx, domain.TopicAssetUpdates)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("SSE client connected", slog.String("ip", c.ClientIP()))
	defer h.logger.Info("SSE client disconnected", slog.String("ip", c.ClientIP()))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent("message", event)
			c.Writer.Flush()
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			c.Writer.Flush()
		}
	}
}
