package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/telecare-signaling/internal/feed"
	"github.com/mossy-p/telecare-signaling/internal/models"
)

// NotificationEvents streams the caller's notifications as they are published
func (h *Handler) NotificationEvents(c *gin.Context) {
	start, err := streamStart(c, feed.Latest)
	if err != nil {
		respondError(c, err)
		return
	}
	stream, err := h.notifications.Stream(c.Request.Context(), caller(c).UserID, start)
	if err != nil {
		respondError(c, err)
		return
	}

	serveSSE(c, stream, h.keepAlive, func(n models.Notification) any {
		return n
	})
}

// ListNotifications returns the caller's latest notifications
func (h *Handler) ListNotifications(c *gin.Context) {
	items, err := h.notifications.Recent(c.Request.Context(), caller(c).UserID, queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

// PublishNotification sends a notification to any user (staff only)
func (h *Handler) PublishNotification(c *gin.Context) {
	var req models.NotifyRequest
	if !bindJSON(c, &req) {
		return
	}

	n, err := h.notifications.Publish(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}
