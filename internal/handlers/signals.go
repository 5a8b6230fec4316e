package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/telecare-signaling/internal/apperr"
	"github.com/mossy-p/telecare-signaling/internal/feed"
	"github.com/mossy-p/telecare-signaling/internal/models"
	"github.com/mossy-p/telecare-signaling/internal/store"
)

// SendSignal relays one handshake message to the other participant
func (h *Handler) SendSignal(c *gin.Context) {
	var req models.SendSignalRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.From != caller(c).UserID {
		respondError(c, apperr.New(apperr.Forbidden, "Signals can only be sent as yourself"))
		return
	}

	sig, err := h.relay.Send(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cursor": sig.Cursor, "timestamp": sig.Timestamp})
}

// RecentSignals returns the latest signals addressed to the caller, newest first
func (h *Handler) RecentSignals(c *gin.Context) {
	userID := c.Param("userId")
	if !requireSelf(c, userID) {
		return
	}

	signals, err := h.relay.Recent(c.Request.Context(), c.Param("roomId"), userID, queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

// ListenSignals streams the signals addressed to the caller as SSE frames {from, data}
func (h *Handler) ListenSignals(c *gin.Context) {
	userID := c.Param("userId")
	if caller(c).UserID != userID {
		respondError(c, apperr.New(apperr.Forbidden, "Cannot listen on behalf of another user"))
		return
	}

	start, err := streamStart(c, feed.From(store.Cursor{}))
	if err != nil {
		respondError(c, err)
		return
	}
	stream, err := h.relay.Stream(c.Request.Context(), c.Param("roomId"), userID, start)
	if err != nil {
		respondError(c, err)
		return
	}

	serveSSE(c, stream, h.keepAlive, func(sig models.Signal) any {
		return sig.Frame()
	})
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return limit
}
