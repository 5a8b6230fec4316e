package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/telecare-signaling/internal/apperr"
	"github.com/mossy-p/telecare-signaling/internal/calls"
	"github.com/mossy-p/telecare-signaling/internal/feed"
	"github.com/mossy-p/telecare-signaling/internal/models"
	"github.com/mossy-p/telecare-signaling/internal/store"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client is one participant's WebSocket connection to a call room
type Client struct {
	UserID string
	RoomID string
	Conn   *websocket.Conn
	// Send carries replies produced by the read side; only writePump writes to Conn
	Send chan []byte
}

// HandleSignaling is the WebSocket transport of the signal stream. Signals
// addressed to the caller are pushed as {from, data}; inbound {to, signal}
// frames are relayed to the other participant.
func (h *Handler) HandleSignaling(c *gin.Context) {
	roomID := c.Param("roomId")
	userID := caller(c).UserID

	start, err := streamStart(c, feed.From(store.Cursor{}))
	if err != nil {
		respondError(c, err)
		return
	}

	// The connection outlives this handler, so the stream is not tied to the request.
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := h.relay.Stream(ctx, roomID, userID, start)
	if err != nil {
		cancel()
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		stream.Close()
		cancel()
		log.Warn().Err(err).Str("room_id", roomID).Msg("Failed to upgrade connection")
		return
	}

	client := &Client{
		UserID: userID,
		RoomID: roomID,
		Conn:   conn,
		Send:   make(chan []byte, 16),
	}
	log.Info().Str("room_id", roomID).Str("user_id", userID).Msg("Peer connected")

	go client.writePump(stream)
	go client.readPump(ctx, cancel, h.relay)
}

func (c *Client) readPump(ctx context.Context, cancel context.CancelFunc, relay *calls.Relay) {
	defer func() {
		cancel()
		log.Info().Str("room_id", c.RoomID).Str("user_id", c.UserID).Msg("Peer disconnected")
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("room_id", c.RoomID).Msg("WebSocket error")
			}
			return
		}

		var in models.InboundSignal
		if err := json.Unmarshal(message, &in); err != nil {
			c.reply(gin.H{"error": "Invalid message", "kind": apperr.ValidationError})
			continue
		}

		_, err = relay.Send(ctx, models.SendSignalRequest{
			RoomID: c.RoomID,
			From:   c.UserID,
			To:     in.To,
			Signal: in.Signal,
		})
		if err != nil {
			c.reply(gin.H{"error": apperr.Message(err), "kind": apperr.KindOf(err)})
		}
	}
}

func (c *Client) writePump(stream *feed.Stream[models.Signal]) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		stream.Close()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-stream.Events():
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(ev.Payload.Frame())
			if err != nil {
				log.Warn().Err(err).Msg("Failed to encode signal frame")
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("user_id", c.UserID).Msg("Failed to write message")
				return
			}

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Warn().Str("user_id", c.UserID).Msg("Failed to send reply, buffer full")
	}
}
