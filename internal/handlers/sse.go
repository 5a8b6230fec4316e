package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/mossy-p/telecare-signaling/internal/apperr"
	"github.com/mossy-p/telecare-signaling/internal/feed"
	"github.com/mossy-p/telecare-signaling/internal/store"
	"github.com/rs/zerolog/log"
)

// streamStart resolves where a push stream begins. A reconnecting
// EventSource sends Last-Event-ID; other clients may pass ?after=.
func streamStart(c *gin.Context, fallback feed.Start) (feed.Start, error) {
	raw := c.GetHeader("Last-Event-ID")
	if raw == "" {
		raw = c.Query("after")
	}
	if raw == "" {
		return fallback, nil
	}
	cursor, err := store.ParseCursor(raw)
	if err != nil {
		return feed.Start{}, apperr.Wrap(apperr.ValidationError, err, "Invalid resume cursor")
	}
	return feed.From(cursor), nil
}

// serveSSE pushes every event of stream as one SSE frame until the client
// goes away or the stream ends. The cursor travels as the frame id.
func serveSSE[T any](c *gin.Context, stream *feed.Stream[T], keepAlive time.Duration, frame func(T) any) {
	defer stream.Close()

	w := c.Writer
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return

		case ev, ok := <-stream.Events():
			if !ok {
				<-stream.Done()
				if err := stream.Err(); err != nil {
					log.Warn().Err(err).Str("path", c.FullPath()).Msg("Push stream failed")
					writeFrame(w, sse.Event{Event: "error", Data: gin.H{"error": "stream interrupted"}})
				}
				return
			}
			data, err := json.MarshalToString(frame(ev.Payload))
			if err != nil {
				log.Warn().Err(err).Msg("Failed to encode stream frame")
				continue
			}
			if !writeFrame(w, sse.Event{Id: ev.Cursor.String(), Data: data}) {
				return
			}

		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			w.Flush()
		}
	}
}

func writeFrame(w gin.ResponseWriter, ev sse.Event) bool {
	if err := sse.Encode(w, ev); err != nil {
		return false
	}
	w.Flush()
	return true
}
