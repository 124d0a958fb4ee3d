package server

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

type streamEventPayload struct {
	InstallID string `json:"install_id"`
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp_ms"`
}

// handleStream pushes state-change events of the install as server-sent
// events. A state-change is sent on connect so the client fetches once.
func (h *httpHandler) handleStream(c *gin.Context) {
	installID := c.GetString(installIDContextKey)
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, installID)
	defer cleanup()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent(RealtimeEventStateChanged, newStreamEvent(installID, time.Now()))
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, newStreamEvent(installID, message.Timestamp))
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, newStreamEvent(installID, tick))
			return true
		}
	})
}

func newStreamEvent(installID string, at time.Time) streamEventPayload {
	return streamEventPayload{
		InstallID: installID,
		Source:    realtimeSourceBackend,
		Timestamp: at.UTC().UnixMilli(),
	}
}
