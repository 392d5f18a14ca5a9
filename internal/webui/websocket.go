package webui

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Lichas/wabridge/internal/bus"
	"github.com/Lichas/wabridge/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// handleWebSocket subscribes a plain websocket client to the broadcaster.
// Every event is written as one JSON frame; inbound frames are ignored.
func (s *Server) handleWebSocket(c *gin.Context) {
	if s.deps.Bus == nil || s.deps.Bus.IsClosed() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event bus not available"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id := "ws-" + uuid.NewString()
	sub, err := s.deps.Bus.Subscribe(id)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(wsWriteTimeout))
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		writeEvents(conn, sub)
	}()

	_ = s.deps.Bus.PublishTo(id, bus.EventStatus, s.snapshot())
	if lg := logging.Get(); lg != nil && lg.Web != nil {
		lg.Web.Printf("websocket subscriber connected id=%s", id)
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.deps.Bus.Unsubscribe(id)
	<-done
	if lg := logging.Get(); lg != nil && lg.Web != nil {
		lg.Web.Printf("websocket subscriber gone id=%s dropped=%d", id, sub.Dropped())
	}
}

// writeEvents drains the subscription; after a write error it keeps draining
// so the broadcaster never sees a stuck reader. The socket is closed once the
// subscription ends, which also stops the read loop on shutdown.
func writeEvents(conn *websocket.Conn, sub *bus.Subscription) {
	defer conn.Close()
	broken := false
	for evt := range sub.C {
		if broken {
			continue
		}
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			broken = true
			_ = conn.Close()
		}
	}
}
