package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/clinforge/relay/backend/internal/entities"
	"github.com/clinforge/relay/backend/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy matches the router's permissive CORS configuration.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebsocket upgrades the request and couples the socket to a hub
// connection: one goroutine drains the send queue, the request goroutine
// runs the receive loop until the client goes away or the hub closes us.
func (h *httpHandler) handleWebsocket(c *gin.Context) {
	topic := c.Param("topic")
	if _, err := entities.ParseCollection(topic); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_topic"})
		return
	}

	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := h.hub.Register(c.Request.Context(), topic)

	// Writer: serializes all socket writes for this connection.
	go func() {
		defer socket.Close()
		for {
			select {
			case <-conn.Context().Done():
				deadline := time.Now().Add(writeTimeout)
				_ = socket.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			case payload := <-conn.Outbound():
				_ = socket.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := socket.WriteMessage(websocket.TextMessage, payload); err != nil {
					h.hub.Close(conn)
					return
				}
			}
		}
	}()

	h.receiveLoop(socket, conn)
}

func (h *httpHandler) receiveLoop(socket *websocket.Conn, conn *realtime.Connection) {
	defer h.hub.Close(conn)
	for {
		_, payload, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read error",
					zap.String("connection_id", conn.ID),
					zap.Error(err))
			}
			return
		}

		var inbound realtime.InboundMessage
		if err := json.Unmarshal(payload, &inbound); err != nil {
			// Protocol error: retire the connection.
			return
		}
		if inbound.Action == realtime.InboundActionPing {
			h.hub.Heartbeat(conn)
		}
	}
}
