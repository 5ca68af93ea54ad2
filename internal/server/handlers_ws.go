package server

import (
	"log/slog"
	"net/http"

	ws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard runs on the operator's own machine; cross-origin
	// browser clients are not a supported surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and blocks on the read pump until
// the client goes away. Snapshots are pushed by the hub's writer goroutine.
func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return nil
	}

	id, err := s.hub.Register(conn)
	if err != nil {
		// Connection already closed by the hub.
		slog.Warn("WebSocket registration rejected", "error", err)
		return nil
	}

	defer s.hub.Unregister(id)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	return nil
}
