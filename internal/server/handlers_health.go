package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fwintner/marketpulse/internal/platform/version"
)

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
		"build":  version.Get(),
	})
}

// handleReadiness reports whether the engine is serving. The dashboard is
// usable before the prefetch completes, so readiness only requires the
// actor to answer, not a warm cache.
func (s *Server) handleReadiness(c echo.Context) error {
	snap := s.engine.Snapshot()
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "ready",
		"cached_entries": snap.CachedEntries,
		"subjects":       len(snap.Subjects),
		"ws_clients":     s.hub.ClientCount(),
	})
}
