package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/fwintner/marketpulse/internal/domain"
)

// handleDashboard returns the full read model: subjects, context, cursor,
// selection state and the cached results for the current context.
func (s *Server) handleDashboard(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleSubjects(c echo.Context) error {
	snap := s.engine.Snapshot()
	return c.JSON(http.StatusOK, map[string]any{
		"subjects": snap.Subjects,
		"context":  snap.Context,
	})
}

// handleSentiment returns one cached entry. The context query parameter
// defaults to the dashboard's current context, so old-context entries stay
// retrievable after a switch.
func (s *Server) handleSentiment(c echo.Context) error {
	subject := domain.Subject(c.Param("subject"))

	analysisCtx := s.engine.Snapshot().Context
	if raw := c.QueryParam("context"); raw != "" {
		parsed, err := domain.ParseAnalysisContext(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid analysis context")
		}
		analysisCtx = parsed
	}

	result, err := s.engine.Result(subject, analysisCtx)
	if errors.Is(err, domain.ErrUnknownSubject) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown subject")
	}
	if errors.Is(err, domain.ErrNotCached) {
		return echo.NewHTTPError(http.StatusNotFound, "no cached sentiment for subject yet")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleSelect(c echo.Context) error {
	subject := domain.Subject(c.Param("subject"))
	if err := s.engine.Select(subject); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown subject")
	}
	return s.respondWithSnapshot(c)
}

func (s *Server) handleDeselect(c echo.Context) error {
	s.engine.Deselect()
	return s.respondWithSnapshot(c)
}

func (s *Server) handleRetry(c echo.Context) error {
	s.engine.Retry()
	return s.respondWithSnapshot(c)
}

func (s *Server) handleSwitchContext(c echo.Context) error {
	analysisCtx, err := domain.ParseAnalysisContext(c.Param("context"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid analysis context")
	}
	s.engine.SwitchContext(analysisCtx)
	return s.respondWithSnapshot(c)
}

func (s *Server) handleExpandDriver(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "driver index must be an integer")
	}
	if err := s.engine.ExpandDriver(index); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "driver index out of range")
	}
	return s.respondWithSnapshot(c)
}

func (s *Server) handleCollapseDriver(c echo.Context) error {
	s.engine.CollapseDriver()
	return s.respondWithSnapshot(c)
}

// respondWithSnapshot returns the state after the command has been applied.
// Snapshot() goes through the same command channel, so the reply reflects
// the mutation that was just enqueued.
func (s *Server) respondWithSnapshot(c echo.Context) error {
	snap := s.engine.Snapshot()
	return c.JSON(http.StatusOK, snap)
}
