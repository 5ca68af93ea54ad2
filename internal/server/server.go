// Package server exposes the dashboard over HTTP: a JSON API for state and
// interactions, a WebSocket endpoint for snapshot push, and the usual
// health and metrics surfaces.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/fwintner/marketpulse/internal/apperrors"
	"github.com/fwintner/marketpulse/internal/dashboard"
	"github.com/fwintner/marketpulse/internal/platform/config"
	"github.com/fwintner/marketpulse/internal/websocket"
)

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	engine    *dashboard.Engine
	hub       *websocket.Hub
	startTime time.Time
}

func NewServer(cfg *config.Config, engine *dashboard.Engine, hub *websocket.Hub) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:      e,
		config:    cfg,
		engine:    engine,
		hub:       hub,
		startTime: time.Now(),
	}
	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
