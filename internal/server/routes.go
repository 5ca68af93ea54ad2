package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Read surface
	api := s.echo.Group("/api")
	api.GET("/dashboard", s.handleDashboard)
	api.GET("/subjects", s.handleSubjects)
	api.GET("/sentiment/:subject", s.handleSentiment)

	// Interactions
	api.POST("/select/:subject", s.handleSelect)
	api.POST("/deselect", s.handleDeselect)
	api.POST("/retry", s.handleRetry)
	api.POST("/context/:context", s.handleSwitchContext)
	api.POST("/driver/:index", s.handleExpandDriver)
	api.DELETE("/driver", s.handleCollapseDriver)

	// Snapshot push
	s.echo.GET("/ws", s.handleWebSocket)
}
