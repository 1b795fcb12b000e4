package server

import (
	"github.com/labstack/echo/v4"
)

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.tracker.GetTrackingStats(c.Request().Context())
	if err != nil {
		return c.JSON(500, map[string]string{"error": "Failed to count tracked entities"})
	}

	return c.JSON(200, map[string]any{
		"connections": s.hub.ClientCount(),
		"vehicles":    stats.Vehicles,
		"deliveries":  stats.Deliveries,
		"users":       stats.Users,
		"total":       stats.Total,
	})
}
