package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"storyquest-server/internal/models"
)

const (
	defaultViolationsLimit = 50
	maxViolationsLimit     = 500
	defaultStatsWindow     = 24 * time.Hour
	healthCheckTimeout     = 3 * time.Second
)

type healthResponse struct {
	Status    string          `json:"status"`
	Providers map[string]bool `json:"providers"`
}

type violationsResponse struct {
	Violations []models.SafetyViolation `json:"violations"`
	Count      int                      `json:"count"`
}

func (h *StoryHandler) adminStats(c echo.Context) error {
	window := defaultStatsWindow
	if raw := c.QueryParam("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours < 1 {
			return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid hours parameter"})
		}
		window = time.Duration(hours) * time.Hour
	}

	stats, err := h.engine.AdminStats(c.Request().Context(), time.Now().Add(-window))
	if err != nil {
		return h.handleEngineError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *StoryHandler) recentViolations(c echo.Context) error {
	limit := defaultViolationsLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxViolationsLimit {
			return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid limit parameter"})
		}
		limit = parsed
	}

	violations, err := h.engine.RecentViolations(c.Request().Context(), limit)
	if err != nil {
		return h.handleEngineError(c, err)
	}
	return c.JSON(http.StatusOK, violationsResponse{Violations: violations, Count: len(violations)})
}

// health опрашивает провайдеров. Сервис жив, даже если все провайдеры
// нездоровы: остается шаблонный фолбэк.
func (h *StoryHandler) health(c echo.Context) error {
	resp := healthResponse{Status: "ok", Providers: make(map[string]bool, len(h.providers))}
	for _, p := range h.providers {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
		resp.Providers[p.Name()] = p.IsHealthy(ctx)
		cancel()
	}
	return c.JSON(http.StatusOK, resp)
}
