package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"storyquest-server/internal/models"
	"storyquest-server/internal/provider"
	"storyquest-server/internal/stream"
)

// APIError — стандартизированный ответ об ошибке.
type APIError struct {
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// storyEngine — операции движка историй, нужные HTTP-слою.
type storyEngine interface {
	StartStory(ctx context.Context, req *models.StartStoryRequest, ip string) (*models.StoryResponse, error)
	ContinueStory(ctx context.Context, req *models.ContinueStoryRequest, ip string) (*models.StoryResponse, error)
	StartStoryStream(ctx context.Context, req *models.StartStoryRequest, ip string, sink stream.Sink) error
	ContinueStoryStream(ctx context.Context, req *models.ContinueStoryRequest, ip string, sink stream.Sink) error
	GetSessionHistory(ctx context.Context, sessionID uuid.UUID) (*models.SessionHistory, error)
	ResetSession(ctx context.Context, sessionID uuid.UUID) error
	AdminStats(ctx context.Context, since time.Time) (*models.AdminStats, error)
	RecentViolations(ctx context.Context, limit int) ([]models.SafetyViolation, error)
}

// StoryHandler обрабатывает HTTP-запросы сервиса историй.
type StoryHandler struct {
	engine    storyEngine
	providers []provider.Provider
	logger    *zap.Logger
}

// NewStoryHandler создает StoryHandler. providers нужны только для /health.
func NewStoryHandler(e storyEngine, providers []provider.Provider, logger *zap.Logger) *StoryHandler {
	return &StoryHandler{
		engine:    e,
		providers: providers,
		logger:    logger.Named("StoryHandler"),
	}
}

// RegisterRoutes регистрирует маршруты сервиса.
func (h *StoryHandler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/v1/story")
	{
		api.POST("/start", h.startStory)
		api.POST("/start/stream", h.startStoryStream)
		api.POST("/continue", h.continueStory)
		api.POST("/continue/stream", h.continueStoryStream)
		api.GET("/session/:id", h.getSessionHistory)
		api.POST("/session/:id/reset", h.resetSession)
	}

	admin := e.Group("/admin")
	{
		admin.GET("/stats", h.adminStats)
		admin.GET("/violations", h.recentViolations)
	}

	e.GET("/health", h.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (h *StoryHandler) startStory(c echo.Context) error {
	var req models.StartStoryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
	}

	resp, err := h.engine.StartStory(c.Request().Context(), &req, c.RealIP())
	if err != nil {
		return h.handleEngineError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *StoryHandler) continueStory(c echo.Context) error {
	var req models.ContinueStoryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
	}
	if req.SessionID == uuid.Nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "session_id is required"})
	}

	resp, err := h.engine.ContinueStory(c.Request().Context(), &req, c.RealIP())
	if err != nil {
		return h.handleEngineError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *StoryHandler) getSessionHistory(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid session id"})
	}

	history, err := h.engine.GetSessionHistory(c.Request().Context(), sessionID)
	if err != nil {
		return h.handleEngineError(c, err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *StoryHandler) resetSession(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid session id"})
	}

	if err := h.engine.ResetSession(c.Request().Context(), sessionID); err != nil {
		return h.handleEngineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}

// handleEngineError переводит доменные ошибки в HTTP-статусы.
func (h *StoryHandler) handleEngineError(c echo.Context, err error) error {
	var rlErr *models.RateLimitError
	if errors.As(err, &rlErr) {
		seconds := int(rlErr.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
		return c.JSON(http.StatusTooManyRequests, APIError{
			Message:    "Whoa, that's a lot of adventures! Please take a short break.",
			RetryAfter: seconds,
		})
	}

	var rejErr *models.InputRejectedError
	if errors.As(err, &rejErr) {
		return c.JSON(http.StatusUnprocessableEntity, APIError{Message: rejErr.Reason})
	}

	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, APIError{Message: "Session not found"})
	case errors.Is(err, models.ErrSessionBusy):
		return c.JSON(http.StatusConflict, APIError{Message: "Another turn is already in progress, please wait"})
	case errors.Is(err, models.ErrStaleChoice):
		return c.JSON(http.StatusConflict, APIError{Message: "This choice was already used, please refresh the story"})
	case errors.Is(err, models.ErrSessionFinished),
		errors.Is(err, models.ErrMaxTurnsReached):
		return c.JSON(http.StatusGone, APIError{Message: "This story has ended, start a new adventure!"})
	case errors.Is(err, models.ErrSessionInactive):
		return c.JSON(http.StatusGone, APIError{Message: "This story is no longer active, start a new adventure!"})
	case errors.Is(err, models.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, APIError{Message: err.Error()})
	case errors.Is(err, context.Canceled):
		// Клиент ушел, отвечать некому.
		return nil
	default:
		h.logger.Error("Unhandled engine error", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, APIError{Message: "Internal server error"})
	}
}
