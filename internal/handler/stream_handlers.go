package handler

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"storyquest-server/internal/models"
	"storyquest-server/internal/stream"
)

// Стримовые варианты start/continue. Пока не отправлено ни одного события,
// ошибки отдаются обычным JSON; после начала стрима — событием error.

func (h *StoryHandler) startStoryStream(c echo.Context) error {
	var req models.StartStoryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
	}

	sink, err := stream.NewSSESink(c.Response())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, APIError{Message: err.Error()})
	}

	if err := h.engine.StartStoryStream(c.Request().Context(), &req, c.RealIP(), sink); err != nil {
		return h.handleStreamError(c, sink, err)
	}
	return nil
}

func (h *StoryHandler) continueStoryStream(c echo.Context) error {
	var req models.ContinueStoryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
	}
	if req.SessionID == uuid.Nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "session_id is required"})
	}

	sink, err := stream.NewSSESink(c.Response())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, APIError{Message: err.Error()})
	}

	if err := h.engine.ContinueStoryStream(c.Request().Context(), &req, c.RealIP(), sink); err != nil {
		return h.handleStreamError(c, sink, err)
	}
	return nil
}

func (h *StoryHandler) handleStreamError(c echo.Context, sink stream.Sink, err error) error {
	if !c.Response().Committed {
		return h.handleEngineError(c, err)
	}

	event := models.StreamEvent{Type: models.EventError, Message: "Something went wrong, please try again"}
	var rlErr *models.RateLimitError
	var rejErr *models.InputRejectedError
	switch {
	case errors.As(err, &rlErr):
		event.Message = "Whoa, that's a lot of adventures! Please take a short break."
		event.RetryAfter = int(rlErr.RetryAfter.Seconds())
	case errors.As(err, &rejErr):
		event.Message = rejErr.Reason
	default:
		h.logger.Error("Stream failed mid-flight", zap.Error(err))
	}
	if sendErr := sink.Send(event); sendErr != nil {
		h.logger.Warn("Failed to deliver stream error event", zap.Error(sendErr))
	}
	return nil
}
