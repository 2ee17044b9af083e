package models

import (
	"errors"
	"fmt"
	"time"
)

// Стандартные ошибки приложения
var (
	// Сессии
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionInactive   = errors.New("session is no longer active")
	ErrSessionFinished   = errors.New("session has already finished")
	ErrSessionBusy       = errors.New("another turn is already in progress for this session")
	ErrMaxTurnsReached   = errors.New("session has reached maximum turns")
	ErrStaleChoice       = errors.New("choice belongs to an already consumed turn")
	ErrInvalidTransition = errors.New("invalid story phase transition")

	// Ввод пользователя
	ErrInvalidInput  = errors.New("invalid input data")
	ErrInputRejected = errors.New("input rejected by safety filter")

	// Rate limiting
	ErrRateLimited = errors.New("rate limit exceeded")

	// Генерация
	ErrAllProvidersExhausted = errors.New("all generation providers exhausted")
	ErrMalformedResponse     = errors.New("malformed generation response")

	// Общие
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
)

// RateLimitError несет retry_after для заголовка Retry-After и тела ответа.
// errors.Is(err, ErrRateLimited) возвращает true.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", int(e.RetryAfter.Seconds()))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// InputRejectedError несет дружелюбное к ребенку сообщение отказа.
// errors.Is(err, ErrInputRejected) возвращает true.
type InputRejectedError struct {
	Reason string
}

func (e *InputRejectedError) Error() string {
	return "input rejected: " + e.Reason
}

func (e *InputRejectedError) Is(target error) bool { return target == ErrInputRejected }
