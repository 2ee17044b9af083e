package models

import "time"

// GenerationRequest — нормализованный запрос к генерации, одинаковый для всех
// провайдеров.
type GenerationRequest struct {
	Prompt        string
	SystemMessage string
	MaxTokens     int
	Temperature   float32
	// Ending: запрашивается финальная сцена — choices не требуются,
	// текст должен содержать развязку.
	Ending bool
	// Theme и PlayerName нужны шаблонному фолбэку, в промт они уже вшиты.
	Theme      string
	PlayerName string
}

// StoryGeneration — структурированный ответ модели.
type StoryGeneration struct {
	SceneText     string   `json:"scene_text"`
	Choices       []string `json:"choices"`
	SummaryUpdate string   `json:"story_summary_update"`
}

// AttemptOutcome — итог одной попытки генерации.
type AttemptOutcome string

const (
	AttemptSuccess        AttemptOutcome = "success"
	AttemptTimeout        AttemptOutcome = "timeout"
	AttemptMalformed      AttemptOutcome = "malformed"
	AttemptSafetyRejected AttemptOutcome = "safety_rejected"
	AttemptProviderError  AttemptOutcome = "provider_error"
)

// GenerationAttempt — одна попытка обращения к провайдеру.
// Не персистится, только логируется и попадает в метрики.
type GenerationAttempt struct {
	Provider     string
	AttemptIndex int
	Latency      time.Duration
	Outcome      AttemptOutcome
}

// UsageInfo содержит информацию об использовании токенов одной генерацией.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
