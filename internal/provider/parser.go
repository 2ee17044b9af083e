package provider

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"storyquest-server/internal/models"
)

const (
	minSceneChars = 50
	maxSceneChars = 1000
	choicesCount  = 3
)

// ParseStoryGeneration разбирает сырой ответ модели в StoryGeneration.
// Модели регулярно оборачивают JSON в markdown-заборы — срезаем их перед
// разбором. Любое отклонение от контракта — ErrMalformedResponse.
func ParseStoryGeneration(raw string, ending bool) (*models.StoryGeneration, error) {
	cleaned := StripMarkdownFences(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: пустой ответ", models.ErrMalformedResponse)
	}

	var gen models.StoryGeneration
	if err := json.Unmarshal([]byte(cleaned), &gen); err != nil {
		return nil, fmt.Errorf("%w: невалидный JSON: %v", models.ErrMalformedResponse, err)
	}

	sceneLen := utf8.RuneCountInString(strings.TrimSpace(gen.SceneText))
	if sceneLen < minSceneChars || sceneLen > maxSceneChars {
		return nil, fmt.Errorf("%w: длина сцены %d вне диапазона [%d,%d]",
			models.ErrMalformedResponse, sceneLen, minSceneChars, maxSceneChars)
	}

	// Финальная сцена может идти без вариантов; обычный ход — ровно три.
	switch {
	case ending && len(gen.Choices) == 0:
	case len(gen.Choices) == choicesCount:
		for i, c := range gen.Choices {
			if strings.TrimSpace(c) == "" {
				return nil, fmt.Errorf("%w: пустой вариант выбора #%d", models.ErrMalformedResponse, i+1)
			}
		}
	default:
		return nil, fmt.Errorf("%w: ожидалось %d вариантов, получено %d",
			models.ErrMalformedResponse, choicesCount, len(gen.Choices))
	}

	return &gen, nil
}

// StripMarkdownFences убирает обрамление ```json ... ``` вокруг ответа.
func StripMarkdownFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
		cleaned = strings.TrimSpace(cleaned)
	}
	return cleaned
}
