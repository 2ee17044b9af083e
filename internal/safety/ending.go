package safety

import (
	"errors"
	"strings"
)

// Ошибки валидатора концовки.
var (
	ErrEndingHasQuestion    = errors.New("финальная сцена содержит вопрос")
	ErrEndingHasCliffhanger = errors.New("финальная сцена обрывается клиффхэнгером")
	ErrEndingNoClosure      = errors.New("финальная сцена не содержит развязки")
)

// Фразы, за которыми история явно продолжается.
var cliffhangerPhrases = []string{
	"to be continued",
	"what happens next",
	"what will happen",
	"will they",
	"will you",
	"stay tuned",
	"suddenly, a",
	"but then",
	"little did",
	"next time",
}

// Маркеры завершенности: хотя бы один обязан присутствовать.
var closureMarkers = []string{
	"the end",
	"happily ever after",
	"lived happily",
	"returned home",
	"went home",
	"back home",
	"safe and sound",
	"fell asleep",
	"drifted off to sleep",
	"adventure was complete",
	"adventure came to an end",
	"journey was over",
	"mission was complete",
	"finally home",
	"what a wonderful adventure",
	"proud of everything",
}

// ValidateEnding проверяет, что текст годится как финальная сцена: без
// вопросов, без клиффхэнгеров, с явной развязкой. Эвристика сознательно
// простая: детерминированная, дешевая и тестируемая.
func ValidateEnding(sceneText string) error {
	if strings.Contains(sceneText, "?") {
		return ErrEndingHasQuestion
	}

	lower := strings.ToLower(sceneText)
	for _, phrase := range cliffhangerPhrases {
		if strings.Contains(lower, phrase) {
			return ErrEndingHasCliffhanger
		}
	}

	for _, marker := range closureMarkers {
		if strings.Contains(lower, marker) {
			return nil
		}
	}
	return ErrEndingNoClosure
}
