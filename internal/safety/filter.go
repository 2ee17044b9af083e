package safety

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"storyquest-server/internal/models"
)

// MaxInputLength — предел длины пользовательского ввода в символах.
const MaxInputLength = 200

// Дружелюбные к детям сообщения об отказе. Настоящая причина остается
// в логах и записи SafetyViolation, ребенку ее не показываем.
const (
	msgEmptyInput    = "Please type what you'd like to do in the story"
	msgInputTooLong  = "That's a bit long! Try a shorter idea"
	msgPersonalInfo  = "Please don't include personal information, links, or contact details"
	msgKinderWords   = "Let's use kinder words in our story"
	msgSimplerIdeas  = "Let's use simpler, more fun ideas for our story!"
	msgDifferentIdea = "Let's try a different idea for our adventure!"
)

// InputResult — итог проверки пользовательского ввода.
type InputResult struct {
	OK        bool
	Sanitized string
	// Reason — сообщение для игрока (только при отказе).
	Reason    string
	Violation *models.SafetyViolation
}

// Filter — двухфазный фильтр безопасности: вход игрока до генерации,
// выход модели после. Без внешних зависимостей, кроме опциональной модерации.
type Filter struct {
	moderation *ModerationChecker // nil — модерация выключена
	logger     *zap.Logger
}

// NewFilter создает фильтр. moderation может быть nil.
func NewFilter(moderation *ModerationChecker, logger *zap.Logger) *Filter {
	return &Filter{
		moderation: moderation,
		logger:     logger.Named("SafetyFilter"),
	}
}

// CheckInput валидирует свободный ввод игрока перед генерацией.
func (f *Filter) CheckInput(ctx context.Context, text, ageRange string) InputResult {
	if strings.TrimSpace(text) == "" {
		return f.reject(msgEmptyInput, models.ViolationPattern, models.SeverityLow, text)
	}
	if utf8.RuneCountInString(text) > MaxInputLength {
		return f.reject(msgInputTooLong, models.ViolationPattern, models.SeverityLow, text)
	}

	sanitized := strings.TrimSpace(text)

	for _, pattern := range inappropriatePatterns {
		if pattern.MatchString(sanitized) {
			f.logger.Warn("Input rejected by pattern", zap.String("pattern", pattern.String()))
			return f.reject(msgPersonalInfo, models.ViolationPattern, models.SeverityHigh, sanitized)
		}
	}
	if hasRepeatedRun(sanitized, spamRunLength) {
		f.logger.Warn("Input rejected as repeated-character spam")
		return f.reject(msgPersonalInfo, models.ViolationPattern, models.SeverityHigh, sanitized)
	}

	for _, word := range strings.Fields(strings.ToLower(sanitized)) {
		clean := stripPunctuation(word)
		if bannedWords.contains(clean) {
			f.logger.Warn("Input rejected by banned word", zap.String("word", clean))
			return f.reject(msgKinderWords, models.ViolationBannedWord, models.SeverityHigh, sanitized)
		}
		if ageSet, ok := ageInappropriateWords[ageRange]; ok && ageSet.contains(clean) {
			f.logger.Warn("Input rejected as age-inappropriate",
				zap.String("word", clean), zap.String("age_range", ageRange))
			return f.reject(msgSimplerIdeas, models.ViolationAgeInappropriate, models.SeverityMedium, sanitized)
		}
	}

	if f.moderation != nil {
		if ok, reason := f.moderation.Check(ctx, sanitized); !ok {
			f.logger.Warn("Input rejected by moderation API", zap.String("reason", reason))
			return f.reject(msgDifferentIdea, models.ViolationModerationAPI, models.SeverityHigh, sanitized)
		}
	}

	return InputResult{OK: true, Sanitized: sanitized}
}

// CheckOutput валидирует сгенерированную сцену и варианты выбора.
// Возвращает nil, если все проверки пройдены.
func (f *Filter) CheckOutput(ctx context.Context, sceneText string, choices []string, ageRange string) *models.SafetyViolation {
	if word := findBannedWord(sceneText); word != "" {
		f.logger.Warn("Generated scene rejected by banned word", zap.String("word", word))
		return newViolation(models.ViolationBannedWord, models.SeverityHigh, sceneText)
	}
	for i, choice := range choices {
		if word := findBannedWord(choice); word != "" {
			f.logger.Warn("Generated choice rejected by banned word",
				zap.Int("choice", i), zap.String("word", word))
			return newViolation(models.ViolationBannedWord, models.SeverityHigh, choice)
		}
	}

	if score := AnalyzeSentiment(sceneText); score < SentimentThreshold {
		f.logger.Warn("Generated scene rejected as too negative", zap.Float64("score", score))
		return newViolation(models.ViolationNegativeTone, models.SeverityMedium,
			fmt.Sprintf("sentiment %.2f: %s", score, sceneText))
	}

	if ageSet, ok := ageInappropriateWords[ageRange]; ok {
		for _, word := range strings.Fields(strings.ToLower(sceneText)) {
			if ageSet.contains(stripPunctuation(word)) {
				f.logger.Warn("Generated scene rejected as age-inappropriate",
					zap.String("word", stripPunctuation(word)), zap.String("age_range", ageRange))
				return newViolation(models.ViolationAgeInappropriate, models.SeverityMedium, sceneText)
			}
		}
	}

	if f.moderation != nil {
		if ok, reason := f.moderation.Check(ctx, sceneText); !ok {
			f.logger.Warn("Generated scene rejected by moderation API", zap.String("reason", reason))
			return newViolation(models.ViolationModerationAPI, models.SeverityHigh, sceneText)
		}
	}

	return nil
}

func (f *Filter) reject(reason string, category models.ViolationCategory, severity models.ViolationSeverity, snippet string) InputResult {
	return InputResult{
		OK:        false,
		Reason:    reason,
		Violation: newViolation(category, severity, snippet),
	}
}

func newViolation(category models.ViolationCategory, severity models.ViolationSeverity, snippet string) *models.SafetyViolation {
	return &models.SafetyViolation{
		Category: category,
		Severity: severity,
		Snippet:  models.RedactSnippet(snippet),
	}
}

// ContainsBannedWord — быстрая проверка текста по основному списку.
// Используется потоковым экранированием до полной валидации сцены.
func ContainsBannedWord(text string) bool {
	return findBannedWord(text) != ""
}

func findBannedWord(text string) string {
	for _, word := range strings.Fields(strings.ToLower(text)) {
		clean := stripPunctuation(word)
		if bannedWords.contains(clean) {
			return clean
		}
	}
	return ""
}
