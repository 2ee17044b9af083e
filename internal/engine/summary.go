package engine

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"storyquest-server/internal/models"
)

// Сводка не должна раздувать промт: каждый ход к ней приклеивается
// story_summary_update, а каждые everyN ходов она пересжимается отдельным
// вызовом модели. Жесткая граница по символам и токенам страхует от
// неконтролируемого роста, даже если пересжатие не удалось.

const summaryTokenBudget = 700

type summarizer struct {
	coord    summaryGenerator
	everyN   int
	maxChars int
	logger   *zap.Logger
}

type summaryGenerator interface {
	Summarize(ctx context.Context, req models.GenerationRequest) (string, error)
}

func newSummarizer(coord summaryGenerator, everyN, maxChars int, logger *zap.Logger) *summarizer {
	if everyN < 1 {
		everyN = 1
	}
	return &summarizer{
		coord:    coord,
		everyN:   everyN,
		maxChars: maxChars,
		logger:   logger.Named("Summarizer"),
	}
}

// roll добавляет обновление к сводке и при необходимости пересжимает ее.
// Никогда не возвращает ошибку: при провале пересжатия сводка просто
// усекается до границы.
func (s *summarizer) roll(ctx context.Context, current, update string, turnNumber int) string {
	merged := normalizeSummary(current, update)

	if turnNumber%s.everyN == 0 && turnNumber > 0 {
		compressed, err := s.coord.Summarize(ctx, models.GenerationRequest{
			Prompt:        SummarizePrompt(merged, s.maxChars),
			SystemMessage: "You are a precise story summarizer for a children's storytelling service.",
			MaxTokens:     400,
			Temperature:   0.2,
		})
		if err != nil {
			s.logger.Warn("Summary recompression failed, truncating instead",
				zap.Int("turn_number", turnNumber), zap.Error(err))
		} else if compressed != "" {
			merged = compressed
		}
	}

	return s.bound(merged)
}

// bound обрезает сводку до лимитов по символам и токенам.
func (s *summarizer) bound(summary string) string {
	summary = strings.TrimSpace(summary)
	if utf8.RuneCountInString(summary) > s.maxChars {
		summary = truncateAtSentence(summary, s.maxChars)
	}
	if tokens := countTokens(summary); tokens > summaryTokenBudget {
		// Грубое приближение: символов на токен в среднем больше одного.
		ratio := float64(summaryTokenBudget) / float64(tokens)
		limit := int(float64(utf8.RuneCountInString(summary)) * ratio)
		summary = truncateAtSentence(summary, limit)
	}
	return summary
}

// truncateAtSentence усекает текст до limit рун, по возможности по границе
// предложения. Хвост истории важнее начала, поэтому режем спереди.
func truncateAtSentence(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	tail := string(runes[len(runes)-limit:])
	if idx := strings.IndexAny(tail, ".!"); idx >= 0 && idx+1 < len(tail) {
		return strings.TrimSpace(tail[idx+1:])
	}
	return strings.TrimSpace(tail)
}

func countTokens(text string) int {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0
	}
	return len(tke.Encode(text, nil, nil))
}
