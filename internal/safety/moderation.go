package safety

import (
	"context"
	"strings"
	"time"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ModerationChecker — опциональная проверка текста через OpenAI Moderations.
// При ошибке API проверка пропускается (fail open): недоступность модерации
// не должна останавливать игру, локальные фильтры остаются обязательными.
type ModerationChecker struct {
	client  *openaigo.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewModerationChecker создает клиента модерации. apiKey обязателен.
func NewModerationChecker(apiKey string, logger *zap.Logger) *ModerationChecker {
	return &ModerationChecker{
		client:  openaigo.NewClient(apiKey),
		timeout: 10 * time.Second,
		logger:  logger.Named("ModerationChecker"),
	}
}

// Check возвращает (true, "") если текст безопасен или API недоступен.
// При флаге — false и список категорий.
func (m *ModerationChecker) Check(ctx context.Context, text string) (bool, string) {
	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := m.client.Moderations(checkCtx, openaigo.ModerationRequest{
		Input: text,
	})
	if err != nil {
		m.logger.Error("Moderation API check failed, failing open", zap.Error(err))
		return true, ""
	}
	if len(resp.Results) == 0 || !resp.Results[0].Flagged {
		return true, ""
	}

	flagged := flaggedCategories(resp.Results[0].Categories)
	m.logger.Warn("Content flagged by moderation API", zap.Strings("categories", flagged))
	return false, "Flagged categories: " + strings.Join(flagged, ", ")
}

func flaggedCategories(c openaigo.ResultCategories) []string {
	var out []string
	if c.Hate {
		out = append(out, "hate")
	}
	if c.HateThreatening {
		out = append(out, "hate/threatening")
	}
	if c.Harassment {
		out = append(out, "harassment")
	}
	if c.HarassmentThreatening {
		out = append(out, "harassment/threatening")
	}
	if c.SelfHarm {
		out = append(out, "self-harm")
	}
	if c.Sexual {
		out = append(out, "sexual")
	}
	if c.SexualMinors {
		out = append(out, "sexual/minors")
	}
	if c.Violence {
		out = append(out, "violence")
	}
	if c.ViolenceGraphic {
		out = append(out, "violence/graphic")
	}
	return out
}
