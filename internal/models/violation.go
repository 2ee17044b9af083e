package models

import (
	"time"

	"github.com/google/uuid"
)

// ViolationCategory — категория нарушения контентной политики.
type ViolationCategory string

const (
	ViolationBannedWord       ViolationCategory = "banned_word"
	ViolationPattern          ViolationCategory = "inappropriate_pattern"
	ViolationNegativeTone     ViolationCategory = "negative_sentiment"
	ViolationModerationAPI    ViolationCategory = "moderation_api"
	ViolationAgeInappropriate ViolationCategory = "age_inappropriate"
	ViolationOpenEnding       ViolationCategory = "open_ending"
)

// ViolationSeverity — серьезность нарушения.
type ViolationSeverity string

const (
	SeverityLow    ViolationSeverity = "low"
	SeverityMedium ViolationSeverity = "medium"
	SeverityHigh   ViolationSeverity = "high"
)

// SafetyViolation — зафиксированное нарушение. Всегда персистится для
// админ-мониторинга, никогда не отбрасывается молча.
// Snippet хранит усеченный фрагмент текста; полный текст не сохраняем.
type SafetyViolation struct {
	ID         uuid.UUID         `db:"id" json:"id"`
	SessionID  uuid.UUID         `db:"session_id" json:"session_id"`
	TurnNumber int               `db:"turn_number" json:"turn_number"`
	Category   ViolationCategory `db:"category" json:"category"`
	Severity   ViolationSeverity `db:"severity" json:"severity"`
	Snippet    string            `db:"snippet" json:"snippet"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
}

const violationSnippetLimit = 80

// RedactSnippet усекает текст до безопасной для хранения длины.
func RedactSnippet(text string) string {
	runes := []rune(text)
	if len(runes) <= violationSnippetLimit {
		return text
	}
	return string(runes[:violationSnippetLimit]) + "…"
}
