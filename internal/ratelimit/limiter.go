package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyquest-server/internal/config"
)

// Scope — независимое измерение лимитирования.
type Scope string

const (
	ScopeSessionHour Scope = "session_hour"
	ScopeSessionDay  Scope = "session_day"
	ScopeIPHour      Scope = "ip_hour"
	ScopeIPDay       Scope = "ip_day"
	ScopeCustomInput Scope = "custom_input"
	ScopeStoryStart  Scope = "story_start"
)

// Check — одна проверка: скоуп, идентичность и лимит на окно.
type Check struct {
	Scope    Scope
	Identity string
	Max      int
	Window   time.Duration
}

// Decision — итог проверки всех скоупов.
// RetryAfter заполняется только при отказе: максимум остатка окна среди всех
// нарушенных скоупов.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Violated   []Scope
}

// Limiter — лимитер с фиксированными окнами в Redis. Счетчик ключа
// (скоуп, идентичность, номер окна) инкрементируется атомарно, поэтому
// безопасен при параллельных воркерах.
type Limiter struct {
	client *redis.Client
	logger *zap.Logger

	// now подменяется в тестах.
	now func() time.Time
}

// NewLimiter создает лимитер поверх существующего клиента Redis.
func NewLimiter(client *redis.Client, logger *zap.Logger) *Limiter {
	return &Limiter{
		client: client,
		logger: logger.Named("RateLimiter"),
		now:    time.Now,
	}
}

// Allow прогоняет все проверки. Скоупы не закорачиваются: каждая проверка
// инкрементирует свой счетчик, а retry_after считается как максимум по всем
// нарушенным окнам. При недоступности Redis запрос пропускается (fail open),
// ошибка логируется.
func (l *Limiter) Allow(ctx context.Context, checks []Check) Decision {
	decision := Decision{Allowed: true}
	now := l.now()

	pipe := l.client.Pipeline()
	incrs := make([]*redis.IntCmd, len(checks))
	for i, c := range checks {
		key := l.key(c, now)
		incrs[i] = pipe.Incr(ctx, key)
		// NX: срок жизни выставляет только первый инкремент окна.
		pipe.ExpireNX(ctx, key, c.Window)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Error("Rate limit check failed, failing open", zap.Error(err))
		return decision
	}

	for i, c := range checks {
		count := incrs[i].Val()
		if count <= int64(c.Max) {
			continue
		}
		decision.Allowed = false
		decision.Violated = append(decision.Violated, c.Scope)
		if remaining := l.windowRemaining(c, now); remaining > decision.RetryAfter {
			decision.RetryAfter = remaining
		}
		l.logger.Warn("Rate limit exceeded",
			zap.String("scope", string(c.Scope)),
			zap.String("identity", c.Identity),
			zap.Int64("count", count),
			zap.Int("max", c.Max))
	}
	return decision
}

func (l *Limiter) key(c Check, now time.Time) string {
	bucket := now.Unix() / int64(c.Window.Seconds())
	return fmt.Sprintf("rl:%s:%s:%d", c.Scope, c.Identity, bucket)
}

// windowRemaining — время до конца текущего окна.
func (l *Limiter) windowRemaining(c Check, now time.Time) time.Duration {
	windowSecs := int64(c.Window.Seconds())
	bucket := now.Unix() / windowSecs
	windowEnd := time.Unix((bucket+1)*windowSecs, 0)
	return windowEnd.Sub(now)
}

// TurnChecks — набор проверок для хода истории.
func TurnChecks(cfg *config.Config, sessionID, ip string, customInput bool) []Check {
	checks := []Check{
		{Scope: ScopeSessionHour, Identity: sessionID, Max: cfg.SessionHourlyLimit, Window: time.Hour},
		{Scope: ScopeSessionDay, Identity: sessionID, Max: cfg.SessionDailyLimit, Window: 24 * time.Hour},
		{Scope: ScopeIPHour, Identity: ip, Max: cfg.IPHourlyLimit, Window: time.Hour},
		{Scope: ScopeIPDay, Identity: ip, Max: cfg.IPDailyLimit, Window: 24 * time.Hour},
	}
	if customInput {
		checks = append(checks, Check{
			Scope:    ScopeCustomInput,
			Identity: sessionID,
			Max:      cfg.CustomInputLimit,
			Window:   time.Duration(cfg.CustomInputWindowSecs) * time.Second,
		})
	}
	return checks
}

// StartChecks — набор проверок для создания новой истории.
func StartChecks(cfg *config.Config, ip string) []Check {
	return []Check{
		{Scope: ScopeIPHour, Identity: ip, Max: cfg.IPHourlyLimit, Window: time.Hour},
		{Scope: ScopeIPDay, Identity: ip, Max: cfg.IPDailyLimit, Window: 24 * time.Hour},
		{Scope: ScopeStoryStart, Identity: ip, Max: cfg.StoryStartHourlyLimit, Window: time.Hour},
	}
}
