package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyquest-server/internal/models"
)

// releaseLockScript снимает блокировку только если токен совпадает:
// чужую блокировку (например, после истечения TTL и перезахвата) не трогаем.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionLocker — взаимное исключение ходов одной сессии: SET NX с TTL.
// Одновременные запросы к одной сессии получают ErrSessionBusy, а не
// чередуют ходы.
type SessionLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewSessionLocker создает локер. ttl должен покрывать самый долгий ход
// (end-to-end таймаут запроса).
func NewSessionLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SessionLocker {
	return &SessionLocker{
		client: client,
		ttl:    ttl,
		logger: logger.Named("SessionLocker"),
	}
}

// Acquire пытается захватить блокировку сессии. Возвращает токен для Release.
// Если сессия уже обрабатывается — models.ErrSessionBusy.
func (s *SessionLocker) Acquire(ctx context.Context, sessionID string) (string, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, s.lockKey(sessionID), token, s.ttl).Result()
	if err != nil {
		s.logger.Error("Failed to acquire session lock", zap.String("session_id", sessionID), zap.Error(err))
		return "", fmt.Errorf("failed to acquire session lock: %w", err)
	}
	if !ok {
		return "", models.ErrSessionBusy
	}
	return token, nil
}

// Release снимает блокировку, если она все еще наша.
func (s *SessionLocker) Release(ctx context.Context, sessionID, token string) {
	if _, err := releaseLockScript.Run(ctx, s.client, []string{s.lockKey(sessionID)}, token).Result(); err != nil {
		s.logger.Warn("Failed to release session lock",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *SessionLocker) lockKey(sessionID string) string {
	return "lock:session:" + sessionID
}
