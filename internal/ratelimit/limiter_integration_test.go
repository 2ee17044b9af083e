//go:build integration

package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"storyquest-server/internal/models"
)

type LimiterIntegrationSuite struct {
	suite.Suite
	ctx         context.Context
	rdContainer *tcredis.RedisContainer
	redisClient *redis.Client
}

func TestLimiterIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(LimiterIntegrationSuite))
}

func (s *LimiterIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error

	s.rdContainer, err = tcredis.Run(s.ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(1*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start redis container")

	redisHost, err := s.rdContainer.Host(s.ctx)
	require.NoError(s.T(), err)
	redisPort, err := s.rdContainer.MappedPort(s.ctx, "6379/tcp")
	require.NoError(s.T(), err)

	s.redisClient = redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	_, err = s.redisClient.Ping(s.ctx).Result()
	require.NoError(s.T(), err, "Failed to connect to test redis")
}

func (s *LimiterIntegrationSuite) TearDownSuite() {
	if s.redisClient != nil {
		_ = s.redisClient.Close()
	}
	if s.rdContainer != nil {
		_ = s.rdContainer.Terminate(s.ctx)
	}
}

func (s *LimiterIntegrationSuite) SetupTest() {
	require.NoError(s.T(), s.redisClient.FlushAll(s.ctx).Err())
}

// Лимит 5 на 600 секунд: шестой запрос отклоняется с 0 < retry_after <= 600.
func (s *LimiterIntegrationSuite) TestSixthRequestRejected() {
	limiter := NewLimiter(s.redisClient, zap.NewNop())
	checks := []Check{{Scope: ScopeCustomInput, Identity: "session-a", Max: 5, Window: 600 * time.Second}}

	for i := 0; i < 5; i++ {
		decision := limiter.Allow(s.ctx, checks)
		s.Require().True(decision.Allowed, "request %d should be allowed", i+1)
	}

	decision := limiter.Allow(s.ctx, checks)
	s.Require().False(decision.Allowed)
	s.Assert().Contains(decision.Violated, ScopeCustomInput)
	s.Assert().Greater(decision.RetryAfter, time.Duration(0))
	s.Assert().LessOrEqual(decision.RetryAfter, 600*time.Second)
}

// retry_after — максимум остатка окна среди всех нарушенных скоупов.
func (s *LimiterIntegrationSuite) TestRetryAfterIsMaxAcrossScopes() {
	limiter := NewLimiter(s.redisClient, zap.NewNop())
	checks := []Check{
		{Scope: ScopeCustomInput, Identity: "session-b", Max: 1, Window: 10 * time.Second},
		{Scope: ScopeSessionHour, Identity: "session-b", Max: 1, Window: time.Hour},
	}

	s.Require().True(limiter.Allow(s.ctx, checks).Allowed)

	decision := limiter.Allow(s.ctx, checks)
	s.Require().False(decision.Allowed)
	s.Assert().Len(decision.Violated, 2)
	// Остаток часового окна заведомо больше остатка десятисекундного.
	s.Assert().Greater(decision.RetryAfter, 10*time.Second)
}

// Независимые идентичности не влияют друг на друга.
func (s *LimiterIntegrationSuite) TestIdentitiesAreIsolated() {
	limiter := NewLimiter(s.redisClient, zap.NewNop())
	limitOne := func(id string) []Check {
		return []Check{{Scope: ScopeStoryStart, Identity: id, Max: 1, Window: time.Hour}}
	}

	s.Require().True(limiter.Allow(s.ctx, limitOne("ip-1")).Allowed)
	s.Require().False(limiter.Allow(s.ctx, limitOne("ip-1")).Allowed)
	s.Require().True(limiter.Allow(s.ctx, limitOne("ip-2")).Allowed)
}

func (s *LimiterIntegrationSuite) TestSessionLockMutualExclusion() {
	locker := NewSessionLocker(s.redisClient, time.Minute, zap.NewNop())

	token, err := locker.Acquire(s.ctx, "session-c")
	s.Require().NoError(err)
	s.Require().NotEmpty(token)

	_, err = locker.Acquire(s.ctx, "session-c")
	s.Require().ErrorIs(err, models.ErrSessionBusy)

	locker.Release(s.ctx, "session-c", token)

	token2, err := locker.Acquire(s.ctx, "session-c")
	s.Require().NoError(err)
	s.Require().NotEqual(token, token2)
}

func (s *LimiterIntegrationSuite) TestReleaseWithWrongTokenKeepsLock() {
	locker := NewSessionLocker(s.redisClient, time.Minute, zap.NewNop())

	token, err := locker.Acquire(s.ctx, "session-d")
	s.Require().NoError(err)

	locker.Release(s.ctx, "session-d", "not-the-token")

	_, err = locker.Acquire(s.ctx, "session-d")
	s.Require().ErrorIs(err, models.ErrSessionBusy)

	locker.Release(s.ctx, "session-d", token)
}
