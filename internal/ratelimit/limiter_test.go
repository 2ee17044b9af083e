package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"storyquest-server/internal/config"
)

func TestLimiter_WindowMath(t *testing.T) {
	l := NewLimiter(nil, zap.NewNop())
	check := Check{Scope: ScopeCustomInput, Identity: "s1", Max: 5, Window: 600 * time.Second}

	t.Run("key is stable inside one window", func(t *testing.T) {
		base := time.Unix(6000, 0)
		assert.Equal(t, l.key(check, base), l.key(check, base.Add(599*time.Second)))
	})

	t.Run("key changes across windows", func(t *testing.T) {
		base := time.Unix(6000, 0)
		assert.NotEqual(t, l.key(check, base), l.key(check, base.Add(600*time.Second)))
	})

	t.Run("keys are scoped by identity and scope", func(t *testing.T) {
		now := time.Unix(6000, 0)
		other := check
		other.Identity = "s2"
		assert.NotEqual(t, l.key(check, now), l.key(other, now))

		other = check
		other.Scope = ScopeSessionHour
		assert.NotEqual(t, l.key(check, now), l.key(other, now))
	})

	t.Run("remaining time never exceeds the window", func(t *testing.T) {
		for _, offset := range []time.Duration{0, time.Second, 300 * time.Second, 599 * time.Second} {
			now := time.Unix(6000, 0).Add(offset)
			remaining := l.windowRemaining(check, now)
			assert.Greater(t, remaining, time.Duration(0))
			assert.LessOrEqual(t, remaining, 600*time.Second)
		}
	})
}

func TestCheckSets(t *testing.T) {
	cfg := &config.Config{
		SessionHourlyLimit:    20,
		SessionDailyLimit:     100,
		CustomInputLimit:      5,
		CustomInputWindowSecs: 600,
		IPHourlyLimit:         50,
		IPDailyLimit:          200,
		StoryStartHourlyLimit: 10,
	}

	t.Run("choice turn skips custom-input scope", func(t *testing.T) {
		checks := TurnChecks(cfg, "session-1", "10.0.0.1", false)
		assert.Len(t, checks, 4)
		for _, c := range checks {
			assert.NotEqual(t, ScopeCustomInput, c.Scope)
		}
	})

	t.Run("custom input adds tighter scope", func(t *testing.T) {
		checks := TurnChecks(cfg, "session-1", "10.0.0.1", true)
		assert.Len(t, checks, 5)
		last := checks[len(checks)-1]
		assert.Equal(t, ScopeCustomInput, last.Scope)
		assert.Equal(t, 5, last.Max)
		assert.Equal(t, 600*time.Second, last.Window)
	})

	t.Run("story start is IP-scoped", func(t *testing.T) {
		checks := StartChecks(cfg, "10.0.0.1")
		assert.Len(t, checks, 3)
		for _, c := range checks {
			assert.Equal(t, "10.0.0.1", c.Identity)
		}
	})
}
