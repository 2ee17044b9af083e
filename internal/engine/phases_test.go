package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"storyquest-server/internal/models"
)

func TestPhaseTransitions(t *testing.T) {
	cases := []struct {
		from, to Phase
		allowed  bool
	}{
		{PhaseInit, PhaseInProgress, true},
		{PhaseInit, PhaseAbandoned, true},
		{PhaseInit, PhaseFinished, false},
		{PhaseInProgress, PhaseInProgress, true},
		{PhaseInProgress, PhaseWrappingUp, true},
		{PhaseInProgress, PhaseFinished, false},
		{PhaseWrappingUp, PhaseFinished, true},
		{PhaseWrappingUp, PhaseInProgress, false},
		{PhaseFinished, PhaseInProgress, false},
		{PhaseFinished, PhaseAbandoned, false},
		{PhaseAbandoned, PhaseInProgress, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
		err := Transition(tc.from, tc.to)
		if tc.allowed {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, models.ErrInvalidTransition)
		}
	}
}

func TestPhaseOf(t *testing.T) {
	session := &models.Session{IsActive: true, TurnNumber: 0, MaxTurns: 15}
	assert.Equal(t, PhaseInit, PhaseOf(session, 3))

	session.TurnNumber = 5
	assert.Equal(t, PhaseInProgress, PhaseOf(session, 3))

	session.TurnNumber = 12
	assert.Equal(t, PhaseWrappingUp, PhaseOf(session, 3))

	session.IsFinished = true
	assert.Equal(t, PhaseFinished, PhaseOf(session, 3))

	session.IsFinished = false
	session.IsActive = false
	assert.Equal(t, PhaseAbandoned, PhaseOf(session, 3))
}

func TestPhaseForTurn(t *testing.T) {
	// maxTurns=15, lookahead=3: ходы 1..11 обычные, 12..14 сведение,
	// 15 — финал.
	assert.Equal(t, PhaseInProgress, phaseForTurn(1, 15, 3))
	assert.Equal(t, PhaseInProgress, phaseForTurn(11, 15, 3))
	assert.Equal(t, PhaseWrappingUp, phaseForTurn(12, 15, 3))
	assert.Equal(t, PhaseWrappingUp, phaseForTurn(14, 15, 3))
	assert.Equal(t, PhaseFinished, phaseForTurn(15, 15, 3))
}
