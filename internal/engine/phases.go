package engine

import (
	"fmt"

	"storyquest-server/internal/models"
)

// Phase — фаза жизненного цикла истории.
type Phase string

const (
	PhaseInit       Phase = "INIT"
	PhaseInProgress Phase = "IN_PROGRESS"
	PhaseWrappingUp Phase = "WRAPPING_UP"
	PhaseFinished   Phase = "FINISHED"
	PhaseAbandoned  Phase = "ABANDONED"
)

// Явная таблица допустимых переходов. Проверяема без транспорта и БД.
var phaseTransitions = map[Phase][]Phase{
	PhaseInit:       {PhaseInProgress, PhaseAbandoned},
	PhaseInProgress: {PhaseInProgress, PhaseWrappingUp, PhaseAbandoned},
	PhaseWrappingUp: {PhaseWrappingUp, PhaseFinished, PhaseAbandoned},
	PhaseFinished:   {},
	PhaseAbandoned:  {},
}

// CanTransition сообщает, допустим ли переход между фазами.
func CanTransition(from, to Phase) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition валидирует переход, возвращая типизированную ошибку.
func Transition(from, to Phase) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	return nil
}

// PhaseOf выводит текущую фазу из состояния сессии. lookahead — за сколько
// ходов до лимита начинается сведение к развязке.
func PhaseOf(session *models.Session, lookahead int) Phase {
	switch {
	case session.IsFinished:
		return PhaseFinished
	case !session.IsActive:
		return PhaseAbandoned
	case session.TurnNumber == 0:
		return PhaseInit
	case session.TurnNumber >= session.MaxTurns-lookahead:
		return PhaseWrappingUp
	default:
		return PhaseInProgress
	}
}

// phaseForTurn определяет фазу, в которой будет сгенерирован ход turnNumber.
func phaseForTurn(turnNumber, maxTurns, lookahead int) Phase {
	switch {
	case turnNumber >= maxTurns:
		return PhaseFinished
	case turnNumber >= maxTurns-lookahead:
		return PhaseWrappingUp
	default:
		return PhaseInProgress
	}
}
