package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	pgxV5 "github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"storyquest-server/internal/models"
)

const (
	createSessionQuery = `
        INSERT INTO sessions (id, player_name, age_range, theme, story_summary, turn_number, max_turns, is_active, is_finished, created_at, last_activity)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
    `
	getSessionByIDQuery = `
        SELECT id, player_name, age_range, theme, story_summary, turn_number, max_turns, is_active, is_finished, created_at, last_activity
        FROM sessions
        WHERE id = $1
    `
	// Оптимистичная блокировка: строка меняется только если turn_number
	// все еще равен ожидаемому. Конкурирующий ход не пройдет.
	updateSessionAfterTurnQuery = `
        UPDATE sessions
        SET story_summary = $1,
            turn_number   = $2,
            is_finished   = $3,
            is_active     = $4,
            last_activity = NOW()
        WHERE id = $5 AND turn_number = $6
    `
	deactivateSessionQuery = `
        UPDATE sessions SET is_active = FALSE, last_activity = NOW() WHERE id = $1
    `
	deactivateStaleSessionsQuery = `
        UPDATE sessions SET is_active = FALSE
        WHERE is_active = TRUE AND is_finished = FALSE AND last_activity < $1
    `
	countSessionStatsQuery = `
        SELECT COUNT(*)                                          AS total,
               COUNT(*) FILTER (WHERE is_active)                 AS active,
               COUNT(*) FILTER (WHERE is_finished)               AS finished
        FROM sessions
    `
)

type pgSessionRepository struct {
	logger *zap.Logger
}

// NewPgSessionRepository создает репозиторий сессий.
func NewPgSessionRepository(logger *zap.Logger) SessionRepository {
	return &pgSessionRepository{
		logger: logger.Named("SessionRepo"),
	}
}

var _ SessionRepository = (*pgSessionRepository)(nil)

func (r *pgSessionRepository) Create(ctx context.Context, querier Querier, session *models.Session) error {
	log := r.logger.With(zap.String("session_id", session.ID.String()))

	_, err := querier.Exec(ctx, createSessionQuery,
		session.ID, session.PlayerName, session.AgeRange, session.Theme,
		session.StorySummary, session.TurnNumber, session.MaxTurns,
		session.IsActive, session.IsFinished,
	)
	if err != nil {
		log.Error("Error creating session", zap.Error(err))
		return fmt.Errorf("failed to create session %s: %w", session.ID, err)
	}
	log.Info("Session created")
	return nil
}

func (r *pgSessionRepository) GetByID(ctx context.Context, querier Querier, id uuid.UUID) (*models.Session, error) {
	log := r.logger.With(zap.String("session_id", id.String()))

	var session models.Session
	err := pgxscan.Get(ctx, querier, &session, getSessionByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgxV5.ErrNoRows) {
			log.Warn("Session not found")
			return nil, models.ErrSessionNotFound
		}
		log.Error("Error getting session by ID", zap.Error(err))
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &session, nil
}

func (r *pgSessionRepository) UpdateAfterTurn(ctx context.Context, querier Querier, session *models.Session, expectedTurn int) error {
	log := r.logger.With(
		zap.String("session_id", session.ID.String()),
		zap.Int("expected_turn", expectedTurn),
		zap.Int("new_turn", session.TurnNumber),
	)

	commandTag, err := querier.Exec(ctx, updateSessionAfterTurnQuery,
		session.StorySummary, session.TurnNumber, session.IsFinished, session.IsActive,
		session.ID, expectedTurn,
	)
	if err != nil {
		log.Error("Error updating session after turn", zap.Error(err))
		return fmt.Errorf("failed to update session %s after turn: %w", session.ID, err)
	}
	if commandTag.RowsAffected() == 0 {
		// Либо сессии нет, либо кто-то успел сделать ход раньше.
		log.Warn("Session update rejected: turn number mismatch")
		return models.ErrStaleChoice
	}
	log.Debug("Session updated after turn")
	return nil
}

func (r *pgSessionRepository) Deactivate(ctx context.Context, querier Querier, id uuid.UUID) error {
	log := r.logger.With(zap.String("session_id", id.String()))

	commandTag, err := querier.Exec(ctx, deactivateSessionQuery, id)
	if err != nil {
		log.Error("Error deactivating session", zap.Error(err))
		return fmt.Errorf("failed to deactivate session %s: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	log.Info("Session deactivated")
	return nil
}

func (r *pgSessionRepository) DeactivateStale(ctx context.Context, querier Querier, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl)
	commandTag, err := querier.Exec(ctx, deactivateStaleSessionsQuery, cutoff)
	if err != nil {
		r.logger.Error("Error deactivating stale sessions", zap.Error(err))
		return 0, fmt.Errorf("failed to deactivate stale sessions: %w", err)
	}
	n := commandTag.RowsAffected()
	if n > 0 {
		r.logger.Info("Stale sessions deactivated", zap.Int64("count", n))
	}
	return n, nil
}

func (r *pgSessionRepository) CountStats(ctx context.Context, querier Querier) (total, active, finished int64, err error) {
	row := querier.QueryRow(ctx, countSessionStatsQuery)
	if err = row.Scan(&total, &active, &finished); err != nil {
		r.logger.Error("Error counting session stats", zap.Error(err))
		return 0, 0, 0, fmt.Errorf("failed to count session stats: %w", err)
	}
	return total, active, finished, nil
}
