package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	pgxV5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"storyquest-server/internal/models"
)

const (
	createTurnQuery = `
        INSERT INTO story_turns (id, session_id, turn_number, scene_id, scene_text, player_choice, custom_input, story_summary, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
    `
	listTurnsBySessionQuery = `
        SELECT id, session_id, turn_number, scene_id, scene_text, player_choice, custom_input, story_summary, created_at
        FROM story_turns
        WHERE session_id = $1
        ORDER BY turn_number ASC
    `
	countAllTurnsQuery = `SELECT COUNT(*) FROM story_turns`
)

// Код уникального ограничения PostgreSQL.
const uniqueViolationCode = "23505"

type pgTurnRepository struct {
	logger *zap.Logger
}

// NewPgTurnRepository создает репозиторий ходов.
func NewPgTurnRepository(logger *zap.Logger) TurnRepository {
	return &pgTurnRepository{
		logger: logger.Named("TurnRepo"),
	}
}

var _ TurnRepository = (*pgTurnRepository)(nil)

func (r *pgTurnRepository) Create(ctx context.Context, querier Querier, turn *models.Turn) error {
	log := r.logger.With(
		zap.String("session_id", turn.SessionID.String()),
		zap.Int("turn_number", turn.TurnNumber),
	)

	_, err := querier.Exec(ctx, createTurnQuery,
		turn.ID, turn.SessionID, turn.TurnNumber, turn.SceneID,
		turn.SceneText, turn.PlayerChoice, turn.CustomInput, turn.StorySummary,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			// Дубликат (session_id, turn_number): параллельный ход уже записан.
			log.Warn("Duplicate turn rejected by unique constraint")
			return models.ErrStaleChoice
		}
		log.Error("Error creating turn", zap.Error(err))
		return fmt.Errorf("failed to create turn %d for session %s: %w", turn.TurnNumber, turn.SessionID, err)
	}
	log.Debug("Turn created")
	return nil
}

func (r *pgTurnRepository) ListBySession(ctx context.Context, querier Querier, sessionID uuid.UUID) ([]models.Turn, error) {
	var turns []models.Turn
	err := pgxscan.Select(ctx, querier, &turns, listTurnsBySessionQuery, sessionID)
	if err != nil {
		if errors.Is(err, pgxV5.ErrNoRows) {
			return []models.Turn{}, nil
		}
		r.logger.Error("Error listing turns", zap.String("session_id", sessionID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to list turns for session %s: %w", sessionID, err)
	}
	return turns, nil
}

func (r *pgTurnRepository) CountAll(ctx context.Context, querier Querier) (int64, error) {
	var count int64
	if err := querier.QueryRow(ctx, countAllTurnsQuery).Scan(&count); err != nil {
		r.logger.Error("Error counting turns", zap.Error(err))
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return count, nil
}
