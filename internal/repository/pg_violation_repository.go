package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	pgxV5 "github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"storyquest-server/internal/models"
)

const (
	createViolationQuery = `
        INSERT INTO safety_violations (id, session_id, turn_number, category, severity, snippet, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
    `
	listRecentViolationsQuery = `
        SELECT id, session_id, turn_number, category, severity, snippet, created_at
        FROM safety_violations
        ORDER BY created_at DESC
        LIMIT $1
    `
	countViolationsByCategoryQuery = `
        SELECT category, COUNT(*) AS count
        FROM safety_violations
        WHERE created_at >= $1
        GROUP BY category
        ORDER BY count DESC
    `
)

type pgViolationRepository struct {
	logger *zap.Logger
}

// NewPgViolationRepository создает репозиторий нарушений.
func NewPgViolationRepository(logger *zap.Logger) ViolationRepository {
	return &pgViolationRepository{
		logger: logger.Named("ViolationRepo"),
	}
}

var _ ViolationRepository = (*pgViolationRepository)(nil)

func (r *pgViolationRepository) Create(ctx context.Context, querier Querier, v *models.SafetyViolation) error {
	log := r.logger.With(
		zap.String("session_id", v.SessionID.String()),
		zap.String("category", string(v.Category)),
	)

	_, err := querier.Exec(ctx, createViolationQuery,
		v.ID, v.SessionID, v.TurnNumber, v.Category, v.Severity, v.Snippet,
	)
	if err != nil {
		log.Error("Error creating safety violation record", zap.Error(err))
		return fmt.Errorf("failed to create safety violation: %w", err)
	}
	log.Info("Safety violation recorded", zap.String("severity", string(v.Severity)))
	return nil
}

func (r *pgViolationRepository) ListRecent(ctx context.Context, querier Querier, limit int) ([]models.SafetyViolation, error) {
	var violations []models.SafetyViolation
	err := pgxscan.Select(ctx, querier, &violations, listRecentViolationsQuery, limit)
	if err != nil {
		if errors.Is(err, pgxV5.ErrNoRows) {
			return []models.SafetyViolation{}, nil
		}
		r.logger.Error("Error listing recent violations", zap.Error(err))
		return nil, fmt.Errorf("failed to list recent violations: %w", err)
	}
	return violations, nil
}

func (r *pgViolationRepository) CountByCategory(ctx context.Context, querier Querier, since time.Time) ([]models.ViolationCount, error) {
	var counts []models.ViolationCount
	err := pgxscan.Select(ctx, querier, &counts, countViolationsByCategoryQuery, since)
	if err != nil {
		if errors.Is(err, pgxV5.ErrNoRows) {
			return []models.ViolationCount{}, nil
		}
		r.logger.Error("Error counting violations by category", zap.Error(err))
		return nil, fmt.Errorf("failed to count violations by category: %w", err)
	}
	return counts, nil
}
