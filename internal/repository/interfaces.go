package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"storyquest-server/internal/models"
)

// Querier — общий интерфейс для *pgxpool.Pool и pgx.Tx, чтобы методы
// репозиториев работали как в транзакции, так и вне ее.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SessionRepository управляет записями игровых сессий.
type SessionRepository interface {
	Create(ctx context.Context, querier Querier, session *models.Session) error
	GetByID(ctx context.Context, querier Querier, id uuid.UUID) (*models.Session, error)
	// UpdateAfterTurn применяет результат хода с оптимистичной проверкой:
	// строка обновляется только если turn_number равен expectedTurn.
	// При несовпадении возвращает models.ErrStaleChoice.
	UpdateAfterTurn(ctx context.Context, querier Querier, session *models.Session, expectedTurn int) error
	// Deactivate помечает сессию неактивной (сброс или abandon).
	Deactivate(ctx context.Context, querier Querier, id uuid.UUID) error
	// DeactivateStale помечает неактивными сессии без активности дольше ttl.
	DeactivateStale(ctx context.Context, querier Querier, ttl time.Duration) (int64, error)
	CountStats(ctx context.Context, querier Querier) (total, active, finished int64, err error)
}

// TurnRepository управляет неизменяемыми записями ходов.
type TurnRepository interface {
	Create(ctx context.Context, querier Querier, turn *models.Turn) error
	ListBySession(ctx context.Context, querier Querier, sessionID uuid.UUID) ([]models.Turn, error)
	CountAll(ctx context.Context, querier Querier) (int64, error)
}

// ViolationRepository хранит зафиксированные нарушения контентной политики.
type ViolationRepository interface {
	Create(ctx context.Context, querier Querier, v *models.SafetyViolation) error
	ListRecent(ctx context.Context, querier Querier, limit int) ([]models.SafetyViolation, error)
	CountByCategory(ctx context.Context, querier Querier, since time.Time) ([]models.ViolationCount, error)
}
