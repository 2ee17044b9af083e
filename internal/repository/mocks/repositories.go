package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"storyquest-server/internal/models"
	"storyquest-server/internal/repository"
)

// Mock SessionRepository
type SessionRepository struct {
	mock.Mock
}

func (m *SessionRepository) Create(ctx context.Context, querier repository.Querier, session *models.Session) error {
	args := m.Called(ctx, querier, session)
	return args.Error(0)
}
func (m *SessionRepository) GetByID(ctx context.Context, querier repository.Querier, id uuid.UUID) (*models.Session, error) {
	args := m.Called(ctx, querier, id)
	s, _ := args.Get(0).(*models.Session)
	return s, args.Error(1)
}
func (m *SessionRepository) UpdateAfterTurn(ctx context.Context, querier repository.Querier, session *models.Session, expectedTurn int) error {
	args := m.Called(ctx, querier, session, expectedTurn)
	return args.Error(0)
}
func (m *SessionRepository) Deactivate(ctx context.Context, querier repository.Querier, id uuid.UUID) error {
	args := m.Called(ctx, querier, id)
	return args.Error(0)
}
func (m *SessionRepository) DeactivateStale(ctx context.Context, querier repository.Querier, ttl time.Duration) (int64, error) {
	args := m.Called(ctx, querier, ttl)
	return args.Get(0).(int64), args.Error(1)
}
func (m *SessionRepository) CountStats(ctx context.Context, querier repository.Querier) (int64, int64, int64, error) {
	args := m.Called(ctx, querier)
	return args.Get(0).(int64), args.Get(1).(int64), args.Get(2).(int64), args.Error(3)
}

// Mock TurnRepository
type TurnRepository struct {
	mock.Mock
}

func (m *TurnRepository) Create(ctx context.Context, querier repository.Querier, turn *models.Turn) error {
	args := m.Called(ctx, querier, turn)
	return args.Error(0)
}
func (m *TurnRepository) ListBySession(ctx context.Context, querier repository.Querier, sessionID uuid.UUID) ([]models.Turn, error) {
	args := m.Called(ctx, querier, sessionID)
	turns, _ := args.Get(0).([]models.Turn)
	return turns, args.Error(1)
}
func (m *TurnRepository) CountAll(ctx context.Context, querier repository.Querier) (int64, error) {
	args := m.Called(ctx, querier)
	return args.Get(0).(int64), args.Error(1)
}

// Mock ViolationRepository
type ViolationRepository struct {
	mock.Mock
}

func (m *ViolationRepository) Create(ctx context.Context, querier repository.Querier, v *models.SafetyViolation) error {
	args := m.Called(ctx, querier, v)
	return args.Error(0)
}
func (m *ViolationRepository) ListRecent(ctx context.Context, querier repository.Querier, limit int) ([]models.SafetyViolation, error) {
	args := m.Called(ctx, querier, limit)
	vs, _ := args.Get(0).([]models.SafetyViolation)
	return vs, args.Error(1)
}
func (m *ViolationRepository) CountByCategory(ctx context.Context, querier repository.Querier, since time.Time) ([]models.ViolationCount, error) {
	args := m.Called(ctx, querier, since)
	counts, _ := args.Get(0).([]models.ViolationCount)
	return counts, args.Error(1)
}
