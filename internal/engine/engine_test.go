package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyquest-server/internal/config"
	"storyquest-server/internal/models"
	"storyquest-server/internal/provider"
	"storyquest-server/internal/ratelimit"
	"storyquest-server/internal/repository/mocks"
	"storyquest-server/internal/safety"
)

// --- Фейки инфраструктуры ---

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(_ context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	tx *fakeTx
}

func (d *fakeDB) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (d *fakeDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) { return nil, nil }
func (d *fakeDB) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row       { return nil }
func (d *fakeDB) Begin(_ context.Context) (pgx.Tx, error) {
	d.tx = &fakeTx{}
	return d.tx, nil
}

type fakeLimiter struct {
	decision   ratelimit.Decision
	lastChecks []ratelimit.Check
}

func (f *fakeLimiter) Allow(_ context.Context, checks []ratelimit.Check) ratelimit.Decision {
	f.lastChecks = checks
	return f.decision
}

type fakeLocker struct {
	busy     bool
	acquired int
	released int
}

func (f *fakeLocker) Acquire(_ context.Context, _ string) (string, error) {
	if f.busy {
		return "", models.ErrSessionBusy
	}
	f.acquired++
	return "token", nil
}

func (f *fakeLocker) Release(_ context.Context, _, _ string) { f.released++ }

// fakeCoordinator прогоняет валидатор как настоящий координатор: при отказе
// отдает шаблонный фолбэк вместо ошибки.
type fakeCoordinator struct {
	gen       *models.StoryGeneration
	err       error
	calls     int
	lastReq   models.GenerationRequest
	rejected  int
	summarize func(req models.GenerationRequest) (string, error)
}

func (f *fakeCoordinator) Generate(ctx context.Context, req models.GenerationRequest, validate provider.ValidateFunc) (*models.StoryGeneration, bool, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, false, f.err
	}
	if validate != nil {
		if err := validate(ctx, f.gen); err != nil {
			f.rejected++
			if req.Ending {
				return safety.FallbackEnding(req.Theme, req.PlayerName), true, nil
			}
			return safety.FallbackScene(req.Theme), true, nil
		}
	}
	return f.gen, false, nil
}

func (f *fakeCoordinator) GenerateStream(ctx context.Context, req models.GenerationRequest, _ func(string) error, validate provider.ValidateFunc) (*models.StoryGeneration, bool, error) {
	return f.Generate(ctx, req, validate)
}

func (f *fakeCoordinator) Summarize(_ context.Context, req models.GenerationRequest) (string, error) {
	if f.summarize != nil {
		return f.summarize(req)
	}
	return "", models.ErrAllProvidersExhausted
}

// --- Сборка движка для тестов ---

type engineFixture struct {
	engine     *Engine
	db         *fakeDB
	sessions   *mocks.SessionRepository
	turns      *mocks.TurnRepository
	violations *mocks.ViolationRepository
	coord      *fakeCoordinator
	limiter    *fakeLimiter
	locker     *fakeLocker
}

func testConfig() *config.Config {
	return &config.Config{
		AIMaxTokens:           500,
		AITemperature:         0.8,
		RequestTimeout:        time.Minute,
		MaxTurns:              10,
		WrapUpLookahead:       2,
		SummaryEveryN:         100,
		SummaryMaxChars:       1500,
		SessionHourlyLimit:    20,
		SessionDailyLimit:     100,
		CustomInputLimit:      5,
		CustomInputWindowSecs: 600,
		IPHourlyLimit:         50,
		IPDailyLimit:          200,
		StoryStartHourlyLimit: 10,
	}
}

func safeGeneration() *models.StoryGeneration {
	return &models.StoryGeneration{
		SceneText:     "Mia discovered a glowing path winding through the friendly forest.",
		Choices:       []string{"Follow the path", "Climb the big oak", "Call out a hello"},
		SummaryUpdate: "Mia found a glowing path.",
	}
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		db:         &fakeDB{},
		sessions:   new(mocks.SessionRepository),
		turns:      new(mocks.TurnRepository),
		violations: new(mocks.ViolationRepository),
		coord:      &fakeCoordinator{gen: safeGeneration()},
		limiter:    &fakeLimiter{decision: ratelimit.Decision{Allowed: true}},
		locker:     &fakeLocker{},
	}
	f.engine = NewEngine(
		f.db, f.sessions, f.turns, f.violations, f.coord,
		safety.NewFilter(nil, zap.NewNop()),
		f.limiter, f.locker, testConfig(), zap.NewNop(),
	)
	return f
}

func activeSession(turn int) *models.Session {
	return &models.Session{
		ID:           uuid.New(),
		PlayerName:   "Mia",
		AgeRange:     "6-8",
		Theme:        "magical_forest",
		StorySummary: "Mia entered the forest.",
		TurnNumber:   turn,
		MaxTurns:     10,
		IsActive:     true,
	}
}

// --- StartStory ---

func TestStartStory_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.sessions.On("Create", mock.Anything, mock.Anything, mock.AnythingOfType("*models.Session")).Return(nil)
	f.turns.On("Create", mock.Anything, mock.Anything, mock.AnythingOfType("*models.Turn")).Return(nil)

	resp, err := f.engine.StartStory(context.Background(), &models.StartStoryRequest{
		PlayerName: "Mia",
		AgeRange:   "6-8",
		Theme:      "space_adventure",
	}, "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Metadata.Turns)
	assert.False(t, resp.Metadata.IsFinished)
	assert.Len(t, resp.Choices, 3)
	assert.Equal(t, "c1", resp.Choices[0].ChoiceID)
	assert.Equal(t, "scene_"+resp.SessionID.String()+"_1", resp.CurrentScene.SceneID)
	assert.Contains(t, f.coord.lastReq.Prompt, "Mia")
	assert.True(t, f.db.tx.committed)
	f.sessions.AssertExpectations(t)
	f.turns.AssertExpectations(t)
	// Первый ход создает сессию, оптимистичное обновление не нужно.
	f.sessions.AssertNotCalled(t, "UpdateAfterTurn", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStartStory_RequiresPlayerName(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.StartStory(context.Background(), &models.StartStoryRequest{}, "10.0.0.1")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.Zero(t, f.coord.calls)
}

func TestStartStory_RejectsUnsafePlayerName(t *testing.T) {
	f := newFixture(t)
	f.violations.On("Create", mock.Anything, mock.Anything, mock.AnythingOfType("*models.SafetyViolation")).Return(nil)

	_, err := f.engine.StartStory(context.Background(), &models.StartStoryRequest{
		PlayerName: "visit www.evil.example now",
	}, "10.0.0.1")
	assert.ErrorIs(t, err, models.ErrInputRejected)
	assert.Zero(t, f.coord.calls)

	// Отказ на старте тоже попадает в журнал нарушений.
	f.violations.AssertNumberOfCalls(t, "Create", 1)
	saved := f.violations.Calls[0].Arguments.Get(2).(*models.SafetyViolation)
	assert.Equal(t, models.ViolationPattern, saved.Category)
	assert.NotEqual(t, uuid.Nil, saved.SessionID)
	assert.NotEqual(t, uuid.Nil, saved.ID)
	assert.Equal(t, 1, saved.TurnNumber)
}

func TestStartStory_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.decision = ratelimit.Decision{Allowed: false, RetryAfter: 42 * time.Second}

	_, err := f.engine.StartStory(context.Background(), &models.StartStoryRequest{PlayerName: "Mia"}, "10.0.0.1")
	require.ErrorIs(t, err, models.ErrRateLimited)

	var rlErr *models.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, 42*time.Second, rlErr.RetryAfter)
}

func TestStartStory_DefaultsAgeAndTheme(t *testing.T) {
	f := newFixture(t)
	f.sessions.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.turns.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	resp, err := f.engine.StartStory(context.Background(), &models.StartStoryRequest{
		PlayerName: "Mia",
		AgeRange:   "adult",
	}, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, defaultAgeRange, resp.Metadata.AgeRange)
	assert.Equal(t, defaultTheme, resp.Metadata.Theme)
}

// --- ContinueStory ---

func TestContinueStory_HappyPath(t *testing.T) {
	f := newFixture(t)
	session := activeSession(2)
	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil)
	f.sessions.On("UpdateAfterTurn", mock.Anything, mock.Anything, session, 2).Return(nil)
	f.turns.On("Create", mock.Anything, mock.Anything, mock.AnythingOfType("*models.Turn")).Return(nil)

	resp, err := f.engine.ContinueStory(context.Background(), &models.ContinueStoryRequest{
		SessionID:  session.ID,
		ChoiceID:   "c1",
		ChoiceText: "Follow the path",
		TurnNumber: 2,
	}, "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Metadata.Turns)
	assert.Equal(t, "scene_"+session.ID.String()+"_3", resp.CurrentScene.SceneID)
	assert.Len(t, resp.Choices, 3)
	assert.Contains(t, resp.StorySummary, "Mia found a glowing path.")
	assert.True(t, f.db.tx.committed)
	assert.Equal(t, 1, f.locker.acquired)
	assert.Equal(t, 1, f.locker.released)

	savedTurn := f.turns.Calls[0].Arguments.Get(2).(*models.Turn)
	require.NotNil(t, savedTurn.PlayerChoice)
	assert.Equal(t, "Follow the path", *savedTurn.PlayerChoice)
	assert.Nil(t, savedTurn.CustomInput)
	f.sessions.AssertExpectations(t)
}

func TestContinueStory_StaleTurnNumber(t *testing.T) {
	f := newFixture(t)
	session := activeSession(5)
	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil)

	_, err := f.engine.ContinueStory(context.Background(), &models.ContinueStoryRequest{
		SessionID:  session.ID,
		ChoiceID:   "c2",
		TurnNumber: 4,
	}, "10.0.0.1")
	assert.ErrorIs(t, err, models.ErrStaleChoice)
	assert.Zero(t, f.coord.calls)
	assert.Equal(t, 1, f.locker.released)
}

func TestContinueStory_RequiresPlayerAction(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ContinueStory(context.Background(), &models.ContinueStoryRequest{
		SessionID:  uuid.New(),
		TurnNumber: 2,
	}, "10.0.0.1")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	// Отказ до захвата блокировки и до обращения к генерации.
	assert.Zero(t, f.locker.acquired)
	assert.Zero(t, f.coord.calls)
	f.sessions.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything, mock.Anything)
}

func TestContinueStory_FinishedSession(t *testing.T) {
	f := newFixture(t)
	session := activeSession(10)
	session.IsFinished = true
	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil)

	_, err := f.engine.ContinueStory(context.Background(), &models.ContinueStoryRequest{
		SessionID: session.ID,
		ChoiceID:  "c1",
	}, "10.0.0.1")
	assert.ErrorIs(t, err, models.ErrSessionFinished)
	assert.Equal(t, 1, f.locker.released)
}

func TestContinueStory_InactiveSession(t *testing.T) {
	f := newFixture(t)
	session := activeSession(3)
	session.IsActive = false
	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil)

	_, err := f.engine.ContinueStory(context.Background(), &models.ContinueStoryRequest{
		SessionID: session.ID,
		ChoiceID:  "c1",
	}, "10.0.0.1")
	assert.ErrorIs(t, err, models.ErrSessionInactive)
}

func TestContinueStory_SessionNotFound(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	f.sessions.On("GetByID", mock.Anything, mock.Anything, id).Return(nil, models.ErrSessionNotFound)

	_, err := f.engine.ContinueStory(context.Background(), &models.ContinueStoryRequest{SessionID: id, ChoiceID: "c1"}, "10.0.0.1")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	assert.Equal(t, 1, f.locker.released)
}

func TestContinueStory_SessionBusy(t *testing.T) {
	f := newFixture(t)
	f.locker.busy = true

	_, err := f.engine.ContinueStory(context.Background(), &models.ContinueStoryRequest{
		SessionID: uuid.New(),
		ChoiceID:  "c1",
	}, "10.0.0.1")
	assert.ErrorIs(t, err, models.ErrSessionBusy)
	assert.Zero(t, f.coord.calls)
}

func TestContinueStory_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.decision = ratelimit.Decision{Allowed: false, RetryAfter: 30 * time.Second}

	_, err := f.engine.ContinueStory(context.Background(), &models.ContinueStoryRequest{
		SessionID: uuid.New(),
	}, "10.0.0.1")
	assert.ErrorIs(t, err, models.ErrRateLimited)
	// Блокировка не захватывается, если запрос отсечен лимитером.
	assert.Zero(t, f.locker.acquired)
}

func TestContinueStory_CustomInputAddsScope(t *testing.T) {
	f := newFixture(t)
	session := activeSession(2)
	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil)
	f.sessions.On("UpdateAfterTurn", mock.Anything, mock.Anything, session, 2).Return(nil)
	f.turns.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := f.engine.ContinueStory(context.Background(), &models.ContinueStoryRequest{
		SessionID:   session.ID,
		CustomInput: "pet the friendly dragon",
		TurnNumber:  2,
	}, "10.0.0.1")
	require.NoError(t, err)

	scopes := make([]ratelimit.Scope, 0, len(f.limiter.lastChecks))
	for _, c := range f.limiter.lastChecks {
		scopes = append(scopes, c.Scope)
	}
	assert.Contains(t, scopes, ratelimit.ScopeCustomInput)
	assert.Contains(t, f.coord.lastReq.Prompt, "pet the friendly dragon")
}

func TestContinueStory_RejectsUnsafeCustomInput(t *testing.T) {
	f := newFixture(t)
	session := activeSession(2)
	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil)
	f.violations.On("Create", mock.Anything, mock.Anything, mock.AnythingOfType("*models.SafetyViolation")).Return(nil)

	_, err := f.engine.ContinueStory(context.Background(), &models.ContinueStoryRequest{
		SessionID:   session.ID,
		CustomInput: "call me at 555-123-4567",
		TurnNumber:  2,
	}, "10.0.0.1")
	require.ErrorIs(t, err, models.ErrInputRejected)

	var rejErr *models.InputRejectedError
	require.ErrorAs(t, err, &rejErr)
	assert.NotEmpty(t, rejErr.Reason)
	assert.Zero(t, f.coord.calls)
	f.violations.AssertExpectations(t)

	saved := f.violations.Calls[0].Arguments.Get(2).(*models.SafetyViolation)
	assert.Equal(t, session.ID, saved.SessionID)
	assert.Equal(t, 3, saved.TurnNumber)
	assert.Equal(t, 1, f.locker.released)
}

func TestContinueStory_MaxTurnsReached(t *testing.T) {
	f := newFixture(t)
	session := activeSession(10)
	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil)

	_, err := f.engine.ContinueStory(context.Background(), &models.ContinueStoryRequest{
		SessionID: session.ID,
		ChoiceID:  "c1",
	}, "10.0.0.1")
	assert.ErrorIs(t, err, models.ErrMaxTurnsReached)
}

func TestContinueStory_EndingTurnFinishesSession(t *testing.T) {
	f := newFixture(t)
	session := activeSession(9) // следующий ход — десятый, финальный
	f.coord.gen = &models.StoryGeneration{
		SceneText:     "Mia returned home with the treasure, happy and proud. The End.",
		Choices:       []string{},
		SummaryUpdate: "Mia made it home.",
	}
	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil)
	f.sessions.On("UpdateAfterTurn", mock.Anything, mock.Anything, session, 9).Return(nil)
	f.turns.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	resp, err := f.engine.ContinueStory(context.Background(), &models.ContinueStoryRequest{
		SessionID:  session.ID,
		ChoiceID:   "c1",
		TurnNumber: 9,
	}, "10.0.0.1")
	require.NoError(t, err)

	assert.True(t, f.coord.lastReq.Ending)
	assert.Contains(t, f.coord.lastReq.Prompt, "FINAL scene")
	assert.True(t, resp.Metadata.IsFinished)
	assert.Empty(t, resp.Choices)
	assert.True(t, session.IsFinished)
	assert.False(t, session.IsActive)
}

func TestContinueStory_UnsafeSceneFallsBackAndRecordsViolation(t *testing.T) {
	f := newFixture(t)
	session := activeSession(2)
	f.coord.gen = &models.StoryGeneration{
		SceneText:     "Suddenly everyone started to fight over the treasure chest.",
		Choices:       []string{"Run", "Hide", "Shout"},
		SummaryUpdate: "A fight broke out.",
	}
	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil)
	f.sessions.On("UpdateAfterTurn", mock.Anything, mock.Anything, session, 2).Return(nil)
	f.turns.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.violations.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	resp, err := f.engine.ContinueStory(context.Background(), &models.ContinueStoryRequest{
		SessionID:  session.ID,
		ChoiceID:   "c1",
		TurnNumber: 2,
	}, "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.coord.rejected)
	fallback := safety.FallbackScene(session.Theme)
	assert.Equal(t, fallback.SceneText, resp.CurrentScene.Text)
	f.violations.AssertNumberOfCalls(t, "Create", 1)

	saved := f.violations.Calls[0].Arguments.Get(2).(*models.SafetyViolation)
	assert.Equal(t, models.ViolationBannedWord, saved.Category)
	assert.Equal(t, 3, saved.TurnNumber)
}

// --- Остальные операции ---

func TestGetSessionHistory(t *testing.T) {
	f := newFixture(t)
	session := activeSession(4)
	turns := []models.Turn{{SessionID: session.ID, TurnNumber: 1}, {SessionID: session.ID, TurnNumber: 2}}
	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil)
	f.turns.On("ListBySession", mock.Anything, mock.Anything, session.ID).Return(turns, nil)

	history, err := f.engine.GetSessionHistory(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, history.Session.ID)
	assert.Len(t, history.Turns, 2)
}

func TestResetSession(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	f.sessions.On("Deactivate", mock.Anything, mock.Anything, id).Return(nil)

	require.NoError(t, f.engine.ResetSession(context.Background(), id))
	f.sessions.AssertExpectations(t)
}

func TestAdminStats(t *testing.T) {
	f := newFixture(t)
	since := time.Now().Add(-24 * time.Hour)
	f.sessions.On("CountStats", mock.Anything, mock.Anything).Return(int64(12), int64(3), int64(7), nil)
	f.turns.On("CountAll", mock.Anything, mock.Anything).Return(int64(80), nil)
	f.violations.On("CountByCategory", mock.Anything, mock.Anything, since).
		Return([]models.ViolationCount{{Category: models.ViolationBannedWord, Count: 2}}, nil)

	stats, err := f.engine.AdminStats(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.TotalSessions)
	assert.Equal(t, int64(3), stats.ActiveSessions)
	assert.Equal(t, int64(7), stats.FinishedSessions)
	assert.Equal(t, int64(80), stats.TotalTurns)
	require.Len(t, stats.Violations, 1)
}
