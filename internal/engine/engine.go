package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"storyquest-server/internal/config"
	"storyquest-server/internal/models"
	"storyquest-server/internal/provider"
	"storyquest-server/internal/ratelimit"
	"storyquest-server/internal/repository"
	"storyquest-server/internal/safety"
	"storyquest-server/internal/stream"
)

// DB — пул соединений: запросы вне транзакции плюс возможность ее начать.
type DB interface {
	repository.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// generator — координатор генерации (цепочка провайдеров с фолбэком).
type generator interface {
	Generate(ctx context.Context, req models.GenerationRequest, validate provider.ValidateFunc) (*models.StoryGeneration, bool, error)
	GenerateStream(ctx context.Context, req models.GenerationRequest, chunkHandler func(string) error, validate provider.ValidateFunc) (*models.StoryGeneration, bool, error)
	Summarize(ctx context.Context, req models.GenerationRequest) (string, error)
}

// turnLimiter и sessionLocker — узкие интерфейсы поверх ratelimit,
// чтобы движок тестировался без Redis.
type turnLimiter interface {
	Allow(ctx context.Context, checks []ratelimit.Check) ratelimit.Decision
}

type sessionLocker interface {
	Acquire(ctx context.Context, sessionID string) (string, error)
	Release(ctx context.Context, sessionID, token string)
}

var allowedAgeRanges = map[string]bool{"3-5": true, "6-8": true, "9-12": true}

const (
	defaultAgeRange = "6-8"
	defaultTheme    = "magical_forest"
)

// Engine — движок историй: проводит один ход от лимитов и фильтра входа через
// генерацию к атомарной записи результата.
type Engine struct {
	db         DB
	sessions   repository.SessionRepository
	turns      repository.TurnRepository
	violations repository.ViolationRepository
	coord      generator
	filter     *safety.Filter
	limiter    turnLimiter
	locker     sessionLocker
	summary    *summarizer
	cfg        *config.Config
	logger     *zap.Logger
}

func NewEngine(
	db DB,
	sessions repository.SessionRepository,
	turns repository.TurnRepository,
	violations repository.ViolationRepository,
	coord generator,
	filter *safety.Filter,
	limiter turnLimiter,
	locker sessionLocker,
	cfg *config.Config,
	logger *zap.Logger,
) *Engine {
	logger = logger.Named("StoryEngine")
	return &Engine{
		db:         db,
		sessions:   sessions,
		turns:      turns,
		violations: violations,
		coord:      coord,
		filter:     filter,
		limiter:    limiter,
		locker:     locker,
		summary:    newSummarizer(coord, cfg.SummaryEveryN, cfg.SummaryMaxChars, logger),
		cfg:        cfg,
		logger:     logger,
	}
}

// StartStory создает новую сессию и генерирует открывающую сцену.
func (e *Engine) StartStory(ctx context.Context, req *models.StartStoryRequest, ip string) (*models.StoryResponse, error) {
	session, genReq, err := e.prepareStart(ctx, req, ip)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	gen, fromFallback, err := e.coord.Generate(genCtx, genReq, e.outputValidator(session, 1, false))
	if err != nil {
		return nil, err
	}
	return e.commitTurn(ctx, session, gen, fromFallback, turnInput{turnNumber: 1, create: true})
}

// StartStoryStream — стримовый вариант StartStory: session_start, затем
// text_chunk по мере генерации и complete с финальной проверенной сценой.
func (e *Engine) StartStoryStream(ctx context.Context, req *models.StartStoryRequest, ip string, sink stream.Sink) error {
	session, genReq, err := e.prepareStart(ctx, req, ip)
	if err != nil {
		return err
	}
	if err := sink.Send(models.StreamEvent{Type: models.EventSessionStart, SessionID: session.ID}); err != nil {
		return err
	}

	genCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	relay := stream.NewRelay(sink, e.logger)
	gen, fromFallback, err := e.coord.GenerateStream(genCtx, genReq, relay.HandleChunk, e.outputValidator(session, 1, false))
	if err != nil {
		return err
	}
	resp, err := e.commitTurn(ctx, session, gen, fromFallback, turnInput{turnNumber: 1, create: true})
	if err != nil {
		return err
	}
	return e.sendComplete(relay, sink, resp)
}

// ContinueStory выполняет очередной ход существующей истории.
func (e *Engine) ContinueStory(ctx context.Context, req *models.ContinueStoryRequest, ip string) (*models.StoryResponse, error) {
	turn, release, err := e.prepareTurn(ctx, req, ip)
	if err != nil {
		return nil, err
	}
	defer release()

	genCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	gen, fromFallback, err := e.coord.Generate(genCtx, turn.genReq, e.outputValidator(turn.session, turn.turnNumber, turn.ending))
	if err != nil {
		return nil, err
	}
	return e.commitTurn(ctx, turn.session, gen, fromFallback, turn.turnInput)
}

// ContinueStoryStream — стримовый вариант ContinueStory.
func (e *Engine) ContinueStoryStream(ctx context.Context, req *models.ContinueStoryRequest, ip string, sink stream.Sink) error {
	turn, release, err := e.prepareTurn(ctx, req, ip)
	if err != nil {
		return err
	}
	defer release()

	genCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	relay := stream.NewRelay(sink, e.logger)
	gen, fromFallback, err := e.coord.GenerateStream(genCtx, turn.genReq, relay.HandleChunk, e.outputValidator(turn.session, turn.turnNumber, turn.ending))
	if err != nil {
		return err
	}
	resp, err := e.commitTurn(ctx, turn.session, gen, fromFallback, turn.turnInput)
	if err != nil {
		return err
	}
	return e.sendComplete(relay, sink, resp)
}

// GetSessionHistory возвращает сессию со всеми ее ходами.
func (e *Engine) GetSessionHistory(ctx context.Context, sessionID uuid.UUID) (*models.SessionHistory, error) {
	session, err := e.sessions.GetByID(ctx, e.db, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := e.turns.ListBySession(ctx, e.db, sessionID)
	if err != nil {
		return nil, err
	}
	return &models.SessionHistory{Session: *session, Turns: turns}, nil
}

// ResetSession помечает сессию неактивной. Идемпотентна.
func (e *Engine) ResetSession(ctx context.Context, sessionID uuid.UUID) error {
	if err := e.sessions.Deactivate(ctx, e.db, sessionID); err != nil {
		return err
	}
	e.logger.Info("Session reset", zap.String("session_id", sessionID.String()))
	return nil
}

// AdminStats собирает сводку для админ-мониторинга.
func (e *Engine) AdminStats(ctx context.Context, since time.Time) (*models.AdminStats, error) {
	total, active, finished, err := e.sessions.CountStats(ctx, e.db)
	if err != nil {
		return nil, err
	}
	totalTurns, err := e.turns.CountAll(ctx, e.db)
	if err != nil {
		return nil, err
	}
	violations, err := e.violations.CountByCategory(ctx, e.db, since)
	if err != nil {
		return nil, err
	}
	return &models.AdminStats{
		TotalSessions:    total,
		ActiveSessions:   active,
		FinishedSessions: finished,
		TotalTurns:       totalTurns,
		Violations:       violations,
	}, nil
}

// RecentViolations возвращает последние зафиксированные нарушения.
func (e *Engine) RecentViolations(ctx context.Context, limit int) ([]models.SafetyViolation, error) {
	return e.violations.ListRecent(ctx, e.db, limit)
}

// DeactivateStaleSessions помечает брошенные сессии неактивными.
func (e *Engine) DeactivateStaleSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	n, err := e.sessions.DeactivateStale(ctx, e.db, ttl)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("Deactivated stale sessions", zap.Int64("count", n))
	}
	return n, nil
}

// prepareStart — общие пред-проверки старта: лимиты, валидация и фильтр
// имени игрока, сборка сессии и промта открывающей сцены.
func (e *Engine) prepareStart(ctx context.Context, req *models.StartStoryRequest, ip string) (*models.Session, models.GenerationRequest, error) {
	var zero models.GenerationRequest

	if decision := e.limiter.Allow(ctx, ratelimit.StartChecks(e.cfg, ip)); !decision.Allowed {
		return nil, zero, &models.RateLimitError{RetryAfter: decision.RetryAfter}
	}

	playerName := strings.TrimSpace(req.PlayerName)
	if playerName == "" {
		return nil, zero, fmt.Errorf("%w: player_name is required", models.ErrInvalidInput)
	}
	sessionID := uuid.New()
	if result := e.filter.CheckInput(ctx, playerName, req.AgeRange); !result.OK {
		// Сессия не будет создана, но нарушение сохраняем под ее id,
		// чтобы отказ на старте был виден в админке.
		if result.Violation != nil {
			e.recordViolation(ctx, result.Violation, sessionID, 1)
		}
		return nil, zero, &models.InputRejectedError{Reason: result.Reason}
	}

	ageRange := req.AgeRange
	if !allowedAgeRanges[ageRange] {
		ageRange = defaultAgeRange
	}
	theme := req.Theme
	if theme == "" {
		theme = defaultTheme
	}

	session := &models.Session{
		ID:         sessionID,
		PlayerName: playerName,
		AgeRange:   ageRange,
		Theme:      theme,
		MaxTurns:   e.cfg.MaxTurns,
		IsActive:   true,
	}
	genReq := models.GenerationRequest{
		Prompt:        OpeningPrompt(playerName, ageRange, theme),
		SystemMessage: SystemMessage(ageRange),
		MaxTokens:     e.cfg.AIMaxTokens,
		Temperature:   e.cfg.AITemperature,
		Theme:         theme,
		PlayerName:    playerName,
	}
	e.logger.Info("Starting new story",
		zap.String("session_id", session.ID.String()),
		zap.String("theme", theme),
		zap.String("age_range", ageRange))
	return session, genReq, nil
}

// turnInput — все, что нужно для записи результата хода.
type turnInput struct {
	turnNumber   int
	create       bool // true — сессия еще не персистирована (первый ход)
	expectedTurn int
	playerChoice *string
	customInput  *string
	ending       bool
}

// preparedTurn — результат пред-проверок продолжения.
type preparedTurn struct {
	turnInput
	session *models.Session
	genReq  models.GenerationRequest
}

// prepareTurn — пред-проверки продолжения: лимиты, блокировка сессии,
// проверки состояния, фильтр пользовательского ввода, выбор промта по фазе.
// Возвращенный release обязателен к вызову; он снимает блокировку даже при
// уже отмененном контексте запроса.
func (e *Engine) prepareTurn(ctx context.Context, req *models.ContinueStoryRequest, ip string) (*preparedTurn, func(), error) {
	noop := func() {}

	customInput := strings.TrimSpace(req.CustomInput)
	checks := ratelimit.TurnChecks(e.cfg, req.SessionID.String(), ip, customInput != "")
	if decision := e.limiter.Allow(ctx, checks); !decision.Allowed {
		return nil, noop, &models.RateLimitError{RetryAfter: decision.RetryAfter}
	}

	// Ход без действия игрока невозможен: нужен выбор или свой ввод.
	if req.ChoiceID == "" && strings.TrimSpace(req.ChoiceText) == "" && customInput == "" {
		return nil, noop, fmt.Errorf("%w: choice_id, choice_text or custom_input is required", models.ErrInvalidInput)
	}

	token, err := e.locker.Acquire(ctx, req.SessionID.String())
	if err != nil {
		return nil, noop, err
	}
	release := func() {
		e.locker.Release(context.WithoutCancel(ctx), req.SessionID.String(), token)
	}

	session, err := e.sessions.GetByID(ctx, e.db, req.SessionID)
	if err != nil {
		release()
		return nil, noop, err
	}
	switch {
	case session.IsFinished:
		release()
		return nil, noop, models.ErrSessionFinished
	case !session.IsActive:
		release()
		return nil, noop, models.ErrSessionInactive
	case session.TurnNumber >= session.MaxTurns:
		release()
		return nil, noop, models.ErrMaxTurnsReached
	}
	// Клиент прислал номер хода, который считает текущим. Ноль — клиент
	// ходы не отслеживает, тогда полагаемся на проверку при записи.
	if req.TurnNumber != 0 && req.TurnNumber != session.TurnNumber {
		release()
		return nil, noop, models.ErrStaleChoice
	}

	nextTurn := session.TurnNumber + 1

	if customInput != "" {
		result := e.filter.CheckInput(ctx, customInput, session.AgeRange)
		if !result.OK {
			if result.Violation != nil {
				e.recordViolation(ctx, result.Violation, session.ID, nextTurn)
			}
			release()
			return nil, noop, &models.InputRejectedError{Reason: result.Reason}
		}
		customInput = result.Sanitized
	}

	phase := phaseForTurn(nextTurn, session.MaxTurns, e.cfg.WrapUpLookahead)
	action := describePlayerAction(req.ChoiceID, req.ChoiceText, customInput)

	var prompt string
	switch phase {
	case PhaseFinished:
		prompt = EndingPrompt(session.AgeRange, session.StorySummary, action, session.PlayerName)
	case PhaseWrappingUp:
		prompt = WrapUpPrompt(session.AgeRange, session.StorySummary, action, session.PlayerName, session.MaxTurns-nextTurn+1)
	default:
		prompt = AdventurePrompt(session.AgeRange, session.StorySummary, action, session.PlayerName)
	}

	turn := &preparedTurn{
		turnInput: turnInput{
			turnNumber:   nextTurn,
			expectedTurn: session.TurnNumber,
			ending:       phase == PhaseFinished,
		},
		session: session,
		genReq: models.GenerationRequest{
			Prompt:        prompt,
			SystemMessage: SystemMessage(session.AgeRange),
			MaxTokens:     e.cfg.AIMaxTokens,
			Temperature:   e.cfg.AITemperature,
			Ending:        phase == PhaseFinished,
			Theme:         session.Theme,
			PlayerName:    session.PlayerName,
		},
	}
	if choice := strings.TrimSpace(req.ChoiceText); choice != "" {
		turn.playerChoice = &choice
	} else if req.ChoiceID != "" {
		id := req.ChoiceID
		turn.playerChoice = &id
	}
	if customInput != "" {
		turn.customInput = &customInput
	}
	return turn, release, nil
}

// outputValidator — выходной фильтр для координатора: контент-проверки сцены
// и вариантов, для финала дополнительно валидатор концовки. Каждый отказ
// персистится как нарушение.
func (e *Engine) outputValidator(session *models.Session, turnNumber int, ending bool) provider.ValidateFunc {
	return func(ctx context.Context, gen *models.StoryGeneration) error {
		if v := e.filter.CheckOutput(ctx, gen.SceneText, gen.Choices, session.AgeRange); v != nil {
			e.recordViolation(ctx, v, session.ID, turnNumber)
			return fmt.Errorf("scene rejected: %s", v.Category)
		}
		if ending {
			if err := safety.ValidateEnding(gen.SceneText); err != nil {
				v := &models.SafetyViolation{
					Category: models.ViolationOpenEnding,
					Severity: models.SeverityLow,
					Snippet:  models.RedactSnippet(gen.SceneText),
				}
				e.recordViolation(ctx, v, session.ID, turnNumber)
				return err
			}
		}
		return nil
	}
}

// recordViolation персистит нарушение. Сбой записи не роняет ход: нарушение
// уже привело к отказу или регенерации, потеря записи — только дыра в
// мониторинге.
func (e *Engine) recordViolation(ctx context.Context, v *models.SafetyViolation, sessionID uuid.UUID, turnNumber int) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.SessionID = sessionID
	v.TurnNumber = turnNumber
	if err := e.violations.Create(context.WithoutCancel(ctx), e.db, v); err != nil {
		e.logger.Error("Failed to persist safety violation",
			zap.String("session_id", sessionID.String()),
			zap.String("category", string(v.Category)),
			zap.Error(err))
	}
}

// commitTurn сжимает сводку и атомарно записывает ход и новое состояние
// сессии. Для первого хода создает сессию в той же транзакции.
func (e *Engine) commitTurn(ctx context.Context, session *models.Session, gen *models.StoryGeneration, fromFallback bool, in turnInput) (*models.StoryResponse, error) {
	summary := e.summary.roll(ctx, session.StorySummary, gen.SummaryUpdate, in.turnNumber)

	now := time.Now().UTC()
	session.TurnNumber = in.turnNumber
	session.StorySummary = summary
	session.LastActivity = now
	if in.ending {
		session.IsFinished = true
		session.IsActive = false
	}

	turn := &models.Turn{
		ID:           uuid.New(),
		SessionID:    session.ID,
		TurnNumber:   in.turnNumber,
		SceneID:      sceneIDFor(session.ID.String(), in.turnNumber),
		SceneText:    gen.SceneText,
		PlayerChoice: in.playerChoice,
		CustomInput:  in.customInput,
		StorySummary: summary,
		CreatedAt:    now,
	}

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if in.create {
		session.CreatedAt = now
		if err := e.sessions.Create(ctx, tx, session); err != nil {
			return nil, err
		}
	}
	if err := e.turns.Create(ctx, tx, turn); err != nil {
		if errors.Is(err, models.ErrStaleChoice) {
			e.logger.Warn("Concurrent turn lost the race",
				zap.String("session_id", session.ID.String()),
				zap.Int("turn_number", in.turnNumber))
		}
		return nil, err
	}
	if !in.create {
		if err := e.sessions.UpdateAfterTurn(ctx, tx, session, in.expectedTurn); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit turn: %w", err)
	}

	e.logger.Info("Turn committed",
		zap.String("session_id", session.ID.String()),
		zap.Int("turn_number", in.turnNumber),
		zap.Bool("ending", in.ending),
		zap.Bool("from_fallback", fromFallback))

	return buildResponse(session, turn, gen), nil
}

// sendComplete досылает придержанный хвост и финальное событие complete с
// авторитетным проверенным текстом сцены.
func (e *Engine) sendComplete(relay *stream.Relay, sink stream.Sink, resp *models.StoryResponse) error {
	if err := relay.FlushTail(); err != nil {
		return err
	}
	return sink.Send(models.StreamEvent{
		Type:         models.EventComplete,
		SessionID:    resp.SessionID,
		SceneText:    resp.CurrentScene.Text,
		Choices:      resp.Choices,
		StorySummary: resp.StorySummary,
		Metadata:     &resp.Metadata,
	})
}

func buildResponse(session *models.Session, turn *models.Turn, gen *models.StoryGeneration) *models.StoryResponse {
	choices := make([]models.Choice, 0, len(gen.Choices))
	for i, text := range gen.Choices {
		choices = append(choices, models.Choice{
			ChoiceID: fmt.Sprintf("c%d", i+1),
			Text:     text,
		})
	}
	return &models.StoryResponse{
		SessionID:    session.ID,
		StorySummary: session.StorySummary,
		CurrentScene: models.Scene{
			SceneID:   turn.SceneID,
			Text:      turn.SceneText,
			Timestamp: turn.CreatedAt,
		},
		Choices: choices,
		Metadata: models.StoryMetadata{
			Turns:      session.TurnNumber,
			MaxTurns:   session.MaxTurns,
			Theme:      session.Theme,
			AgeRange:   session.AgeRange,
			IsFinished: session.IsFinished,
		},
	}
}
