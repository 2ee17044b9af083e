package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"storyquest-server/internal/models"
)

// ValidateFunc проверяет сгенерированную сцену (выходной фильтр безопасности,
// валидатор концовки). Ненулевая ошибка — сцена отклонена, нужна регенерация.
type ValidateFunc func(ctx context.Context, gen *models.StoryGeneration) error

// FallbackFunc выдает детерминированную шаблонную сцену, когда все провайдеры
// исчерпаны. Обязана всегда возвращать валидный результат.
type FallbackFunc func(req models.GenerationRequest) *models.StoryGeneration

// CoordinatorOptions — параметры ретраев и бэкоффа.
type CoordinatorOptions struct {
	MaxRetries    int           // попыток на провайдера при временных сбоях
	BackoffBase   time.Duration // база экспоненциального бэкоффа
	BackoffCap    time.Duration // потолок бэкоффа
	RegenAttempts int           // бюджет регенераций после отказа фильтра
	Concurrency   int           // одновременных запросов к одному провайдеру
}

// Coordinator ведет запрос через цепочку провайдеров: ретраи с экспоненциальным
// бэкоффом на временных ошибках, мгновенный переход дальше на постоянных,
// шаблонный фолбэк при полном исчерпании. Список провайдеров неизменяем после
// создания.
type Coordinator struct {
	providers  []Provider
	sems       map[string]chan struct{}
	opts       CoordinatorOptions
	fallbackFn FallbackFunc
	logger     *zap.Logger

	// sleep подменяется в тестах, чтобы не ждать бэкофф по-настоящему.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator создает координатор фолбэка.
func NewCoordinator(providers []Provider, opts CoordinatorOptions, fallbackFn FallbackFunc, logger *zap.Logger) *Coordinator {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	sems := make(map[string]chan struct{}, len(providers))
	for _, p := range providers {
		sems[p.Name()] = make(chan struct{}, opts.Concurrency)
	}
	return &Coordinator{
		providers:  providers,
		sems:       sems,
		opts:       opts,
		fallbackFn: fallbackFn,
		logger:     logger.Named("FallbackCoordinator"),
		sleep:      sleepCtx,
	}
}

// Providers возвращает цепочку провайдеров (для /health).
func (c *Coordinator) Providers() []Provider {
	return c.providers
}

// Generate выполняет нестримовую генерацию через цепочку провайдеров.
// Второй результат — true, если отдана шаблонная фолбэк-сцена.
// Ошибка возвращается только при отмене контекста клиентом.
func (c *Coordinator) Generate(ctx context.Context, req models.GenerationRequest, validate ValidateFunc) (*models.StoryGeneration, bool, error) {
	regenLeft := c.opts.RegenAttempts

providers:
	for _, p := range c.providers {
		for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
			if ctx.Err() != nil {
				break providers
			}
			if err := c.acquire(ctx, p.Name()); err != nil {
				break providers
			}
			startTime := time.Now()
			gen, err := p.Generate(ctx, req)
			c.release(p.Name())

			latency := time.Since(startTime)
			if err == nil {
				if validate == nil {
					c.logAttempt(p.Name(), attempt, latency, models.AttemptSuccess)
					return gen, false, nil
				}
				if verr := validate(ctx, gen); verr == nil {
					c.logAttempt(p.Name(), attempt, latency, models.AttemptSuccess)
					return gen, false, nil
				} else {
					c.logAttempt(p.Name(), attempt, latency, models.AttemptSafetyRejected)
					c.logger.Warn("Generated scene rejected by validator",
						zap.String("provider", p.Name()), zap.Error(verr))
					regenLeft--
					if regenLeft < 0 {
						// Бюджет регенераций исчерпан — шаблонная сцена.
						break providers
					}
					continue
				}
			}

			c.logAttempt(p.Name(), attempt, latency, outcomeOf(err))
			if IsPermanent(err) {
				c.logger.Warn("Permanent provider failure, skipping to next",
					zap.String("provider", p.Name()), zap.Error(err))
				continue providers
			}
			c.logger.Warn("Transient provider failure",
				zap.String("provider", p.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err))

			if attempt < c.opts.MaxRetries-1 {
				if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
					break providers
				}
			}
		}
	}

	// Клиент ушел — фолбэк некому отдавать.
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, false, ctx.Err()
	}

	aiFallbackTotal.Inc()
	c.logger.Warn("All providers exhausted, serving templated fallback scene")
	return c.fallbackFn(req), true, nil
}

// GenerateStream пытается стримить через основного провайдера; любой сбой
// стрима (включая обрыв посреди JSON) переводит запрос в нестримовый путь
// через полную цепочку фолбэка.
func (c *Coordinator) GenerateStream(ctx context.Context, req models.GenerationRequest, chunkHandler func(string) error, validate ValidateFunc) (*models.StoryGeneration, bool, error) {
	primary := c.providers[0]
	if err := c.acquire(ctx, primary.Name()); err == nil {
		startTime := time.Now()
		gen, err := primary.GenerateStream(ctx, req, chunkHandler)
		c.release(primary.Name())
		latency := time.Since(startTime)

		if err == nil {
			if validate == nil {
				c.logAttempt(primary.Name(), 0, latency, models.AttemptSuccess)
				return gen, false, nil
			}
			if verr := validate(ctx, gen); verr == nil {
				c.logAttempt(primary.Name(), 0, latency, models.AttemptSuccess)
				return gen, false, nil
			}
			c.logAttempt(primary.Name(), 0, latency, models.AttemptSafetyRejected)
		} else {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, false, ctx.Err()
			}
			c.logAttempt(primary.Name(), 0, latency, outcomeOf(err))
			c.logger.Warn("Streaming attempt failed, retrying non-streaming",
				zap.String("provider", primary.Name()), zap.Error(err))
		}
	}
	return c.Generate(ctx, req, validate)
}

// Summarize — лучшая попытка пересжатия сводки: по одному заходу на
// провайдера, без бэкоффа. При полном провале вызывающий оставляет старую
// сводку, поэтому здесь нет шаблонного фолбэка.
func (c *Coordinator) Summarize(ctx context.Context, req models.GenerationRequest) (string, error) {
	var lastErr error
	for _, p := range c.providers {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err := c.acquire(ctx, p.Name()); err != nil {
			return "", err
		}
		text, err := p.Summarize(ctx, req)
		c.release(p.Name())
		if err == nil {
			return text, nil
		}
		lastErr = err
		c.logger.Warn("Summarization attempt failed",
			zap.String("provider", p.Name()), zap.Error(err))
	}
	return "", fmt.Errorf("%w: %v", models.ErrAllProvidersExhausted, lastErr)
}

func (c *Coordinator) acquire(ctx context.Context, name string) error {
	select {
	case c.sems[name] <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) release(name string) {
	<-c.sems[name]
}

// backoff считает задержку перед повтором: base*2^attempt с джиттером,
// не выше потолка.
func (c *Coordinator) backoff(attempt int) time.Duration {
	d := c.opts.BackoffBase << uint(attempt)
	if d > c.opts.BackoffCap || d <= 0 {
		d = c.opts.BackoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d/2 + jitter
}

func (c *Coordinator) logAttempt(providerName string, attempt int, latency time.Duration, outcome models.AttemptOutcome) {
	c.logger.Info("Generation attempt finished",
		zap.String("provider", providerName),
		zap.Int("attempt", attempt),
		zap.Duration("latency", latency),
		zap.String("outcome", string(outcome)))
}

func outcomeOf(err error) models.AttemptOutcome {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.AttemptTimeout
	case errors.Is(err, models.ErrMalformedResponse):
		return models.AttemptMalformed
	default:
		return models.AttemptProviderError
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
