package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyquest-server/internal/config"
	"storyquest-server/internal/database"
	"storyquest-server/internal/engine"
	"storyquest-server/internal/handler"
	"storyquest-server/internal/logger"
	"storyquest-server/internal/models"
	"storyquest-server/internal/provider"
	"storyquest-server/internal/ratelimit"
	"storyquest-server/internal/repository"
	"storyquest-server/internal/safety"
)

const (
	staleSessionTTL = 24 * time.Hour
	janitorInterval = time.Hour
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск StoryQuest Server...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))

	ctx := context.Background()

	// PostgreSQL + миграции
	dbPool, err := database.NewPool(ctx, cfg.GetDSN(), int(cfg.DBMaxConns), 5*time.Minute)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к БД", zap.Error(err))
	}
	defer dbPool.Close()
	if err := database.RunMigrations(ctx, dbPool); err != nil {
		zapLogger.Fatal("Не удалось применить миграции", zap.Error(err))
	}
	zapLogger.Info("Успешное подключение к PostgreSQL")

	// Redis: лимиты и блокировки сессий
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		zapLogger.Fatal("Не удалось подключиться к Redis", zap.Error(err))
	}
	cancelPing()
	zapLogger.Info("Успешное подключение к Redis")

	// Цепочка AI-провайдеров и координатор фолбэка
	providers, err := provider.NewProviders(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать AI-провайдеров", zap.Error(err))
	}
	coordinator := provider.NewCoordinator(providers, provider.CoordinatorOptions{
		MaxRetries:    cfg.MaxRetries,
		BackoffBase:   cfg.BackoffBase,
		BackoffCap:    cfg.BackoffCap,
		RegenAttempts: cfg.RegenAttempts,
		Concurrency:   cfg.ProviderConcurrency,
	}, templatedFallback, zapLogger)

	// Фильтр безопасности
	var moderation *safety.ModerationChecker
	if cfg.UseModerationAPI && cfg.OpenAIAPIKey != "" {
		moderation = safety.NewModerationChecker(cfg.OpenAIAPIKey, zapLogger)
		zapLogger.Info("Moderation API enabled")
	}
	filter := safety.NewFilter(moderation, zapLogger)

	// Лимитер и блокировка сессий. TTL блокировки покрывает самый долгий ход.
	limiter := ratelimit.NewLimiter(redisClient, zapLogger)
	locker := ratelimit.NewSessionLocker(redisClient, cfg.RequestTimeout+10*time.Second, zapLogger)

	// Репозитории и движок
	sessionRepo := repository.NewPgSessionRepository(zapLogger)
	turnRepo := repository.NewPgTurnRepository(zapLogger)
	violationRepo := repository.NewPgViolationRepository(zapLogger)
	storyEngine := engine.NewEngine(
		dbPool, sessionRepo, turnRepo, violationRepo,
		coordinator, filter, limiter, locker, cfg, zapLogger,
	)

	// Фоновая уборка брошенных сессий
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	go runSessionJanitor(janitorCtx, storyEngine, zapLogger)

	// HTTP
	e := echo.New()
	e.HideBanner = true
	e.Use(handler.EchoZapLogger(zapLogger))
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	storyHandler := handler.NewStoryHandler(storyEngine, providers, zapLogger)
	storyHandler.RegisterRoutes(e)

	go func() {
		zapLogger.Info("StoryQuest сервер слушает", zap.String("port", cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Ошибка запуска HTTP сервера", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Получен сигнал завершения, начинаем graceful shutdown...")

	stopJanitor()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Ошибка при graceful shutdown Echo", zap.Error(err))
	}

	log.Println("StoryQuest Server успешно остановлен")
}

// templatedFallback отдает шаблонную сцену, когда вся цепочка провайдеров
// исчерпана: игра продолжается даже при полном отказе генерации.
func templatedFallback(req models.GenerationRequest) *models.StoryGeneration {
	if req.Ending {
		return safety.FallbackEnding(req.Theme, req.PlayerName)
	}
	return safety.FallbackScene(req.Theme)
}

// runSessionJanitor периодически деактивирует брошенные сессии.
func runSessionJanitor(ctx context.Context, e *engine.Engine, logger *zap.Logger) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.DeactivateStaleSessions(ctx, staleSessionTTL); err != nil {
				logger.Error("Failed to deactivate stale sessions", zap.Error(err))
			}
		}
	}
}
