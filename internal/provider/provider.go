package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storyquest-server/internal/config"
	"storyquest-server/internal/models"
)

// ErrorKind — классификация ошибки провайдера для координатора фолбэка.
type ErrorKind int

const (
	// Transient — таймауты, 5xx, сетевые сбои, некорректный JSON: имеет
	// смысл повторить попытку.
	Transient ErrorKind = iota
	// Permanent — 401/403/400: повторы бессмысленны, сразу следующий провайдер.
	Permanent
)

// ProviderError — ошибка одного провайдера с классификацией.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsPermanent сообщает, является ли ошибка постоянной (ретраи не помогут).
func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == Permanent
}

// Provider — единый интерфейс LLM-провайдера. Все реализации возвращают
// разобранный структурированный ответ, а не сырой текст.
type Provider interface {
	// Generate выполняет один нестримовый запрос.
	Generate(ctx context.Context, req models.GenerationRequest) (*models.StoryGeneration, error)
	// GenerateStream выполняет стримовый запрос, вызывая chunkHandler на
	// каждый сырой фрагмент текста. Возвращает разобранный полный ответ.
	GenerateStream(ctx context.Context, req models.GenerationRequest, chunkHandler func(string) error) (*models.StoryGeneration, error)
	// Summarize возвращает сырой текст без JSON-контракта: используется для
	// пересжатия сводки истории.
	Summarize(ctx context.Context, req models.GenerationRequest) (string, error)
	Name() string
	// IsHealthy — дешевая проверка доступности для /health.
	IsHealthy(ctx context.Context) bool
}

// NewProviders создает цепочку провайдеров в порядке, заданном конфигурацией.
// Первый в списке — основной, остальные — фолбэк.
func NewProviders(cfg *config.Config, logger *zap.Logger) ([]Provider, error) {
	if len(cfg.ProviderChain) == 0 {
		return nil, fmt.Errorf("цепочка провайдеров пуста")
	}

	providers := make([]Provider, 0, len(cfg.ProviderChain))
	for _, name := range cfg.ProviderChain {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "openai":
			openaiConfig := openaigo.DefaultConfig(cfg.OpenAIAPIKey)
			if cfg.OpenAIBaseURL != "" {
				openaiConfig.BaseURL = cfg.OpenAIBaseURL
			}
			openaiConfig.HTTPClient = &http.Client{Timeout: cfg.AITimeout}
			client := openaigo.NewClientWithConfig(openaiConfig)
			logger.Info("OpenAI provider created",
				zap.String("base_url", cfg.OpenAIBaseURL),
				zap.String("model", cfg.OpenAIModel),
				zap.Duration("timeout", cfg.AITimeout))
			providers = append(providers, &openAIProvider{
				client: client,
				model:  cfg.OpenAIModel,
				logger: logger.Named("OpenAIProvider"),
			})
		case "ollama":
			baseURL := strings.TrimSuffix(cfg.OllamaBaseURL, "/v1")
			baseURL = strings.TrimSuffix(baseURL, "/")
			parsedURL, err := url.Parse(baseURL)
			if err != nil {
				return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", baseURL, err)
			}
			client := api.NewClient(parsedURL, &http.Client{Timeout: cfg.AITimeout})
			logger.Info("Ollama provider created",
				zap.String("base_url", baseURL),
				zap.String("model", cfg.OllamaModel),
				zap.Duration("timeout", cfg.AITimeout))
			providers = append(providers, &ollamaProvider{
				client:  client,
				model:   cfg.OllamaModel,
				timeout: cfg.AITimeout,
				logger:  logger.Named("OllamaProvider"),
			})
		default:
			return nil, fmt.Errorf("неизвестный тип AI провайдера: '%s'", name)
		}
	}
	return providers, nil
}
