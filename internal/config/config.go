package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"storyquest-server/internal/utils"
)

// Config содержит все настройки сервера историй, загружаемые из переменных окружения.
type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// --- PostgreSQL ---
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"storyquest"`
	DBPassword string `ignored:"true"` // Загружается из Docker-секрета
	DBName     string `envconfig:"DB_NAME" default:"storyquest"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"10"`

	// --- Redis ---
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// --- AI-провайдеры ---
	// Порядок провайдеров в цепочке фолбэка. Первый — основной.
	ProviderChain []string `envconfig:"PROVIDER_CHAIN" default:"openai,ollama"`

	OpenAIAPIKey  string `ignored:"true"` // Загружается из Docker-секрета
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	OllamaBaseURL string `envconfig:"OLLAMA_BASE_URL" default:"http://localhost:11434"`
	OllamaModel   string `envconfig:"OLLAMA_MODEL" default:"llama3.1"`

	AITimeout     time.Duration `envconfig:"AI_TIMEOUT" default:"30s"`
	AIMaxTokens   int           `envconfig:"AI_MAX_TOKENS" default:"500"`
	AITemperature float32       `envconfig:"AI_TEMPERATURE" default:"0.8"`

	// --- Координатор фолбэка ---
	MaxRetries          int           `envconfig:"AI_MAX_RETRIES" default:"3"`
	BackoffBase         time.Duration `envconfig:"AI_BACKOFF_BASE" default:"1s"`
	BackoffCap          time.Duration `envconfig:"AI_BACKOFF_CAP" default:"16s"`
	RegenAttempts       int           `envconfig:"AI_REGEN_ATTEMPTS" default:"2"`
	ProviderConcurrency int           `envconfig:"AI_PROVIDER_CONCURRENCY" default:"4"`
	RequestTimeout      time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`

	// --- Движок историй ---
	MaxTurns        int `envconfig:"MAX_TURNS" default:"15"`
	WrapUpLookahead int `envconfig:"WRAPUP_LOOKAHEAD" default:"3"`
	SummaryEveryN   int `envconfig:"SUMMARY_EVERY_N" default:"3"`
	SummaryMaxChars int `envconfig:"SUMMARY_MAX_CHARS" default:"1500"`

	// --- Фильтр безопасности ---
	UseModerationAPI bool `envconfig:"USE_MODERATION_API" default:"false"`

	// --- Лимиты запросов ---
	SessionHourlyLimit    int `envconfig:"RL_SESSION_HOURLY" default:"20"`
	SessionDailyLimit     int `envconfig:"RL_SESSION_DAILY" default:"100"`
	CustomInputLimit      int `envconfig:"RL_CUSTOM_INPUT" default:"5"`
	CustomInputWindowSecs int `envconfig:"RL_CUSTOM_INPUT_WINDOW" default:"600"`
	IPHourlyLimit         int `envconfig:"RL_IP_HOURLY" default:"50"`
	IPDailyLimit          int `envconfig:"RL_IP_DAILY" default:"200"`
	StoryStartHourlyLimit int `envconfig:"RL_STORY_START_HOURLY" default:"10"`
}

// GetDSN формирует строку подключения к PostgreSQL.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// NeedsProvider сообщает, входит ли провайдер с данным именем в цепочку фолбэка.
func (c *Config) NeedsProvider(name string) bool {
	for _, p := range c.ProviderChain {
		if strings.EqualFold(strings.TrimSpace(p), name) {
			return true
		}
	}
	return false
}

// LoadConfig загружает конфигурацию из окружения и Docker-секретов.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка обработки переменных окружения: %w", err)
	}

	dbPassword, err := utils.ReadSecret("postgres_password")
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать секрет postgres_password: %w", err)
	}
	cfg.DBPassword = dbPassword

	// Ключ OpenAI нужен только если провайдер openai есть в цепочке.
	if cfg.NeedsProvider("openai") {
		apiKey, err := utils.ReadSecret("openai_api_key")
		if err != nil {
			return nil, fmt.Errorf("не удалось прочитать секрет openai_api_key: %w", err)
		}
		cfg.OpenAIAPIKey = apiKey
	}

	log.Printf("Конфигурация загружена: Port=%s, DB=%s@%s:%s/%s, Redis=%s, Providers=%v, MaxTurns=%d",
		cfg.Port, cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName,
		cfg.RedisAddr, cfg.ProviderChain, cfg.MaxTurns)

	return &cfg, nil
}
