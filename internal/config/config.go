package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	AppPort     string
	AppURL      string
	StoreDriver string `validate:"oneof=sqlite postgres memory"`
	SQLitePath  string
	PostgresURL string

	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModelPlanner   string
	OpenAIModelExtractor string
	OpenAIModelWriter    string
	OpenAITimeoutSec     int `validate:"gt=0"`

	LocalLLMEnabled    bool
	LocalLLMBaseURL    string
	LocalLLMAPIKey     string
	LocalLLMModel      string
	LocalLLMTimeoutSec int `validate:"gt=0"`

	RouterDefaultProvider string `validate:"oneof=openai local"`
	RouterPlanProvider    string `validate:"oneof=openai local"`
	RouterExtractProvider string `validate:"oneof=openai local"`
	RouterPatchProvider   string `validate:"oneof=openai local"`
	RouterWriterProvider  string `validate:"oneof=openai local"`
	RouterFallbackEnabled bool

	DefaultRunMode              string  `validate:"oneof=strict medium yolo"`
	MaxRetriesPerField          int     `validate:"gt=0"`
	MaxRetriesPerPage           int     `validate:"gt=0"`
	PatchAutoApplyMinConfidence float64 `validate:"gte=0,lte=1"`

	BrowserProfileDir  string
	JobFetchTimeoutSec int `validate:"gt=0"`
}

func Load() Config {
	appPort := getEnv("APP_PORT", "8787")
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" {
		postgresURL = buildPostgresURL()
	}
	return Config{
		AppPort:     appPort,
		AppURL:      getEnv("APP_URL", "http://localhost:"+appPort),
		StoreDriver: getEnv("STORE_DRIVER", "sqlite"),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/applyforge.db"),
		PostgresURL: postgresURL,

		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModelPlanner:   getEnv("OPENAI_MODEL_PLANNER", "gpt-5"),
		OpenAIModelExtractor: getEnv("OPENAI_MODEL_EXTRACTOR", "gpt-5-mini"),
		OpenAIModelWriter:    getEnv("OPENAI_MODEL_WRITER", "gpt-5-mini"),
		OpenAITimeoutSec:     getEnvInt("OPENAI_TIMEOUT_SEC", 60),

		LocalLLMEnabled:    getEnvBool("LOCAL_LLM_ENABLED", true),
		LocalLLMBaseURL:    getEnv("LOCAL_LLM_BASE_URL", "http://localhost:11434/v1"),
		LocalLLMAPIKey:     getEnv("LOCAL_LLM_API_KEY", "local"),
		LocalLLMModel:      getEnv("LOCAL_LLM_MODEL", "qwen2.5:14b-instruct"),
		LocalLLMTimeoutSec: getEnvInt("LOCAL_LLM_TIMEOUT_SEC", 90),

		RouterDefaultProvider: getEnv("LLM_ROUTER_DEFAULT", "openai"),
		RouterPlanProvider:    getEnv("LLM_ROUTER_PLAN_PROVIDER", "openai"),
		RouterExtractProvider: getEnv("LLM_ROUTER_EXTRACT_PROVIDER", "openai"),
		RouterPatchProvider:   getEnv("LLM_ROUTER_DB_PATCH_PROVIDER", "local"),
		RouterWriterProvider:  getEnv("LLM_ROUTER_WRITER_PROVIDER", "openai"),
		RouterFallbackEnabled: getEnvBool("LLM_ROUTER_FALLBACK", true),

		DefaultRunMode:              getEnv("DEFAULT_RUN_MODE", "medium"),
		MaxRetriesPerField:          getEnvInt("MAX_RETRIES_PER_FIELD", 3),
		MaxRetriesPerPage:           getEnvInt("MAX_RETRIES_PER_PAGE", 2),
		PatchAutoApplyMinConfidence: getEnvFloat("PATCH_AUTO_APPLY_MIN_CONFIDENCE", 0),

		BrowserProfileDir:  getEnv("BROWSER_PROFILE_DIR", "./data/browser_profile"),
		JobFetchTimeoutSec: getEnvInt("JOB_FETCH_TIMEOUT_SEC", 30),
	}
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "applyforge")
	password := getEnv("POSTGRES_PASSWORD", "applyforge")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "applyforge")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
