package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"addrclean/internal"
)

// DefaultPromptPrefix is sent verbatim ahead of every batch.
const DefaultPromptPrefix = "Split the following rows of names and addresses into columns such as Recipient Name/Entity Name, Address Line 1/Care of Name, Address Line 2, Address Line 3, District, State and PIN Code. " +
	"Add salutations like Mr., Mrs., Ms. or M/s. to Name and Care of Name if missing. " +
	"Add prefixes like s/o, d/o, f/o, m/o, h/o, w/o or c/o to Care of Name if missing. " +
	"Add punctuations to initials in Name and Care of Name if missing. " +
	"Correct spelling mistakes and punctuations in an Address if necessary. " +
	"Correct an incomplete Address if necessary. " +
	"Remove redundancy in an Address if necessary. " +
	"Convert everything to Proper case. " +
	"Do not ignore duplicate rows of names and addresses."

type Config struct {
	DBPath    string
	OutputDir string

	GeminiAPIKey       string
	GeminiBaseURL      string
	GeminiModel        string
	GeminiTimeoutMs    int
	GeminiRateLimitRPS float64
	PromptPrefix       string

	BatchSize     int
	Workers       int
	MinNameLength int

	ServiceRetryAttempts  int
	ServiceRetryBackoffMs int
	MismatchRetryAttempts int

	LogLevel string
	Debug    bool
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:    getEnv("DB_PATH", filepath.Join(cwd, "data", "runs.db")),
		OutputDir: getEnv("OUTPUT_DIR", ""),

		GeminiAPIKey:       getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", "")),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-3-flash-preview"),
		GeminiTimeoutMs:    getEnvInt("GEMINI_TIMEOUT_MS", 120000),
		GeminiRateLimitRPS: getEnvFloat("GEMINI_RATE_LIMIT_RPS", 2),
		PromptPrefix:       getEnv("GEMINI_PROMPT_PREFIX", DefaultPromptPrefix),

		BatchSize:     getEnvInt("BATCH_SIZE", internal.DefaultBatchSize),
		Workers:       getEnvInt("WORKERS", 4),
		MinNameLength: getEnvInt("MIN_NAME_LENGTH", internal.DefaultMinNameLength),

		ServiceRetryAttempts:  getEnvInt("SERVICE_RETRY_ATTEMPTS", 3),
		ServiceRetryBackoffMs: getEnvInt("SERVICE_RETRY_BACKOFF_MS", 500),
		MismatchRetryAttempts: getEnvInt("MISMATCH_RETRY_ATTEMPTS", 1),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		Debug:    getEnvBool("DEBUG", false),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func (c Config) GeminiTimeout() time.Duration {
	return time.Duration(c.GeminiTimeoutMs) * time.Millisecond
}

func (c Config) ServiceRetryBackoff() time.Duration {
	return time.Duration(c.ServiceRetryBackoffMs) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
