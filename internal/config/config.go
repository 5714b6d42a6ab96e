package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the engine
type Config struct {
	// Database
	DBType      string
	DatabaseURL string

	// Scheduler
	TickInterval  time.Duration
	PhaseDuration time.Duration
	MaxIterations int

	// OpenAI adapter; an empty key disables it and every caller uses its fallback
	OpenAIAPIKey string
	OpenAIModel  string
	OpenAIAPIURL string
	LLMTimeout   time.Duration

	// Event handlers; empty values disable the handler
	TelegramBotToken  string
	TelegramChatIDs   []int64
	NATSURL           string
	NATSSubjectPrefix string
	MetricsAddr       string

	AgentsFile string

	LogLevel  string
	LogPretty bool
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DBType:            "sqlite3",
		TickInterval:      time.Minute,
		PhaseDuration:     30 * time.Minute,
		MaxIterations:     10,
		OpenAIModel:       "gpt-3.5-turbo",
		OpenAIAPIURL:      "https://api.openai.com/v1/chat/completions",
		LLMTimeout:        60 * time.Second,
		NATSSubjectPrefix: "agentcoach.events",
		MetricsAddr:       ":9090",
		AgentsFile:        "agents.yaml",
		LogLevel:          "info",
	}
}

// Load reads .env files (a missing file is fine) and then the environment.
// Values that are set but malformed are reported together.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function such as os.Getenv
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()
	var errs []error

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}

	str("DB_TYPE", &cfg.DBType)
	str("DATABASE_URL", &cfg.DatabaseURL)
	dur("TICK_INTERVAL", &cfg.TickInterval)
	dur("PHASE_DURATION", &cfg.PhaseDuration)
	if v := strings.TrimSpace(getenv("MAX_ITERATIONS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs = append(errs, fmt.Errorf("MAX_ITERATIONS: must be a positive integer, got %q", v))
		} else {
			cfg.MaxIterations = n
		}
	}
	str("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	str("OPENAI_MODEL", &cfg.OpenAIModel)
	str("OPENAI_API_URL", &cfg.OpenAIAPIURL)
	dur("LLM_TIMEOUT", &cfg.LLMTimeout)
	str("TELEGRAM_BOT_TOKEN", &cfg.TelegramBotToken)
	if v := strings.TrimSpace(getenv("TELEGRAM_CHAT_IDS")); v != "" {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("TELEGRAM_CHAT_IDS: invalid chat id %q", part))
				continue
			}
			cfg.TelegramChatIDs = append(cfg.TelegramChatIDs, id)
		}
	}
	str("NATS_URL", &cfg.NATSURL)
	str("NATS_SUBJECT_PREFIX", &cfg.NATSSubjectPrefix)
	str("METRICS_ADDR", &cfg.MetricsAddr)
	str("AGENTS_FILE", &cfg.AgentsFile)
	str("LOG_LEVEL", &cfg.LogLevel)
	if v := strings.TrimSpace(getenv("LOG_PRETTY")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_PRETTY: invalid boolean %q", v))
		} else {
			cfg.LogPretty = b
		}
	}

	switch cfg.DBType {
	case "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_TYPE: unsupported database type %q", cfg.DBType))
	}
	if cfg.DBType == "postgres" && cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL: required when DB_TYPE is postgres"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
