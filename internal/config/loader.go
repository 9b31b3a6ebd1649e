package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config captures environment driven configuration values for the scheduler service.
type Config struct {
	HTTPPort        int           `env:"SCHEDULER_HTTP_PORT" envDefault:"8080"`
	SQLiteDSN       string        `env:"SCHEDULER_SQLITE_DSN" envDefault:"scheduler.db"`
	Store           string        `env:"SCHEDULER_STORE" envDefault:"sqlite"`
	BatchLimit      int           `env:"SCHEDULER_BATCH_LIMIT" envDefault:"500"`
	TransactionTTL  time.Duration `env:"SCHEDULER_TRANSACTION_TTL" envDefault:"2h"`
	MaxTransactions int           `env:"SCHEDULER_MAX_TRANSACTIONS" envDefault:"256"`
	LogLevel        string        `env:"SCHEDULER_LOG_LEVEL" envDefault:"info"`
	RoleRules       string        `env:"SCHEDULER_ROLE_RULES"`
}

// DefaultEnvFiles are read, when present, before the process environment is parsed.
var DefaultEnvFiles = []string{".env", ".env.local"}

// Load parses configuration values from optional .env files and the current
// process environment. Variables already set in the environment win over
// values from the files.
func Load() (Config, error) {
	return LoadFrom(DefaultEnvFiles...)
}

// LoadFrom is Load with an explicit list of env files.
func LoadFrom(envFiles ...string) (Config, error) {
	if _, err := loadEnvFiles(envFiles); err != nil {
		return Config{}, fmt.Errorf("config: read env files: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.SQLiteDSN = strings.TrimSpace(cfg.SQLiteDSN)

	invalid := make([]string, 0, 2)
	if cfg.HTTPPort <= 0 {
		invalid = append(invalid, "SCHEDULER_HTTP_PORT")
	}
	if cfg.Store != "sqlite" && cfg.Store != "memory" {
		invalid = append(invalid, "SCHEDULER_STORE")
	}
	if cfg.Store == "sqlite" && cfg.SQLiteDSN == "" {
		invalid = append(invalid, "SCHEDULER_SQLITE_DSN")
	}
	if cfg.BatchLimit <= 0 || cfg.BatchLimit > 500 {
		invalid = append(invalid, "SCHEDULER_BATCH_LIMIT")
	}
	if cfg.TransactionTTL <= 0 {
		invalid = append(invalid, "SCHEDULER_TRANSACTION_TTL")
	}
	if cfg.MaxTransactions <= 0 {
		invalid = append(invalid, "SCHEDULER_MAX_TRANSACTIONS")
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		invalid = append(invalid, "SCHEDULER_LOG_LEVEL")
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("config: invalid environment values: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}

// loadEnvFiles loads the files that exist and reports how many were read.
func loadEnvFiles(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// SlogLevel converts LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(strings.TrimSpace(value)))
	return level, err
}
