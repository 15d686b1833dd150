// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends for the account store.
const (
	StoreSupabase = "supabase"
	StoreSQLite   = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	StoreBackend       string
	SupabaseURL        string
	SupabaseServiceKey string
	DatabasePath       string
	ListenAddr         string
	LogLevel           string
	ScrapeInterval     time.Duration
	ScrapeCron         string
	MaxConcurrent      int
	ProxyBase          string
	TelegramBotToken   string
	TelegramChatID     int64
}

// Load reads configuration from the environment, after loading a .env file
// when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		DatabasePath:       getEnv("DATABASE_PATH", "./data/accounts.db"),
		ListenAddr:         getEnv("LISTEN_ADDR", ":5001"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		ScrapeInterval:     time.Minute,
		ScrapeCron:         os.Getenv("SCRAPE_CRON"),
		MaxConcurrent:      10,
		ProxyBase:          os.Getenv("PROXY_URL"),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	cfg.StoreBackend = os.Getenv("ACCOUNT_STORE")
	if cfg.StoreBackend == "" {
		if cfg.SupabaseURL != "" {
			cfg.StoreBackend = StoreSupabase
		} else {
			cfg.StoreBackend = StoreSQLite
		}
	}
	switch cfg.StoreBackend {
	case StoreSupabase:
		if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
			return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for the supabase store")
		}
	case StoreSQLite:
	default:
		return nil, fmt.Errorf("unknown ACCOUNT_STORE %q", cfg.StoreBackend)
	}

	if raw := os.Getenv("SCRAPE_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid SCRAPE_INTERVAL %q: %w", raw, err)
		}
		cfg.ScrapeInterval = d
	}

	if raw := os.Getenv("MAX_CONCURRENT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid MAX_CONCURRENT %q", raw)
		}
		cfg.MaxConcurrent = n
	}

	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", raw, err)
		}
		cfg.TelegramChatID = id
	}

	return cfg, nil
}

// NotifyEnabled reports whether the Telegram notification channel is
// configured.
func (c *Config) NotifyEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
