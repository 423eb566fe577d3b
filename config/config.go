/*
Package config loads application configuration from the environment.

PURPOSE:
  Externalizes everything that differs between deployments: remote API
  credentials, the organization and store references
  used in fetch filters, schedule times, retry tuning, and the history
  horizon for snapshot replay.

SOURCES:
  1. Optional .env file (godotenv, never overrides real env vars)
  2. Process environment
  3. Built-in defaults for non-secret tunables

  Port, database path and snapshot directory stay on command-line flags in
  cmd/server — they are deployment-local, not secrets.

VALIDATION:
  Load() fails fast on missing credentials or malformed values rather than
  letting a sync pass discover them at 12:15.

SEE ALSO:
  - cmd/server/main.go: flag handling and wiring
  - ingest/retry.go: RetryPolicy consumer
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment-backed settings.
type Config struct {
	// Remote API
	BaseURL         string
	Username        string
	Password        string
	OrganizationRef string   // absolute href used in organization= filters
	StoreRefs       []string // absolute hrefs used in store= filters (stock report)

	// Sync behavior
	PageLimit      int
	RetryAttempts  int           // max save attempts per document
	RetryDelay     time.Duration // fixed delay between attempts
	HistoryHorizon string        // YYYY-MM-DD; snapshot replay starts here

	// Schedule (times of day, HH:MM)
	SalesAt    string
	StockAt    string
	IncomingAt string
	SyncOnStart bool

	// Forecasting collaborator
	ForecastURL string
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	// Missing .env is fine; real environments set vars directly.
	_ = godotenv.Load()

	cfg := &Config{
		BaseURL:         getEnv("MOYSKLAD_BASE_URL", "https://api.moysklad.ru/api/remap/1.2/"),
		Username:        os.Getenv("MOYSKLAD_USERNAME"),
		Password:        os.Getenv("MOYSKLAD_PASSWORD"),
		OrganizationRef: os.Getenv("MOYSKLAD_ORGANIZATION"),
		StoreRefs:       splitList(os.Getenv("MOYSKLAD_STORES")),
		PageLimit:       getEnvInt("SYNC_PAGE_LIMIT", 1000),
		RetryAttempts:   getEnvInt("SYNC_RETRY_ATTEMPTS", 30),
		RetryDelay:      getEnvDuration("SYNC_RETRY_DELAY", time.Second),
		HistoryHorizon:  getEnv("HISTORY_HORIZON", "2024-06-01"),
		SalesAt:         getEnv("SYNC_SALES_AT", "12:15"),
		StockAt:         getEnv("SYNC_STOCK_AT", "12:40"),
		IncomingAt:      getEnv("SYNC_INCOMING_AT", "12:59"),
		SyncOnStart:     getEnvBool("SYNC_ON_START", false),
		ForecastURL:     os.Getenv("FORECAST_URL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required values are present and well-formed.
func (c *Config) Validate() error {
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("config: MOYSKLAD_USERNAME and MOYSKLAD_PASSWORD are required")
	}
	if c.OrganizationRef == "" {
		return fmt.Errorf("config: MOYSKLAD_ORGANIZATION is required")
	}
	if len(c.StoreRefs) == 0 {
		return fmt.Errorf("config: MOYSKLAD_STORES is required (comma-separated store hrefs)")
	}
	if c.PageLimit <= 0 {
		return fmt.Errorf("config: SYNC_PAGE_LIMIT must be positive, got %d", c.PageLimit)
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("config: SYNC_RETRY_ATTEMPTS must be positive, got %d", c.RetryAttempts)
	}
	if _, err := time.Parse("2006-01-02", c.HistoryHorizon); err != nil {
		return fmt.Errorf("config: HISTORY_HORIZON must be YYYY-MM-DD: %w", err)
	}
	for _, at := range []string{c.SalesAt, c.StockAt, c.IncomingAt} {
		if _, err := time.Parse("15:04", at); err != nil {
			return fmt.Errorf("config: schedule time %q must be HH:MM: %w", at, err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
