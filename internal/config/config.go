package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the process environment: where to persist, how to serve, how to
// log. Per-run strategy settings live in RunConfig.
type Config struct {
	// Secrets (from .env)
	WebhookURL      string
	BotName         string
	APIKey          string
	CORSAllowOrigin string

	// Database
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string
	PersistRuns bool

	// API
	APIPort int

	// Logging / metrics
	LogLevel         string
	LogDir           string
	MetricsNamespace string

	// Risk Management
	MaxOpenGrids      int
	MaxOrderCash      float64
	StopLossPercent   float64
	TakeProfitPercent float64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		// Secrets
		WebhookURL:      envStr("WEBHOOK_URL", ""),
		BotName:         envStr("BOT_NAME", "GridZone"),
		APIKey:          envStr("API_KEY", ""),
		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", "*"),

		// Database
		DBHost:      envStr("DB_HOST", ""),
		DBPort:      envInt("DB_PORT", 5432),
		DBName:      envStr("DB_NAME", "gridzone"),
		DBUser:      envStr("DB_USER", ""),
		DBPassword:  envStr("DB_PASSWORD", ""),
		PersistRuns: envBool("PERSIST_RUNS", false),

		APIPort: envInt("API_PORT", 3001),

		LogLevel:         envStr("LOG_LEVEL", "info"),
		LogDir:           envStr("LOG_DIR", "logs"),
		MetricsNamespace: envStr("METRICS_NAMESPACE", "gridzone"),

		// Risk Management
		MaxOpenGrids:      envInt("MAX_OPEN_GRIDS", 0),
		MaxOrderCash:      envFloat("MAX_ORDER_CASH", 0),
		StopLossPercent:   envFloat("STOP_LOSS_PERCENT", 0),
		TakeProfitPercent: envFloat("TAKE_PROFIT_PERCENT", 0),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string

	if c.PersistRuns && c.DBHost == "" {
		errs = append(errs, "DB_HOST is required when PERSIST_RUNS is set")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Sprintf("API_PORT %d out of range", c.APIPort))
	}
	if c.MaxOpenGrids < 0 || c.MaxOrderCash < 0 || c.StopLossPercent < 0 || c.TakeProfitPercent < 0 {
		errs = append(errs, "risk limits must not be negative")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Warnings lists settings that are legal but probably unintended.
func (c *Config) Warnings() []string {
	var w []string
	if c.StopLossPercent == 0 && c.TakeProfitPercent == 0 {
		w = append(w, "STOP_LOSS_PERCENT and TAKE_PROFIT_PERCENT are both 0, no portfolio circuit breakers active")
	}
	if c.MaxOpenGrids == 0 && c.MaxOrderCash == 0 {
		w = append(w, "MAX_OPEN_GRIDS and MAX_ORDER_CASH are both 0, no per-order limits active")
	}
	if c.APIKey == "" {
		w = append(w, "API_KEY not set, REST API has no authentication")
	}
	return w
}

func (c *Config) HasDatabase() bool { return c.DBHost != "" }

func (c *Config) Print() {
	fmt.Println("=== Grid Zone Configuration ===")
	fmt.Printf("Bot Name: %s\n", c.BotName)
	fmt.Printf("Log Level: %s (dir %s)\n", c.LogLevel, c.LogDir)
	fmt.Println("--------------------------------------")
	if c.HasDatabase() {
		fmt.Printf("Database: %s@%s:%d/%s\n", c.DBUser, c.DBHost, c.DBPort, c.DBName)
	} else {
		fmt.Println("Database: not configured")
	}
	fmt.Printf("Persist Runs: %v\n", c.PersistRuns)
	fmt.Printf("Webhook: %s\n", boolLabel(c.WebhookURL != "", "configured", "not set"))
	fmt.Println("--------------------------------------")
	fmt.Println("Risk Limits:")
	fmt.Printf("  Max Open Grids: %s\n", limitLabel(float64(c.MaxOpenGrids), "%.0f"))
	fmt.Printf("  Max Order Cash: %s\n", limitLabel(c.MaxOrderCash, "$%.2f"))
	fmt.Printf("  Portfolio Stop: %s\n", limitLabel(c.StopLossPercent, "-%.1f%%"))
	fmt.Printf("  Portfolio Take: %s\n", limitLabel(c.TakeProfitPercent, "+%.1f%%"))
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func limitLabel(v float64, format string) string {
	if v == 0 {
		return "off"
	}
	return fmt.Sprintf(format, v)
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
