package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"bracketbot/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration.
type Config struct {
	// Exchange API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading Parameters
	Ticker         string
	Quantity       float64
	PricePrecision int     // Decimal digits for price rounding
	LimitRatio     float64 // Protective-leg limit offset, e.g. 0.01 for 1%
	AllowTrade     bool    // Global allow-flag; entries are rejected while false

	// Risk Limits
	StopLossMinCoeff float64
	StopLossMaxCoeff float64
	ProfitMinCoeff   float64
	ProfitMaxCoeff   float64
	WaitAfterLoss    time.Duration

	// Lifecycle timing
	CheckInterval   time.Duration // Periodic trade status check interval
	PollMaxAttempts int           // Bounded fill-confirmation polls
	PollMinDelay    time.Duration
	PollMaxDelay    time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel

	// Metrics endpoint address, empty disables it
	MetricsAddr string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Exchange API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Trading Parameters
	cfg.Ticker = getEnv("TICKER", "BTCUSDT")
	if cfg.Ticker == "" {
		errs = append(errs, "TICKER must be set")
	}

	cfg.Quantity, err = getEnvAsFloatRequired("QUANTITY", 0.001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid QUANTITY: %v", err))
	} else if cfg.Quantity <= 0 {
		errs = append(errs, "QUANTITY must be positive")
	}

	cfg.PricePrecision, err = getEnvAsIntRequired("PRICE_PRECISION", 2)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRICE_PRECISION: %v", err))
	} else if cfg.PricePrecision < 0 {
		errs = append(errs, "PRICE_PRECISION cannot be negative")
	}

	cfg.LimitRatio, err = getEnvAsFloatRequired("LIMIT_RATIO", 0.01)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LIMIT_RATIO: %v", err))
	} else if cfg.LimitRatio < 0 || cfg.LimitRatio >= 1 {
		errs = append(errs, "LIMIT_RATIO must be in [0.0, 1.0)")
	}

	cfg.AllowTrade = getEnvAsBool("ALLOW_TRADE", false)

	// Risk Limits
	cfg.StopLossMinCoeff = getEnvAsFloat("STOP_LOSS_MIN_COEFF", 0)
	cfg.StopLossMaxCoeff = getEnvAsFloat("STOP_LOSS_MAX_COEFF", 0)
	cfg.ProfitMinCoeff = getEnvAsFloat("PROFIT_MIN_COEFF", 0)
	cfg.ProfitMaxCoeff = getEnvAsFloat("PROFIT_MAX_COEFF", 0)
	if cfg.StopLossMinCoeff < 0 || cfg.ProfitMinCoeff < 0 {
		errs = append(errs, "risk coefficients cannot be negative")
	}

	waitAfterLossSeconds := getEnvAsInt("WAIT_AFTER_LOSS_SECONDS", 0)
	if waitAfterLossSeconds < 0 {
		errs = append(errs, "WAIT_AFTER_LOSS_SECONDS cannot be negative")
	}
	cfg.WaitAfterLoss = time.Duration(waitAfterLossSeconds) * time.Second

	// Lifecycle timing
	checkIntervalSeconds := getEnvAsInt("CHECK_INTERVAL_SECONDS", 30)
	if checkIntervalSeconds <= 0 {
		errs = append(errs, "CHECK_INTERVAL_SECONDS must be positive")
	}
	cfg.CheckInterval = time.Duration(checkIntervalSeconds) * time.Second

	cfg.PollMaxAttempts = getEnvAsInt("POLL_MAX_ATTEMPTS", 5)
	if cfg.PollMaxAttempts <= 0 {
		errs = append(errs, "POLL_MAX_ATTEMPTS must be positive")
	}

	pollMinDelayMs := getEnvAsInt("POLL_MIN_DELAY_MS", 200)
	pollMaxDelayMs := getEnvAsInt("POLL_MAX_DELAY_MS", 3000)
	if pollMinDelayMs <= 0 || pollMaxDelayMs < pollMinDelayMs {
		errs = append(errs, "POLL_MIN_DELAY_MS must be positive and <= POLL_MAX_DELAY_MS")
	}
	cfg.PollMinDelay = time.Duration(pollMinDelayMs) * time.Millisecond
	cfg.PollMaxDelay = time.Duration(pollMaxDelayMs) * time.Millisecond

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trades.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr)

	// Metrics
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
