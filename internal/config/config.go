package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-core/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Security      SecurityConfig
	VenueA        VenueConfig
	VenueB        VenueConfig
	Execution     ExecutionConfig
	Risk          RiskConfig
	Exposure      ExposureConfig
	Reconciliation ReconciliationConfig
	Logging       LoggingConfig
}

// VenueConfig holds one platform connector's connection settings.
// APIKey/APISecret are stored encrypted in the environment; the APIKey and
// APISecret methods decrypt them on each call with the key the caller
// passes. They never appear in logs.
type VenueConfig struct {
	Name              string
	BaseURL           string
	APIKeyEncrypted   string
	APISecretEncrypted string
	Paper             bool
	RequestsPerSecond int
	Burst             int
}

// APIKey decrypts the venue's API key using the given 32-byte key.
func (v VenueConfig) APIKey(key []byte) (string, error) {
	if v.APIKeyEncrypted == "" {
		return "", nil
	}
	return crypto.Decrypt(v.APIKeyEncrypted, key)
}

// APISecret decrypts the venue's API secret using the given 32-byte key.
func (v VenueConfig) APISecret(key []byte) (string, error) {
	if v.APISecretEncrypted == "" {
		return "", nil
	}
	return crypto.Decrypt(v.APISecretEncrypted, key)
}

// ExecutionConfig carries the timings the execution core's lock and
// exit/alert schedulers run on.
type ExecutionConfig struct {
	LockTTL            time.Duration
	LegTimeout         time.Duration
	ExitPollInterval   time.Duration
	AlertReminderEvery time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
}

// RiskConfig carries the capital budget the Manager reserves against.
type RiskConfig struct {
	TotalBudgetUsd decimal.Decimal
}

// ExposureConfig carries exposure.Thresholds' values.
type ExposureConfig struct {
	MonthlyExposureThreshold    int
	WeeklyConsecutiveBreachWeeks int
}

// ReconciliationConfig carries the reconciliation engine's pacing.
type ReconciliationConfig struct {
	Debounce           time.Duration
	OrderStatusTimeout time.Duration
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	JWTSecret      string
	EncryptionKey  string
	SessionTimeout int
}


// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "arbitrage"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
			EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
			SessionTimeout: getEnvAsInt("SESSION_TIMEOUT", 3600),
		},
		VenueA: VenueConfig{
			Name:               getEnv("VENUE_A_NAME", "venue-a"),
			BaseURL:            getEnv("VENUE_A_BASE_URL", ""),
			APIKeyEncrypted:    getEnv("VENUE_A_API_KEY_ENCRYPTED", ""),
			APISecretEncrypted: getEnv("VENUE_A_API_SECRET_ENCRYPTED", ""),
			Paper:              getEnvAsBool("VENUE_A_PAPER", true),
			RequestsPerSecond:  getEnvAsInt("VENUE_A_RPS", 5),
			Burst:              getEnvAsInt("VENUE_A_BURST", 10),
		},
		VenueB: VenueConfig{
			Name:               getEnv("VENUE_B_NAME", "venue-b"),
			BaseURL:            getEnv("VENUE_B_BASE_URL", ""),
			APIKeyEncrypted:    getEnv("VENUE_B_API_KEY_ENCRYPTED", ""),
			APISecretEncrypted: getEnv("VENUE_B_API_SECRET_ENCRYPTED", ""),
			Paper:              getEnvAsBool("VENUE_B_PAPER", true),
			RequestsPerSecond:  getEnvAsInt("VENUE_B_RPS", 5),
			Burst:              getEnvAsInt("VENUE_B_BURST", 10),
		},
		Execution: ExecutionConfig{
			LockTTL:            getEnvAsDuration("EXECUTION_LOCK_TTL", 30*time.Second),
			LegTimeout:         getEnvAsDuration("EXECUTION_LEG_TIMEOUT", 5*time.Second),
			ExitPollInterval:   getEnvAsDuration("EXIT_POLL_INTERVAL", 30*time.Second),
			AlertReminderEvery: getEnvAsDuration("ALERT_REMINDER_EVERY", 55*time.Second),
			MaxRetries:         getEnvAsInt("MAX_RETRIES", 4),
			RetryBackoff:       getEnvAsDuration("RETRY_BACKOFF", 500*time.Millisecond),
		},
		Risk: RiskConfig{
			TotalBudgetUsd: getEnvAsDecimal("TOTAL_BUDGET_USD", decimal.NewFromInt(10000)),
		},
		Exposure: ExposureConfig{
			MonthlyExposureThreshold:     getEnvAsInt("MONTHLY_EXPOSURE_THRESHOLD", 5),
			WeeklyConsecutiveBreachWeeks: getEnvAsInt("WEEKLY_CONSECUTIVE_BREACH_WEEKS", 3),
		},
		Reconciliation: ReconciliationConfig{
			Debounce:           getEnvAsDuration("RECONCILIATION_DEBOUNCE", 30*time.Second),
			OrderStatusTimeout: getEnvAsDuration("RECONCILIATION_ORDER_STATUS_TIMEOUT", 2*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Валидация критичных параметров
	if cfg.Security.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required for encrypting API keys")
	}

	if len(cfg.Security.EncryptionKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	return cfg, nil
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
