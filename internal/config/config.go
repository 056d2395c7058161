package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"coaching_payments_echo/internal/apperrors"
)

type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	RedisURL    string

	FirebaseCredentialsPath string

	AppURL           string
	PaymentReturnURL string
	DefaultGateway   string

	GatewayTimeout      time.Duration
	PendingExpiryWindow time.Duration
	SweepRRule          string

	Iyzico struct {
		BaseURL   string
		APIKey    string
		SecretKey string
	}

	Relay struct {
		URL     string
		AnonKey string
	}

	Midtrans struct {
		ServerKey    string
		IsProduction bool
	}

	KafkaBrokerURL     string
	PaymentStatusTopic string
	OutboxPollInterval time.Duration
	OutboxPollTimeout  time.Duration

	SMTP struct {
		Host     string
		Port     int
		User     string
		Password string
		From     string
	}
}

// Load reads the process environment, after merging a .env file when present.
func Load() *Config {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.Env = getEnvOrDefault("ENV", "development")
	cfg.Port = getEnvOrDefault("PORT", "8080")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.FirebaseCredentialsPath = getEnvOrDefault("FIREBASE_CREDENTIALS_PATH", "./firebase-service-account.json")

	cfg.AppURL = strings.TrimRight(getEnvOrDefault("APP_URL", "http://localhost:8080"), "/")
	cfg.PaymentReturnURL = getEnvOrDefault("PAYMENT_RETURN_URL", cfg.AppURL+"/payments/result")
	cfg.DefaultGateway = getEnvOrDefault("DEFAULT_GATEWAY", "direct")

	cfg.GatewayTimeout = getEnvAsDuration("GATEWAY_TIMEOUT", 15*time.Second)
	cfg.PendingExpiryWindow = getEnvAsDuration("PENDING_EXPIRY_WINDOW", 30*time.Minute)
	cfg.SweepRRule = getEnvOrDefault("SWEEP_RRULE", "FREQ=MINUTELY;INTERVAL=5")

	cfg.Iyzico.BaseURL = strings.TrimRight(getEnvOrDefault("IYZICO_BASE_URL", "https://sandbox-api.iyzipay.com"), "/")
	cfg.Iyzico.APIKey = os.Getenv("IYZICO_API_KEY")
	cfg.Iyzico.SecretKey = os.Getenv("IYZICO_SECRET_KEY")

	cfg.Relay.URL = strings.TrimRight(os.Getenv("RELAY_URL"), "/")
	cfg.Relay.AnonKey = os.Getenv("RELAY_ANON_KEY")

	cfg.Midtrans.ServerKey = os.Getenv("MIDTRANS_SERVER_KEY")
	cfg.Midtrans.IsProduction = os.Getenv("MIDTRANS_IS_PRODUCTION") == "true"

	cfg.KafkaBrokerURL = os.Getenv("KAFKA_BROKER_URL")
	cfg.PaymentStatusTopic = getEnvOrDefault("PAYMENT_STATUS_TOPIC", "payment_status_updates")
	cfg.OutboxPollInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", 5*time.Second)
	cfg.OutboxPollTimeout = getEnvAsDuration("OUTBOX_POLL_TIMEOUT", 2*time.Second)

	cfg.SMTP.Host = os.Getenv("SMTP_HOST")
	cfg.SMTP.Port = getEnvAsInt("SMTP_PORT", 587)
	cfg.SMTP.User = os.Getenv("SMTP_USER")
	cfg.SMTP.Password = os.Getenv("SMTP_PASS")
	cfg.SMTP.From = os.Getenv("EMAIL_FROM")

	return cfg
}

// ValidateServer checks the settings the API server cannot start without.
func (c *Config) ValidateServer() error {
	if c.DatabaseURL == "" {
		return &apperrors.ConfigurationError{Key: "DATABASE_URL", Message: "must be set"}
	}
	if c.GatewayTimeout <= 0 {
		return &apperrors.ConfigurationError{Key: "GATEWAY_TIMEOUT", Message: "must be positive"}
	}
	if c.Iyzico.APIKey == "" && c.Relay.URL == "" {
		return &apperrors.ConfigurationError{Key: "IYZICO_API_KEY/RELAY_URL", Message: "at least one gateway must be configured"}
	}
	if c.Iyzico.APIKey != "" && c.Iyzico.SecretKey == "" {
		return &apperrors.ConfigurationError{Key: "IYZICO_SECRET_KEY", Message: "required when IYZICO_API_KEY is set"}
	}
	if c.Relay.URL != "" && c.Relay.AnonKey == "" {
		return &apperrors.ConfigurationError{Key: "RELAY_ANON_KEY", Message: "required when RELAY_URL is set"}
	}
	switch c.DefaultGateway {
	case "direct":
		if c.Iyzico.APIKey == "" {
			return &apperrors.ConfigurationError{Key: "DEFAULT_GATEWAY", Message: "direct gateway selected but IYZICO_API_KEY is empty"}
		}
	case "relay":
		if c.Relay.URL == "" {
			return &apperrors.ConfigurationError{Key: "DEFAULT_GATEWAY", Message: "relay gateway selected but RELAY_URL is empty"}
		}
	default:
		return &apperrors.ConfigurationError{Key: "DEFAULT_GATEWAY", Message: "must be direct or relay"}
	}
	return nil
}

// ValidateRelay checks the settings of the trusted relay function.
func (c *Config) ValidateRelay() error {
	if c.DatabaseURL == "" {
		return &apperrors.ConfigurationError{Key: "DATABASE_URL", Message: "must be set"}
	}
	if c.Midtrans.ServerKey == "" {
		return &apperrors.ConfigurationError{Key: "MIDTRANS_SERVER_KEY", Message: "must be set"}
	}
	return nil
}

// ValidateWorker checks the settings of the background worker.
func (c *Config) ValidateWorker() error {
	if c.DatabaseURL == "" {
		return &apperrors.ConfigurationError{Key: "DATABASE_URL", Message: "must be set"}
	}
	if c.PendingExpiryWindow <= 0 {
		return &apperrors.ConfigurationError{Key: "PENDING_EXPIRY_WINDOW", Message: "must be positive"}
	}
	return nil
}

func (c *Config) KafkaBrokers() []string {
	if c.KafkaBrokerURL == "" {
		return nil
	}
	return strings.Split(c.KafkaBrokerURL, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
