package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
)

// Storage failure policies applied when a valid reading cannot be written.
const (
	PolicyDiscard    = "discard"
	PolicyDeadLetter = "dead-letter"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds all service settings, populated from environment variables.
// It is built once at startup and not modified afterwards.
type Config struct {
	BrokerAddrs          []string
	BrokerExchange       string
	BrokerRoutingKey     string
	BrokerQueue          string
	AlertQueue           string
	BrokerDeadLetter     string
	BrokerRetryInterval  time.Duration
	StorageRetryInterval time.Duration

	Postgres             PostgresConfig
	StorageTable         string
	StorageFailurePolicy string

	GeneratorInterval time.Duration
	GeneratorCount    int
	PublishAttempts   int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Alerting settings, only populated by LoadAlerter.
	Thresholds domain.Thresholds
	Email      EmailConfig
}

// PostgresConfig describes the storage connection.
type PostgresConfig struct {
	Host     string
	Port     int
	DBName   string
	User     string
	Password string
	SSLMode  string
}

// DSN returns a lib/pq key/value connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.DBName, p.User, p.Password, p.SSLMode)
}

// EmailConfig is the fixed sender/recipient pair plus an optional SMTP relay.
type EmailConfig struct {
	From         string
	To           string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	// SendTimeout bounds one delivery from dial to QUIT.
	SendTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	brokerRetry, err := parseDuration("BROKER_RETRY_INTERVAL", "3s")
	if err != nil {
		return nil, err
	}
	storageRetry, err := parseDuration("STORAGE_RETRY_INTERVAL", "3s")
	if err != nil {
		return nil, err
	}
	genInterval, err := parseDuration("GENERATOR_INTERVAL", "1s")
	if err != nil {
		return nil, err
	}
	genCount, err := parseInt("GENERATOR_COUNT", 5, 0)
	if err != nil {
		return nil, err
	}
	attempts, err := parseInt("PUBLISH_ATTEMPTS", 3, 1)
	if err != nil {
		return nil, err
	}
	pgPort, err := parseInt("POSTGRES_PORT", 5432, 1)
	if err != nil {
		return nil, err
	}

	exchange := sharedcfg.EnvOrDefault("BROKER_EXCHANGE", "weather_logs")

	cfg := &Config{
		BrokerAddrs:          sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("BROKER_ADDRS", "localhost:9092")),
		BrokerExchange:       exchange,
		BrokerRoutingKey:     sharedcfg.EnvOrDefault("BROKER_ROUTING_KEY", "weather.station"),
		BrokerQueue:          sharedcfg.EnvOrDefault("BROKER_QUEUE", "weather_queue"),
		AlertQueue:           sharedcfg.EnvOrDefault("ALERT_QUEUE", "alerts_queue"),
		BrokerDeadLetter:     sharedcfg.EnvOrDefault("BROKER_DEAD_LETTER_TOPIC", exchange+".dead_letter"),
		BrokerRetryInterval:  brokerRetry,
		StorageRetryInterval: storageRetry,

		Postgres: PostgresConfig{
			Host:     sharedcfg.EnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:     pgPort,
			DBName:   sharedcfg.EnvOrDefault("POSTGRES_DB", "weather"),
			User:     sharedcfg.EnvOrDefault("POSTGRES_USER", "weather_user"),
			Password: sharedcfg.EnvOrDefault("POSTGRES_PASSWORD", "weather_pass"),
			SSLMode:  sharedcfg.EnvOrDefault("POSTGRES_SSLMODE", "disable"),
		},
		StorageTable:         sharedcfg.EnvOrDefault("STORAGE_TABLE", "weather_logs"),
		StorageFailurePolicy: sharedcfg.EnvOrDefault("STORAGE_FAILURE_POLICY", PolicyDiscard),

		GeneratorInterval: genInterval,
		GeneratorCount:    genCount,
		PublishAttempts:   attempts,

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if len(cfg.BrokerAddrs) == 0 {
		return nil, errors.New("BROKER_ADDRS is required")
	}
	if cfg.BrokerExchange == "" {
		return nil, errors.New("BROKER_EXCHANGE is required")
	}
	if cfg.BrokerRoutingKey == "" {
		return nil, errors.New("BROKER_ROUTING_KEY is required")
	}
	if !identifierRe.MatchString(cfg.StorageTable) {
		return nil, fmt.Errorf("invalid STORAGE_TABLE %q", cfg.StorageTable)
	}
	switch cfg.StorageFailurePolicy {
	case PolicyDiscard, PolicyDeadLetter:
	default:
		return nil, fmt.Errorf("invalid STORAGE_FAILURE_POLICY %q (want %s or %s)",
			cfg.StorageFailurePolicy, PolicyDiscard, PolicyDeadLetter)
	}

	return cfg, nil
}

// LoadAlerter loads the common settings plus the thresholds and addresses the
// threshold consumer cannot start without.
func LoadAlerter() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if cfg.Thresholds.Temperature, err = requireFloat("TEMP_THRESHOLD"); err != nil {
		return nil, err
	}
	if cfg.Thresholds.Humidity, err = requireFloat("HUM_THRESHOLD"); err != nil {
		return nil, err
	}
	if cfg.Thresholds.Pressure, err = requireFloat("PRES_THRESHOLD"); err != nil {
		return nil, err
	}

	smtpPort, err := parseInt("SMTP_PORT", 25, 1)
	if err != nil {
		return nil, err
	}
	sendTimeout, err := parseDuration("SMTP_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	cfg.Email = EmailConfig{
		From:         os.Getenv("EMAIL_FROM"),
		To:           os.Getenv("EMAIL_TO"),
		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     smtpPort,
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SendTimeout:  sendTimeout,
	}
	if cfg.Email.From == "" {
		return nil, errors.New("EMAIL_FROM is required")
	}
	if cfg.Email.To == "" {
		return nil, errors.New("EMAIL_TO is required")
	}

	return cfg, nil
}

func requireFloat(key string) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def, minimum int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}
