package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database       DatabaseConfig
	Server         ServerConfig
	App            AppConfig
	Google         GoogleConfig
	Reconciliation ReconciliationConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type ServerConfig struct {
	Port string
}

type AppConfig struct {
	LogLevel string
}

// GoogleConfig holds the OAuth client used to refresh tenant mailbox tokens.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type ReconciliationConfig struct {
	PollInterval      time.Duration
	PageSize          int64
	TenantConcurrency int
	MatchWindow       time.Duration
	MailboxQuery      string // empty means derive from the provider table
	SchedulerEnabled  bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	pollInterval, err := getDuration("RECON_POLL_INTERVAL", 20*time.Second)
	if err != nil {
		return nil, err
	}
	matchWindow, err := getDuration("RECON_MATCH_WINDOW", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	pageSize, err := strconv.ParseInt(getEnv("RECON_PAGE_SIZE", "10"), 10, 64)
	if err != nil || pageSize <= 0 {
		pageSize = 10
	}

	concurrency, err := strconv.Atoi(getEnv("RECON_TENANT_CONCURRENCY", "4"))
	if err != nil || concurrency <= 0 {
		concurrency = 4
	}

	schedulerEnabled, err := strconv.ParseBool(getEnv("RECON_SCHEDULER_ENABLED", "true"))
	if err != nil {
		schedulerEnabled = true
	}

	return &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "school_fees"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		App: AppConfig{
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Google: GoogleConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("GOOGLE_REDIRECT_URI", ""),
		},
		Reconciliation: ReconciliationConfig{
			PollInterval:      pollInterval,
			PageSize:          pageSize,
			TenantConcurrency: concurrency,
			MatchWindow:       matchWindow,
			MailboxQuery:      getEnv("RECON_MAILBOX_QUERY", ""),
			SchedulerEnabled:  schedulerEnabled,
		},
	}, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}
