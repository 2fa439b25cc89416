package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is the dashboard API server configuration.
type Config struct {
	ListenAddr      string
	StoreMode       string
	DatabaseURL     string
	SQLitePath      string
	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AdminUsername   string
	AdminPassword   string
	HistoryMaxSize  int
	MaxComponents   int
	LogLevel        string
	LogFormat       string

	EventWebhookURL        string
	EventWebhookTimeout    time.Duration
	EventWebhookMaxRetries int
	EventWebhookRetryBase  time.Duration
	EventWebhookRetryMax   time.Duration

	TelegramAPIBase  string
	TelegramBotToken string
	TelegramChatID   string
}

func Load() Config {
	return Config{
		ListenAddr:             getEnv("LISTEN_ADDR", ":18080"),
		StoreMode:              getEnv("STORE_MODE", "memory"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		SQLitePath:             getEnv("SQLITE_PATH", "gridops.db"),
		JWTSecret:              getEnv("JWT_SECRET", "change-this-secret"),
		JWTIssuer:              getEnv("JWT_ISSUER", "gridops"),
		AccessTokenTTL:         getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:        getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		AdminUsername:          getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:          getEnv("ADMIN_PASSWORD", "change-me"),
		HistoryMaxSize:         getInt("HISTORY_MAX_SIZE", 50),
		MaxComponents:          getInt("MAX_COMPONENTS", 500),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "json"),
		EventWebhookURL:        getEnv("EVENT_WEBHOOK_URL", ""),
		EventWebhookTimeout:    getDuration("EVENT_WEBHOOK_TIMEOUT", 5*time.Second),
		EventWebhookMaxRetries: getInt("EVENT_WEBHOOK_MAX_RETRIES", 3),
		EventWebhookRetryBase:  getDuration("EVENT_WEBHOOK_RETRY_BASE", 500*time.Millisecond),
		EventWebhookRetryMax:   getDuration("EVENT_WEBHOOK_RETRY_MAX", 5*time.Second),
		TelegramAPIBase:        getEnv("TELEGRAM_API_BASE", "https://api.telegram.org"),
		TelegramBotToken:       getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:         getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

// ClientConfig is what dashctl needs to reach the API.
type ClientConfig struct {
	APIURL          string
	CredentialsFile string
	CredentialsKey  string
	Embedded        bool
	RequestTimeout  time.Duration
	LogLevel        string
}

func LoadClient() ClientConfig {
	return ClientConfig{
		APIURL:          getEnv("GRIDOPS_API_URL", "http://localhost:18080"),
		CredentialsFile: getEnv("GRIDOPS_CREDENTIALS_FILE", defaultCredentialsFile()),
		CredentialsKey:  getEnv("GRIDOPS_CREDENTIALS_KEY", ""),
		Embedded:        getBool("GRIDOPS_EMBEDDED", false),
		RequestTimeout:  getDuration("GRIDOPS_REQUEST_TIMEOUT", 15*time.Second),
		LogLevel:        getEnv("GRIDOPS_LOG_LEVEL", "warn"),
	}
}

func defaultCredentialsFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".gridops-credentials.yaml"
	}
	return filepath.Join(dir, "gridops", "credentials.yaml")
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
