package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session
	SessionSecret string
	SessionMaxAge int // 永続セッション（ログイン状態を保持）の有効期間（秒）

	// Identity
	RequireConfirmedAccount bool
	ConfirmationTokenTTL    time.Duration
	PasswordRequiredLength  int
	PasswordRequireDigit    bool
	PasswordRequireLower    bool
	PasswordRequireUpper    bool
	PasswordRequireNonAlnum bool

	// External login (Google)。ClientIDが空の場合は外部ログインを無効にする。
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Mail
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	// Outbox
	OutboxInterval      time.Duration
	OutboxBatchSize     int
	OutboxMaxAttempts   int
	OutboxMaxConcurrent int
	OutboxRetentionDays int

	// Maps
	GoogleMapsAPIKey        string
	GeocodeEndpoint         string
	GeocodeTimeout          time.Duration
	GeocodeBatchInterval    time.Duration
	GeocodeAPIInterval      time.Duration
	GeocodeMaxCallsPerCycle int

	// Rate Limit
	RateLimitAccount int // アカウント系POSTのレート（req/min/client）

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// ExternalLoginEnabled はGoogle外部ログインが設定されているかを返す。
func (c *Config) ExternalLoginEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.SessionSecret) < 32 {
		return nil, fmt.Errorf("SESSION_SECRET must be at least 32 characters long")
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 14*86400)
	cfg.RequireConfirmedAccount = getEnvBool("REQUIRE_CONFIRMED_ACCOUNT", false)
	cfg.ConfirmationTokenTTL = getEnvDuration("CONFIRMATION_TOKEN_TTL", 24*time.Hour)
	cfg.PasswordRequiredLength = getEnvInt("PASSWORD_REQUIRED_LENGTH", 6)
	cfg.PasswordRequireDigit = getEnvBool("PASSWORD_REQUIRE_DIGIT", true)
	cfg.PasswordRequireLower = getEnvBool("PASSWORD_REQUIRE_LOWERCASE", true)
	cfg.PasswordRequireUpper = getEnvBool("PASSWORD_REQUIRE_UPPERCASE", true)
	cfg.PasswordRequireNonAlnum = getEnvBool("PASSWORD_REQUIRE_NON_ALPHANUMERIC", true)

	cfg.GoogleClientID = getEnvString("GOOGLE_CLIENT_ID", "")
	cfg.GoogleClientSecret = getEnvString("GOOGLE_CLIENT_SECRET", "")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", cfg.BaseURL+"/Identity/Account/ExternalLogin/Callback")

	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.MailFrom = getEnvString("MAIL_FROM", "no-reply@localhost")

	cfg.OutboxInterval = getEnvDuration("OUTBOX_INTERVAL", 30*time.Second)
	cfg.OutboxBatchSize = getEnvInt("OUTBOX_BATCH_SIZE", 50)
	cfg.OutboxMaxAttempts = getEnvInt("OUTBOX_MAX_ATTEMPTS", 8)
	cfg.OutboxMaxConcurrent = getEnvInt("OUTBOX_MAX_CONCURRENT", 5)
	cfg.OutboxRetentionDays = getEnvInt("OUTBOX_RETENTION_DAYS", 30)

	cfg.GoogleMapsAPIKey = getEnvString("GOOGLE_MAPS_API_KEY", "")
	cfg.GeocodeEndpoint = getEnvString("GEOCODE_ENDPOINT", "https://maps.googleapis.com/maps/api/geocode/json")
	cfg.GeocodeTimeout = getEnvDuration("GEOCODE_TIMEOUT", 10*time.Second)
	cfg.GeocodeBatchInterval = getEnvDuration("GEOCODE_BATCH_INTERVAL", 10*time.Minute)
	cfg.GeocodeAPIInterval = getEnvDuration("GEOCODE_API_INTERVAL", 200*time.Millisecond)
	cfg.GeocodeMaxCallsPerCycle = getEnvInt("GEOCODE_MAX_CALLS_PER_CYCLE", 50)

	cfg.RateLimitAccount = getEnvInt("RATE_LIMIT_ACCOUNT", 20)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.BaseURL)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
