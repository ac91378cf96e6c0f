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

	// Credential
	PasswordPepper    string
	MinPasswordLength int
	BcryptCost        int
	HashWorkers       int

	// Session
	SessionSecret   string
	RememberMaxAge  time.Duration
	ReturnURLSecret string

	// Token lifetimes
	ConfirmationTokenLifetime time.Duration
	ResetTokenLifetime        time.Duration

	// Cache
	UserCacheTTL time.Duration

	// Rate Limit (req/min/IP)
	RateLimitGeneral    int
	RateLimitCredential int

	// External providers (optional)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Seed
	AdminUserName string
	AdminEmail    string
	AdminPassword string

	// Server
	ServerPort string
	BaseURL    string
	AppName    string

	// Cookie
	CookieSecure bool
	CookieDomain string
}

// bcryptコストは本番10、テスト環境では4に落として高速化する。
const (
	defaultBcryptCost = 10
	testBcryptCost    = 4
)

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

	cfg.PasswordPepper = os.Getenv("PASSWORD_PEPPER")
	if cfg.PasswordPepper == "" {
		missing = append(missing, "PASSWORD_PEPPER")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.MinPasswordLength = getEnvInt("MIN_PASSWORD_LENGTH", 6)
	bcryptCost := defaultBcryptCost
	if os.Getenv("GO_ENV") == "test" {
		bcryptCost = testBcryptCost
	}
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", bcryptCost)
	cfg.HashWorkers = getEnvInt("HASH_WORKERS", 4)

	cfg.RememberMaxAge = getEnvDuration("REMEMBER_MAX_AGE", 720*time.Hour)
	cfg.ReturnURLSecret = getEnvString("RETURN_URL_SECRET", cfg.SessionSecret)

	cfg.ConfirmationTokenLifetime = getEnvDuration("CONFIRMATION_TOKEN_LIFETIME", 24*time.Hour)
	cfg.ResetTokenLifetime = getEnvDuration("RESET_TOKEN_LIFETIME", 2*time.Hour)

	cfg.UserCacheTTL = getEnvDuration("USER_CACHE_TTL", 5*time.Minute)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCredential = getEnvInt("RATE_LIMIT_CREDENTIAL", 10)

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL",
		strings.TrimRight(cfg.BaseURL, "/")+"/auth/external/google/callback")

	cfg.AdminUserName = getEnvString("ADMIN_USER_NAME", "admin")
	cfg.AdminEmail = getEnvString("ADMIN_EMAIL", "")
	cfg.AdminPassword = getEnvString("ADMIN_PASSWORD", "")

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.AppName = getEnvString("APP_NAME", "ident")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")

	return cfg, nil
}

// GoogleEnabled はGoogleプロバイダーの設定が揃っているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
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
