package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストレージバックエンドの種類
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageBackend string
	DataDir        string
	SQLitePath     string
	DatabaseURL    string

	// Security
	PasswordHashing string

	// Platform はAppleサインインの可否を決める実行プラットフォーム。
	Platform string

	// Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Apple
	AppleClientID    string
	AppleTeamID      string
	AppleKeyID       string
	ApplePrivateKey  string
	AppleRedirectURL string

	// Provider HTTP
	ProviderTimeout time.Duration

	// Rate Limit
	RateLimitAuth int

	// Server
	ServerPort        string
	CORSAllowedOrigin string
	CookieSecure      bool
	// TrustProxy がtrueの場合、X-Forwarded-ForをクライアントIPとして扱う。
	TrustProxy bool

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 不正な値や、選択したバックエンドに必要な環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StorageBackend = strings.ToLower(getEnvString("STORAGE_BACKEND", BackendFile))
	cfg.DataDir = getEnvString("DATA_DIR", "./data")
	cfg.SQLitePath = getEnvString("SQLITE_PATH", "./data/mockauth.db")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.PasswordHashing = strings.ToLower(getEnvString("PASSWORD_HASHING", "plain"))
	cfg.Platform = strings.ToLower(getEnvString("PLATFORM", "ios"))

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", "http://localhost:8080/auth/google/callback")

	cfg.AppleClientID = os.Getenv("APPLE_CLIENT_ID")
	cfg.AppleTeamID = os.Getenv("APPLE_TEAM_ID")
	cfg.AppleKeyID = os.Getenv("APPLE_KEY_ID")
	cfg.ApplePrivateKey = os.Getenv("APPLE_PRIVATE_KEY")
	cfg.AppleRedirectURL = os.Getenv("APPLE_REDIRECT_URL")

	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:19006")
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", false)
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", false)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case BackendMemory, BackendFile, BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("required environment variables are not set: %v", []string{"DATABASE_URL"})
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND: %q", c.StorageBackend)
	}

	switch c.PasswordHashing {
	case "plain", "bcrypt":
	default:
		return fmt.Errorf("unsupported PASSWORD_HASHING: %q", c.PasswordHashing)
	}

	switch c.Platform {
	case "ios", "android", "web":
	default:
		return fmt.Errorf("unsupported PLATFORM: %q", c.Platform)
	}
	return nil
}

// GoogleConfigured は実プロバイダーを使うのに必要なGoogle設定が揃っていればtrueを返す。
func (c *Config) GoogleConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// AppleConfigured は実プロバイダーを使うのに必要なApple設定が揃っていればtrueを返す。
func (c *Config) AppleConfigured() bool {
	return c.AppleClientID != "" && c.AppleTeamID != "" && c.AppleKeyID != "" && c.ApplePrivateKey != ""
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
