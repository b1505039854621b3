// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ユーザーストアのバックエンド
const (
	StorePostgres  = "postgres"
	StoreDatastore = "datastore"
	StoreMemory    = "memory"
)

// セッションストアのバックエンド。SessionStoreはユーザーストアと同じバックエンドを使う。
const (
	SessionStore = "store"
	SessionRedis = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StoreBackend       string
	SessionBackend     string
	DatabaseURL        string
	DatastoreProjectID string
	DatastoreNamespace string
	RedisURL           string

	// OAuth
	GoogleClientID    string
	GoogleUserInfoURL string
	OAuthIssueSession bool
	OutboundGuard     bool // IdPへの送信先をsafeurlで制限する

	// Auth
	SessionMaxAge  int
	BcryptCost     int
	RequestTimeout time.Duration

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitAuth    int
	RateLimitGeneral int

	// Worker
	SessionCleanupInterval time.Duration
	WorkerMetricsPort      string

	// Logging
	LogLevel string

	// Server
	ServerPort   string
	BaseURL      string
	TrustedProxy bool // リバースプロキシ配下でのみX-Forwarded-Forを信頼する

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は.envファイル（存在する場合）と環境変数からConfigを読み込む。
// 既に設定されている環境変数は.envで上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	envFile := getEnvString("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := &Config{}

	cfg.StoreBackend = strings.ToLower(getEnvString("STORE_BACKEND", StorePostgres))
	cfg.SessionBackend = strings.ToLower(getEnvString("SESSION_BACKEND", SessionStore))
	switch cfg.StoreBackend {
	case StorePostgres, StoreDatastore, StoreMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND: %q", cfg.StoreBackend)
	}
	switch cfg.SessionBackend {
	case SessionStore, SessionRedis:
	default:
		return nil, fmt.Errorf("unsupported SESSION_BACKEND: %q", cfg.SessionBackend)
	}

	// Required fields
	var missing []string

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.StoreBackend == StorePostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.DatastoreProjectID = os.Getenv("DATASTORE_PROJECT_ID")
	if cfg.StoreBackend == StoreDatastore && cfg.DatastoreProjectID == "" {
		missing = append(missing, "DATASTORE_PROJECT_ID")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.SessionBackend == SessionRedis && cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DatastoreNamespace = getEnvString("DATASTORE_NAMESPACE", "")
	cfg.GoogleUserInfoURL = getEnvString("GOOGLE_USERINFO_URL", "https://www.googleapis.com/oauth2/v3/userinfo")
	cfg.OAuthIssueSession = getEnvBool("OAUTH_ISSUE_SESSION", true)
	cfg.OutboundGuard = getEnvBool("OUTBOUND_GUARD", true)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 2592000)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", 10*time.Second)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9090")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.TrustedProxy = getEnvBool("TRUSTED_PROXY", false)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	if cfg.SessionMaxAge <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE must be positive, got %d", cfg.SessionMaxAge)
	}
	if cfg.RateLimitAuth <= 0 || cfg.RateLimitGeneral <= 0 {
		return nil, fmt.Errorf("rate limits must be positive (RATE_LIMIT_AUTH=%d, RATE_LIMIT_GENERAL=%d)",
			cfg.RateLimitAuth, cfg.RateLimitGeneral)
	}

	return cfg, nil
}

// SessionMaxAgeDuration はセッション有効期間をtime.Durationで返す。
func (c *Config) SessionMaxAgeDuration() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
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
