package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultTurnitAuthURL はTurnit IDサーバーのトークンエンドポイント（prelive環境）。
const DefaultTurnitAuthURL = "https://identity.prelive.twiliner.turnit.tech/connect/token"

// DefaultBrevoAPIURL はBrevo APIのベースURL。
const DefaultBrevoAPIURL = "https://api.brevo.com/v3"

// カーソル永続化バックエンド
const (
	CursorBackendFile     = "file"
	CursorBackendPostgres = "postgres"
	CursorBackendRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Application
	AppEnv   string
	LogLevel string

	// Turnit
	TurnitAPIURL       string
	TurnitAuthURL      string
	TurnitClientID     string
	TurnitClientSecret string
	TurnitPOSID        int
	TurnitSearchLimit  int

	// Brevo
	BrevoAPIURL string
	BrevoAPIKey string

	// Upstream
	UpstreamTimeout         time.Duration
	UpstreamMaxRetries      int
	UpstreamMinInterval     time.Duration
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration

	// Sync
	PollingInterval time.Duration

	// Cursor
	CursorBackend string
	CursorFile    string
	CursorKey     string
	DatabaseURL   string
	RedisURL      string

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 選択したカーソルバックエンドに必要な接続先が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.AppEnv = getEnvString("APP_ENV", "production")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.TurnitAPIURL = strings.TrimRight(os.Getenv("TURNIT_API_URL"), "/")
	cfg.TurnitAuthURL = getEnvString("TURNIT_AUTH_URL", DefaultTurnitAuthURL)
	cfg.TurnitClientID = os.Getenv("TURNIT_AUTH_ID")
	cfg.TurnitClientSecret = os.Getenv("TURNIT_AUTH_SECRET")
	cfg.TurnitPOSID = getEnvInt("TURNIT_POS_ID", 1)
	cfg.TurnitSearchLimit = getEnvInt("TURNIT_SEARCH_LIMIT", 100)

	cfg.BrevoAPIURL = strings.TrimRight(getEnvString("BREVO_API_URL", DefaultBrevoAPIURL), "/")
	cfg.BrevoAPIKey = os.Getenv("BREVO_API_KEY")

	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 15*time.Second)
	cfg.UpstreamMaxRetries = getEnvInt("UPSTREAM_MAX_RETRIES", 2)
	cfg.UpstreamMinInterval = getEnvDuration("UPSTREAM_MIN_INTERVAL", 200*time.Millisecond)
	cfg.BreakerFailureThreshold = getEnvInt("BREAKER_FAILURE_THRESHOLD", 5)
	cfg.BreakerOpenTimeout = getEnvDuration("BREAKER_OPEN_TIMEOUT", time.Minute)

	// 分単位で指定する
	cfg.PollingInterval = time.Duration(getEnvInt("POLLING_INTERVAL_MINUTES", 5)) * time.Minute
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 5 * time.Minute
	}

	cfg.CursorBackend = strings.ToLower(getEnvString("CURSOR_BACKEND", CursorBackendFile))
	cfg.CursorFile = getEnvString("CURSOR_FILE", "sync_state.json")
	cfg.CursorKey = getEnvString("CURSOR_KEY", "turnit:last_sync_time")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.ServerPort = getEnvString("PORT", "3000")

	switch cfg.CursorBackend {
	case CursorBackendFile:
	case CursorBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("required environment variables are not set: %v", []string{"DATABASE_URL"})
		}
	case CursorBackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("required environment variables are not set: %v", []string{"REDIS_URL"})
		}
	default:
		return nil, fmt.Errorf("unsupported CURSOR_BACKEND: %q", cfg.CursorBackend)
	}

	return cfg, nil
}

// IsTestEnv はテスト環境（トークン取得失敗時にプレースホルダーを許容する）かどうかを返す。
func (c *Config) IsTestEnv() bool {
	return c.AppEnv == "test"
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
