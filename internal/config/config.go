package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Commerce provider
	CommerceAPIURL    string
	CommerceStoreID   string
	CommercePublicKey string
	CommerceTimeout   time.Duration

	// Identity provider
	IdentityVerifyURL string
	IdentityAPIKey    string

	// Reconciliation
	BridgeSecret        string        // 派生クレデンシャル生成用のHMACシークレット
	ReconcileMaxRetries int           // 終端Failedまでの自動リトライ回数
	ReconcileBackoff    time.Duration // バックオフの基準時間（n回目の失敗後 Backoff*(n+1) 待つ）
	CommerceAuthWait    time.Duration // コマース認証完了待ちのソフトタイムアウト

	// Storefront session
	SessionMaxAge int           // セッションCookieの有効期間（秒）
	SessionTTL    time.Duration // セッションコアのアイドル破棄時間

	// News
	NewsFeedURL      string
	NewsFetchTimeout time.Duration
	NewsFetchMaxSize int64
	NewsCacheTTL     time.Duration

	// Push
	PushTokenRetentionDays int

	// Rate Limit
	RateLimitGeneral int
	RateLimitCartMut int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがある場合は先に読み込む（既存の環境変数が優先）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envはローカル開発用。存在しない場合のエラーは無視する。
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.CommerceAPIURL = os.Getenv("COMMERCE_API_URL")
	if cfg.CommerceAPIURL == "" {
		missing = append(missing, "COMMERCE_API_URL")
	}

	cfg.CommerceStoreID = os.Getenv("COMMERCE_STORE_ID")
	if cfg.CommerceStoreID == "" {
		missing = append(missing, "COMMERCE_STORE_ID")
	}

	cfg.CommercePublicKey = os.Getenv("COMMERCE_PUBLIC_KEY")
	if cfg.CommercePublicKey == "" {
		missing = append(missing, "COMMERCE_PUBLIC_KEY")
	}

	cfg.IdentityVerifyURL = os.Getenv("IDENTITY_VERIFY_URL")
	if cfg.IdentityVerifyURL == "" {
		missing = append(missing, "IDENTITY_VERIFY_URL")
	}

	cfg.IdentityAPIKey = os.Getenv("IDENTITY_API_KEY")
	if cfg.IdentityAPIKey == "" {
		missing = append(missing, "IDENTITY_API_KEY")
	}

	cfg.BridgeSecret = os.Getenv("BRIDGE_SECRET")
	if cfg.BridgeSecret == "" {
		missing = append(missing, "BRIDGE_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.CommerceTimeout = getEnvDuration("COMMERCE_TIMEOUT", 10*time.Second)
	cfg.ReconcileMaxRetries = getEnvInt("RECONCILE_MAX_RETRIES", 3)
	cfg.ReconcileBackoff = getEnvDuration("RECONCILE_BACKOFF", 2*time.Second)
	cfg.CommerceAuthWait = getEnvDuration("COMMERCE_AUTH_WAIT", 10*time.Second)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 30*time.Minute)
	cfg.NewsFeedURL = getEnvString("NEWS_FEED_URL", "")
	cfg.NewsFetchTimeout = getEnvDuration("NEWS_FETCH_TIMEOUT", 10*time.Second)
	cfg.NewsFetchMaxSize = getEnvInt64("NEWS_FETCH_MAX_SIZE", 5242880)
	cfg.NewsCacheTTL = getEnvDuration("NEWS_CACHE_TTL", 10*time.Minute)
	cfg.PushTokenRetentionDays = getEnvInt("PUSH_TOKEN_RETENTION_DAYS", 180)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCartMut = getEnvInt("RATE_LIMIT_CART_MUTATION", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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
