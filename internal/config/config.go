package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store（マネージドバックエンド）
	StoreURL            string // REST APIのベースURL
	StoreAnonKey        string // 制限付きクライアント資格情報（行レベルポリシー適用）
	StoreServiceRoleKey string // 昇格済みサービス資格情報（行レベルポリシーをバイパス）

	// Upstream
	UpstreamTimeout time.Duration

	// Session
	SessionMaxAge int

	// Rate Limit（req/min/user）
	RateLimitGeneral  int
	RateLimitPassword int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
//
// ストア資格情報（STORE_URL, STORE_ANON_KEY, STORE_SERVICE_ROLE_KEY）は
// 欠落していてもLoad自体は成功する。欠落は MissingStoreVars で検出でき、
// その場合すべての特権エンドポイントは処理前に設定エラー（500）で応答する。
func Load() *Config {
	cfg := &Config{}

	cfg.StoreURL = strings.TrimRight(os.Getenv("STORE_URL"), "/")
	cfg.StoreAnonKey = os.Getenv("STORE_ANON_KEY")
	cfg.StoreServiceRoleKey = os.Getenv("STORE_SERVICE_ROLE_KEY")

	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitPassword = getEnvInt("RATE_LIMIT_PASSWORD", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg
}

// MissingStoreVars は未設定のストア関連必須環境変数の名前を返す。
// すべて設定済みの場合は空スライスを返す。
func (c *Config) MissingStoreVars() []string {
	var missing []string
	if c.StoreURL == "" {
		missing = append(missing, "STORE_URL")
	}
	if c.StoreAnonKey == "" {
		missing = append(missing, "STORE_ANON_KEY")
	}
	if c.StoreServiceRoleKey == "" {
		missing = append(missing, "STORE_SERVICE_ROLE_KEY")
	}
	return missing
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
