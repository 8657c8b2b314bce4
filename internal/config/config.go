package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// minCredentialSecretBytes はクレデンシャル署名用秘密鍵の最小バイト数。
const minCredentialSecretBytes = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Identity provider
	IDPIssuer       string
	IDPAudience     string
	IDPJWTSecret    string // 設定時はHS256で検証、未設定時はOIDCディスカバリー
	IDPClientID     string
	IDPClientSecret string
	IDPTokenURL     string
	IDPProfileURL   string
	IDPTokenLeeway  time.Duration

	// Credential
	CredentialSecret          string
	CredentialKeyID           string
	CredentialPreviousKeyIDs  []string
	CredentialTTL             time.Duration
	CredentialClockSkew       time.Duration
	CredentialPublishDeadline time.Duration

	// Upstream
	UpstreamTimeout   time.Duration
	UpstreamRetryBase time.Duration

	// Events
	KafkaBrokers      []string
	KafkaCheckInTopic string

	// Rate Limit（req/min）
	RateLimitAddress int
	RateLimitGeneral int
	RateLimitCheckIn int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
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

	cfg.CredentialSecret = os.Getenv("CREDENTIAL_SECRET")
	if cfg.CredentialSecret == "" {
		missing = append(missing, "CREDENTIAL_SECRET")
	}

	cfg.IDPIssuer = os.Getenv("IDP_ISSUER")
	if cfg.IDPIssuer == "" {
		missing = append(missing, "IDP_ISSUER")
	}

	cfg.IDPProfileURL = os.Getenv("IDP_PROFILE_URL")
	if cfg.IDPProfileURL == "" {
		missing = append(missing, "IDP_PROFILE_URL")
	}

	cfg.IDPJWTSecret = os.Getenv("IDP_JWT_SECRET")
	cfg.IDPClientID = os.Getenv("IDP_CLIENT_ID")
	if cfg.IDPJWTSecret == "" && cfg.IDPClientID == "" {
		missing = append(missing, "IDP_JWT_SECRET or IDP_CLIENT_ID")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.CredentialSecret) < minCredentialSecretBytes {
		return nil, fmt.Errorf("CREDENTIAL_SECRET must be at least %d bytes", minCredentialSecretBytes)
	}

	// Optional fields with defaults
	cfg.IDPAudience = getEnvString("IDP_AUDIENCE", "")
	cfg.IDPClientSecret = getEnvString("IDP_CLIENT_SECRET", "")
	cfg.IDPTokenURL = getEnvString("IDP_TOKEN_URL", "")
	cfg.IDPTokenLeeway = getEnvDuration("IDP_TOKEN_LEEWAY", 30*time.Second)
	cfg.CredentialKeyID = getEnvString("CREDENTIAL_KEY_ID", "k1")
	cfg.CredentialPreviousKeyIDs = getEnvList("CREDENTIAL_PREVIOUS_KEY_IDS")
	cfg.CredentialTTL = getEnvDuration("CREDENTIAL_TTL", 60*time.Second)
	cfg.CredentialClockSkew = getEnvDuration("CREDENTIAL_CLOCK_SKEW", 5*time.Second)
	cfg.CredentialPublishDeadline = getEnvDuration("CREDENTIAL_PUBLISH_DEADLINE", 2*time.Second)
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 3*time.Second)
	cfg.UpstreamRetryBase = getEnvDuration("UPSTREAM_RETRY_BASE", 50*time.Millisecond)
	cfg.KafkaBrokers = getEnvList("KAFKA_BROKERS")
	cfg.KafkaCheckInTopic = getEnvString("KAFKA_CHECKIN_TOPIC", "gymgate.checkins")
	cfg.RateLimitAddress = getEnvInt("RATE_LIMIT_ADDRESS", 600)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCheckIn = getEnvInt("RATE_LIMIT_CHECKIN", 60)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// UsesOIDC はOIDCディスカバリーでトークンを検証するかどうかを返す。
func (c *Config) UsesOIDC() bool {
	return c.IDPJWTSecret == ""
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

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
