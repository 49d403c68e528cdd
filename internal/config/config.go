// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ストレージ種別
const (
	StorageMemory    = "memory"
	StoragePostgres  = "postgres"
	StorageEncrypted = "encrypted"
)

// MaxReputationPrecision はREPUTATION_PRECISIONの上限。
const MaxReputationPrecision = 9

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerURL       string `env:"SERVER_URL" envDefault:"http://localhost:8080"`
	ServerHost      string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	ServerPort      string `env:"SERVER_PORT" envDefault:"8080"`
	ServerAboutHTML string `env:"SERVER_ABOUT_HTML"`

	// Storage
	StorageType   string `env:"STORAGE_TYPE" envDefault:"encrypted"`
	DatabaseURL   string `env:"DATABASE_URL"`
	EncryptionKey string `env:"ENCRYPTION_KEY"`

	// Discord
	DiscordToken     string `env:"DISCORD_TOKEN"`
	DiscordInviteURL string `env:"DISCORD_INVITE_URL"`
	DiscordGuildID   uint64 `env:"DISCORD_GUILD_ID" envDefault:"0"`

	// Chain
	RPCURL              string        `env:"RPC_URL" envDefault:"https://rpc.gnosischain.com"`
	ReputationOracleURL string        `env:"REPUTATION_ORACLE_URL" envDefault:"https://xdai.colony.io/reputation/xdai"`
	OracleAllowPrivate  bool          `env:"ORACLE_ALLOW_PRIVATE" envDefault:"false"`
	ChainTimeout        time.Duration `env:"CHAIN_TIMEOUT" envDefault:"10s"`

	// Reputation evaluation
	ReputationPrecision   uint8         `env:"REPUTATION_PRECISION" envDefault:"2"`
	ReputationRate        float64       `env:"REPUTATION_RATE" envDefault:"100"`
	ReputationCacheTTL    time.Duration `env:"REPUTATION_CACHE_TTL" envDefault:"1h"`
	ReputationCacheSize   int           `env:"REPUTATION_CACHE_SIZE" envDefault:"10000"`
	AdmissionPollInterval time.Duration `env:"ADMISSION_POLL_INTERVAL" envDefault:"1ms"`

	// Registration
	RequireSignature bool `env:"REQUIRE_SIGNATURE" envDefault:"false"`

	// Rate Limit
	RateLimitPages int `env:"RATE_LIMIT_PAGES" envDefault:"60"`

	// Enforcement
	EnforceInterval      time.Duration `env:"ENFORCE_INTERVAL" envDefault:"0s"`
	EnforceMaxConcurrent int           `env:"ENFORCE_MAX_CONCURRENT" envDefault:"2"`

	// Cookie（SERVER_URLから導出）
	CookieSecure bool `env:"-"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば、未設定の変数のみ補完する。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Parse()
}

// Parse は.envを読まずに現在の環境変数のみからConfigを生成する。
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	cfg.StorageType = strings.ToLower(strings.TrimSpace(cfg.StorageType))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	cfg.CookieSecure = strings.HasPrefix(cfg.ServerURL, "https://")

	if missing := cfg.missing(); len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// missing はストレージ種別に応じて必須となる未設定の変数名を返す。
func (c *Config) missing() []string {
	var missing []string
	if c.StorageType != StorageMemory && c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.StorageType == StorageEncrypted && c.EncryptionKey == "" {
		missing = append(missing, "ENCRYPTION_KEY")
	}
	return missing
}

func (c *Config) validate() error {
	switch c.StorageType {
	case StorageMemory, StoragePostgres, StorageEncrypted:
	default:
		return fmt.Errorf("invalid STORAGE_TYPE %q: must be one of memory, postgres, encrypted", c.StorageType)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q: must be one of debug, info, warn, error", c.LogLevel)
	}

	if c.EncryptionKey != "" {
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil || len(key) != 32 {
			return errors.New("invalid ENCRYPTION_KEY: must be 64 hexadecimal characters")
		}
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid SERVER_URL %q: must be an absolute http(s) URL", c.ServerURL)
	}

	if c.ReputationPrecision > MaxReputationPrecision {
		return fmt.Errorf("invalid REPUTATION_PRECISION %d: must be between 0 and %d", c.ReputationPrecision, MaxReputationPrecision)
	}
	if c.ReputationRate <= 0 {
		return fmt.Errorf("invalid REPUTATION_RATE %v: must be positive", c.ReputationRate)
	}
	if c.ReputationCacheSize < 1 {
		return fmt.Errorf("invalid REPUTATION_CACHE_SIZE %d: must be positive", c.ReputationCacheSize)
	}
	if c.RateLimitPages < 1 {
		return fmt.Errorf("invalid RATE_LIMIT_PAGES %d: must be positive", c.RateLimitPages)
	}
	if c.EnforceInterval < 0 {
		return fmt.Errorf("invalid ENFORCE_INTERVAL %s: must not be negative", c.EnforceInterval)
	}
	if c.EnforceMaxConcurrent < 1 {
		return fmt.Errorf("invalid ENFORCE_MAX_CONCURRENT %d: must be positive", c.EnforceMaxConcurrent)
	}
	return nil
}

// RequireDiscord はDiscordボットの起動に必要な設定を検証する。
func (c *Config) RequireDiscord() error {
	if c.DiscordToken == "" {
		return errors.New("missing required environment variables: DISCORD_TOKEN")
	}
	return nil
}

// ListenAddr はHTTPサーバーの待ち受けアドレスを返す。
func (c *Config) ListenAddr() string {
	return c.ServerHost + ":" + c.ServerPort
}

// Entry は表示用の設定項目。
type Entry struct {
	Name  string
	Value string
}

// Entries は秘匿値をマスクした設定一覧を返す。config showで使用する。
func (c *Config) Entries() []Entry {
	return []Entry{
		{"LOG_LEVEL", c.LogLevel},
		{"SERVER_URL", c.ServerURL},
		{"SERVER_HOST", c.ServerHost},
		{"SERVER_PORT", c.ServerPort},
		{"SERVER_ABOUT_HTML", fmt.Sprintf("(%d bytes)", len(c.ServerAboutHTML))},
		{"STORAGE_TYPE", c.StorageType},
		{"DATABASE_URL", MaskDatabaseURL(c.DatabaseURL)},
		{"ENCRYPTION_KEY", maskSecret(c.EncryptionKey)},
		{"DISCORD_TOKEN", maskSecret(c.DiscordToken)},
		{"DISCORD_INVITE_URL", c.DiscordInviteURL},
		{"DISCORD_GUILD_ID", fmt.Sprint(c.DiscordGuildID)},
		{"RPC_URL", c.RPCURL},
		{"REPUTATION_ORACLE_URL", c.ReputationOracleURL},
		{"ORACLE_ALLOW_PRIVATE", fmt.Sprint(c.OracleAllowPrivate)},
		{"CHAIN_TIMEOUT", c.ChainTimeout.String()},
		{"REPUTATION_PRECISION", fmt.Sprint(c.ReputationPrecision)},
		{"REPUTATION_RATE", fmt.Sprint(c.ReputationRate)},
		{"REPUTATION_CACHE_TTL", c.ReputationCacheTTL.String()},
		{"REPUTATION_CACHE_SIZE", fmt.Sprint(c.ReputationCacheSize)},
		{"ADMISSION_POLL_INTERVAL", c.AdmissionPollInterval.String()},
		{"REQUIRE_SIGNATURE", fmt.Sprint(c.RequireSignature)},
		{"RATE_LIMIT_PAGES", fmt.Sprint(c.RateLimitPages)},
		{"ENFORCE_INTERVAL", c.EnforceInterval.String()},
		{"ENFORCE_MAX_CONCURRENT", fmt.Sprint(c.EnforceMaxConcurrent)},
	}
}

// MaskDatabaseURL はデータベースURLのパスワード部分をマスクする。
func MaskDatabaseURL(dbURL string) string {
	if dbURL == "" {
		return ""
	}
	u, err := url.Parse(dbURL)
	if err != nil {
		return "***"
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
