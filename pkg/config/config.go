// Package config はサービス共通の設定を読み込む。
//
// 設定はデフォルト値、YAMLファイル（任意）、環境変数の順に上書きされる。
// 環境変数は BOOKSHELF_ プレフィックスとドット区切りをアンダースコアに
// 置換したキー（例: BOOKSHELF_SERVER_PORT）で指定する。PORT や JWT_SECRET など
// 従来の短い名前も引き続き利用できる。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix は環境変数のプレフィックス。
const envPrefix = "BOOKSHELF"

// Config はサービスの設定全体を表す。
type Config struct {
	// Service はディスカバリーに登録するサービス名。
	Service string `mapstructure:"service" validate:"required"`
	// Server はHTTPサーバーの設定。
	Server ServerConfig `mapstructure:"server"`
	// Database はSQLiteデータベースの設定。
	Database DatabaseConfig `mapstructure:"database"`
	// Discovery はサービスディスカバリー（Redis）の設定。
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	// JWT はJWT検証・発行の設定。
	JWT JWTConfig `mapstructure:"jwt"`
	// Log はロガーの設定。
	Log LogConfig `mapstructure:"log"`
	// Events はドメインイベント送信の設定。
	Events EventsConfig `mapstructure:"events"`
	// CategoryCache はカテゴリ検証結果キャッシュの設定。
	CategoryCache CacheConfig `mapstructure:"category_cache"`
	// Gateway はGateway固有の設定。
	Gateway GatewayConfig `mapstructure:"gateway"`
	// Services はサービス名から固定URLへの対応。指定したサービスはディスカバリーを経由しない。
	Services map[string]string `mapstructure:"services" validate:"dive,keys,required,endkeys,url"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=0,max=65535"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig はSQLiteデータベースの設定。
type DatabaseConfig struct {
	// Path はデータベースファイルのパス。":memory:" も指定できる。
	Path string `mapstructure:"path" validate:"required"`
}

// DiscoveryConfig はRedisを用いたサービスディスカバリーの設定。
type DiscoveryConfig struct {
	// RedisAddr はRedisのアドレス（host:port）。
	RedisAddr string `mapstructure:"redis_addr" validate:"required,hostname_port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"min=0"`
	// TTL は登録情報の有効期限。ハートビートが途絶えるとこの時間で登録が消える。
	TTL time.Duration `mapstructure:"ttl" validate:"gt=0"`
	// HeartbeatInterval はTTLを更新する間隔。TTLより短くなければならない。
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0,ltfield=TTL"`
	// AdvertiseHost は他サービスから到達可能な自ホスト名。空ならOSのホスト名を使う。
	AdvertiseHost string `mapstructure:"advertise_host"`
	// ConnectTimeout は起動時の接続確認のタイムアウト。
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
}

// JWTConfig はJWTの設定。
type JWTConfig struct {
	Secret string `mapstructure:"secret" validate:"required"`
}

// LogConfig はロガーの設定。
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// EventsConfig はドメインイベントの送信先Redis Streamの設定。
type EventsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Stream  string `mapstructure:"stream" validate:"required_if=Enabled true"`
	// MaxLen はStreamに保持する最大件数（概算）。0なら無制限。
	MaxLen int64 `mapstructure:"max_len" validate:"min=0"`
}

// CacheConfig はLRUキャッシュの設定。
type CacheConfig struct {
	Size int           `mapstructure:"size" validate:"gt=0"`
	TTL  time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// GatewayConfig はGateway固有の設定。
type GatewayConfig struct {
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig はトークンバケットによるレート制限の設定。0なら無効。
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=0"`
}

// Defaults はサービスごとに異なるデフォルト値。
type Defaults struct {
	Port         int
	DatabasePath string
}

// Options はLoadの引数。
type Options struct {
	// Service はサービス名（例: "book-service"）。
	Service string
	// File は読み込むYAMLファイルのパス。空ならファイルを読まない。
	File string
	// Defaults はサービス固有のデフォルト値。
	Defaults Defaults
}

// ErrInvalid は設定値の検証に失敗したことを表す。
var ErrInvalid = errors.New("設定が不正です")

// Load は設定を読み込み、検証済みのConfigを返す。
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v, opts)
	bindEnv(v)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate は設定値を検証する。
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Addr はHTTPサーバーのリッスンアドレスを返す。
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// setDefaults はデフォルト値を設定する。
func setDefaults(v *viper.Viper, opts Options) {
	v.SetDefault("service", opts.Service)

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", opts.Defaults.Port)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.path", opts.Defaults.DatabasePath)

	v.SetDefault("discovery.redis_addr", "localhost:6379")
	v.SetDefault("discovery.password", "")
	v.SetDefault("discovery.db", 0)
	v.SetDefault("discovery.ttl", 30*time.Second)
	v.SetDefault("discovery.heartbeat_interval", 10*time.Second)
	v.SetDefault("discovery.advertise_host", "")
	v.SetDefault("discovery.connect_timeout", 5*time.Second)

	v.SetDefault("jwt.secret", "dev-secret-key")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("events.enabled", true)
	v.SetDefault("events.stream", "bookshelf:events")
	v.SetDefault("events.max_len", 10000)

	v.SetDefault("category_cache.size", 1024)
	v.SetDefault("category_cache.ttl", time.Minute)

	v.SetDefault("gateway.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("gateway.rate_limit.requests_per_second", 0)
	v.SetDefault("gateway.rate_limit.burst", 0)

	v.SetDefault("services", map[string]string{})
}

// bindEnv は環境変数の読み込みを設定する。
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 従来の短い環境変数名
	_ = v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("jwt.secret", envPrefix+"_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("database.path", envPrefix+"_DATABASE_PATH", "DATABASE_PATH")
	_ = v.BindEnv("discovery.redis_addr", envPrefix+"_DISCOVERY_REDIS_ADDR", "DISCOVERY_REDIS_ADDR")
	_ = v.BindEnv("gateway.allowed_origins", envPrefix+"_GATEWAY_ALLOWED_ORIGINS", "FRONTEND_URL")
}
