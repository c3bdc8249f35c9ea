package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Guard     GuardConfig     `mapstructure:"guard"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Lockdown  bool            `mapstructure:"lockdown"`
	Users     []UserConfig    `mapstructure:"users"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type AuthConfig struct {
	// JWTSecret signs bearer tokens. Left empty, a random per-boot secret is
	// generated and issued tokens do not survive a restart.
	JWTSecret            string `mapstructure:"jwt_secret"`
	TokenTTLSeconds      int    `mapstructure:"token_ttl_seconds"`
	HMACToleranceSeconds int    `mapstructure:"hmac_tolerance_seconds"`
	AdminKey             string `mapstructure:"admin_key"` // break-glass header for provisioning before any admin user exists
}

type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	EventRetentionDays     int    `mapstructure:"event_retention_days"`
	CleanupIntervalMinutes int    `mapstructure:"cleanup_interval_minutes"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	EventListKey string `mapstructure:"event_list_key"`
	EventListMax int    `mapstructure:"event_list_max"`
}

type RateLimitConfig struct {
	DefaultLimit         int                   `mapstructure:"default_limit"`
	DefaultWindowSeconds int                   `mapstructure:"default_window_seconds"`
	IPQPS                float64               `mapstructure:"ip_qps"`   // edge burst gate, distinct from the window counters
	IPBurst              int                   `mapstructure:"ip_burst"`
	Endpoints            []EndpointLimitConfig `mapstructure:"endpoints"`
}

type EndpointLimitConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	Limit         int    `mapstructure:"limit"`
	WindowSeconds int    `mapstructure:"window_seconds"`
}

type GuardConfig struct {
	DefaultTxLimit          float64 `mapstructure:"default_tx_limit"`
	TradeRateLimit          int     `mapstructure:"trade_rate_limit"`
	TradeRateWindowSeconds  int     `mapstructure:"trade_rate_window_seconds"`
	ActivityWindowSeconds   int     `mapstructure:"activity_window_seconds"`
	HighRiskThreshold       int     `mapstructure:"high_risk_threshold"`
	TotalOpsThreshold       int     `mapstructure:"total_ops_threshold"`
	RepeatOpThreshold       int     `mapstructure:"repeat_op_threshold"`
	RecentAuthWindowSeconds int     `mapstructure:"recent_auth_window_seconds"`
}

type AuditConfig struct {
	Dir        string `mapstructure:"dir"`
	BufferSize int    `mapstructure:"buffer_size"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type UserConfig struct {
	ID               string   `mapstructure:"id"`
	Name             string   `mapstructure:"name"`
	Roles            []string `mapstructure:"roles"`
	TransactionLimit float64  `mapstructure:"transaction_limit"`
	APIKey           string   `mapstructure:"api_key"`
	APISecret        string   `mapstructure:"api_secret"`
	KeyPermissions   []string `mapstructure:"key_permissions"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. TRADEGATE_AUTH_JWT_SECRET
	viper.SetEnvPrefix("tradegate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults. AutomaticEnv only resolves keys viper already knows, so
	// every key gets a default registered even when it is the zero value.
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.admin_key", "")
	viper.SetDefault("auth.token_ttl_seconds", 3600)
	viper.SetDefault("auth.hmac_tolerance_seconds", 300)
	viper.SetDefault("rate_limit.default_limit", 100)
	viper.SetDefault("rate_limit.default_window_seconds", 60)
	viper.SetDefault("rate_limit.ip_qps", 50)
	viper.SetDefault("rate_limit.ip_burst", 100)
	viper.SetDefault("guard.default_tx_limit", 10000)
	// 0 keeps the built-in per-tier trading limits; setting a value applies
	// one uniform limit to every trading endpoint.
	viper.SetDefault("guard.trade_rate_limit", 0)
	viper.SetDefault("guard.trade_rate_window_seconds", 60)
	viper.SetDefault("guard.activity_window_seconds", 1800)
	viper.SetDefault("guard.high_risk_threshold", 5)
	viper.SetDefault("guard.total_ops_threshold", 50)
	viper.SetDefault("guard.repeat_op_threshold", 20)
	viper.SetDefault("guard.recent_auth_window_seconds", 900)
	viper.SetDefault("audit.dir", "./logs")
	viper.SetDefault("audit.buffer_size", 1000)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.event_list_key", "security_events")
	viper.SetDefault("redis.event_list_max", 10000)
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.event_retention_days", 30)
	viper.SetDefault("database.cleanup_interval_minutes", 60)
	viper.SetDefault("lockdown", false)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
