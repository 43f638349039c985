package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted for store.backend. The backend is always an
// explicit choice; nothing is auto-detected.
const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// Config is the process-wide configuration, loaded once at startup
// and treated as immutable afterwards.
type Config struct {
	Env   string      `mapstructure:"env"`
	HTTP  HTTPConfig  `mapstructure:"http"`
	Store StoreConfig `mapstructure:"store"`
	Redis RedisConfig `mapstructure:"redis"`
	Auth  AuthConfig  `mapstructure:"auth"`
	Reset ResetConfig `mapstructure:"reset"`
	Audit AuditConfig `mapstructure:"audit"`
	Sweep SweepConfig `mapstructure:"sweep"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type StoreConfig struct {
	Backend  string        `mapstructure:"backend"`
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"op_timeout"`
}

// RedisConfig enables the advisory rate limiters when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	Issuer            string        `mapstructure:"issuer"`
	Audience          string        `mapstructure:"audience"`
	AccessTTL         time.Duration `mapstructure:"access_ttl"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	MinPasswordLength int           `mapstructure:"min_password_length"`
	LockoutThreshold  int           `mapstructure:"lockout_threshold"`
	LockoutDuration   time.Duration `mapstructure:"lockout_duration"`
	LookupTimeout     time.Duration `mapstructure:"lookup_timeout"`
	LoginMaxAttempts  int           `mapstructure:"login_max_attempts"`
	LoginCooldown     time.Duration `mapstructure:"login_cooldown"`
}

type ResetConfig struct {
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	MaxRequests int           `mapstructure:"max_requests"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

type AuditConfig struct {
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

type SweepConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads config.yaml (working directory or ./config) with
// APP_-prefixed environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No file is fine; env vars and defaults still apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.uri", "mongodb://localhost:27017")
	v.SetDefault("store.database", "appauth")
	v.SetDefault("store.op_timeout", 5*time.Second)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	// Secretless default so the env override binds through Unmarshal;
	// validate rejects the empty value.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "google-auth-sub004")
	v.SetDefault("auth.audience", "google-auth-sub004-clients")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.session_ttl", 30*24*time.Hour)
	v.SetDefault("auth.min_password_length", 8)
	v.SetDefault("auth.lockout_threshold", 5)
	v.SetDefault("auth.lockout_duration", 30*time.Minute)
	v.SetDefault("auth.lookup_timeout", 5*time.Second)
	v.SetDefault("auth.login_max_attempts", 10)
	v.SetDefault("auth.login_cooldown", 15*time.Minute)
	v.SetDefault("reset.token_ttl", time.Hour)
	v.SetDefault("reset.max_requests", 5)
	v.SetDefault("reset.cooldown", time.Hour)
	v.SetDefault("audit.buffer_size", 256)
	v.SetDefault("audit.drop_if_full", true)
	v.SetDefault("sweep.interval", time.Hour)
}

func (c *Config) validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 bytes")
	}
	switch c.Store.Backend {
	case BackendMongo, BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}
