// Package config loads kycd settings from an optional YAML file and KYC_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/spf13/viper"

	"github.com/goliatone/go-kyc/storage"
)

const EnvPrefix = "KYC"

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
}

type PersistenceConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver      string        `mapstructure:"driver"`
	DSN         string        `mapstructure:"dsn"`
	Debug       bool          `mapstructure:"debug"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
	// OtelIdentifier names the database in query traces. Empty disables tracing.
	OtelIdentifier string `mapstructure:"otel_identifier"`
	Migrate        bool   `mapstructure:"migrate"`
	// Seed loads the bundled account fixtures, truncating the accounts table.
	Seed bool `mapstructure:"seed"`
}

func (p PersistenceConfig) GetDebug() bool {
	return p.Debug
}

func (p PersistenceConfig) GetDriver() string {
	return p.Driver
}

func (p PersistenceConfig) GetServer() string {
	return p.DSN
}

func (p PersistenceConfig) GetDSN() string {
	return p.DSN
}

func (p PersistenceConfig) GetPingTimeout() time.Duration {
	if p.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return p.PingTimeout
}

func (p PersistenceConfig) GetOtelIdentifier() string {
	return p.OtelIdentifier
}

type TokensConfig struct {
	DefaultTTLHours int `mapstructure:"default_ttl_hours"`
	MaxTTLHours     int `mapstructure:"max_ttl_hours"`
}

type RequestsConfig struct {
	IDPrefix      string `mapstructure:"id_prefix"`
	IDLength      int    `mapstructure:"id_length"`
	MaxIDAttempts int    `mapstructure:"max_id_attempts"`
}

type FilesConfig struct {
	Backend           string     `mapstructure:"backend"`
	Root              string     `mapstructure:"root"`
	MaxBytes          int64      `mapstructure:"max_bytes"`
	AllowedExtensions []string   `mapstructure:"allowed_extensions"`
	S3                storage.S3 `mapstructure:"s3"`
}

type AuthConfig struct {
	// SigningKey enables HS256 staff tokens on internal routes when set.
	SigningKey string `mapstructure:"signing_key"`
	Issuer     string `mapstructure:"issuer"`
}

type MetricsConfig struct {
	Path string `mapstructure:"path"`
}

type AppConfig struct {
	ServiceName string            `mapstructure:"service_name"`
	Env         string            `mapstructure:"env"`
	LogLevel    string            `mapstructure:"log_level"`
	Debug       bool              `mapstructure:"debug"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Tokens      TokensConfig      `mapstructure:"tokens"`
	Requests    RequestsConfig    `mapstructure:"requests"`
	Files       FilesConfig       `mapstructure:"files"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// Load reads path (when it exists) and overlays KYC_* environment variables,
// e.g. KYC_PERSISTENCE_DSN for persistence.dsn.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the server cannot start with. The error names
// the first offending key.
func (c *AppConfig) Validate() error {
	checks := []struct {
		key string
		err error
	}{
		{"persistence.driver", validation.Validate(c.Persistence.Driver, validation.Required, validation.In("sqlite", "postgres"))},
		{"persistence.dsn", validation.Validate(c.Persistence.DSN, validation.Required)},
		{"tokens.default_ttl_hours", validation.Validate(c.Tokens.DefaultTTLHours, validation.Required, validation.Min(1), validation.Max(c.Tokens.MaxTTLHours))},
		{"requests.id_length", validation.Validate(c.Requests.IDLength, validation.Required, validation.Min(6))},
		{"files.max_bytes", validation.Validate(c.Files.MaxBytes, validation.Required, validation.Min(int64(1)))},
	}
	for _, check := range checks {
		if check.err != nil {
			return fmt.Errorf("config: %s: %w", check.key, check.err)
		}
	}

	if strings.TrimSpace(c.Auth.SigningKey) == "" && !c.IsDevelopment() {
		return fmt.Errorf("config: auth.signing_key: required when env is %q", c.Env)
	}
	return nil
}

// IsDevelopment reports whether env names a local or test setup. Only those
// may run with unauthenticated internal routes.
func (c *AppConfig) IsDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "kycd")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("debug", false)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.body_limit", 64<<20)
	v.SetDefault("persistence.driver", "sqlite")
	v.SetDefault("persistence.dsn", "file:kyc.db?cache=shared")
	v.SetDefault("persistence.debug", false)
	v.SetDefault("persistence.ping_timeout", "5s")
	v.SetDefault("persistence.otel_identifier", "")
	v.SetDefault("persistence.migrate", true)
	v.SetDefault("persistence.seed", false)
	v.SetDefault("tokens.default_ttl_hours", 24)
	v.SetDefault("tokens.max_ttl_hours", 720)
	v.SetDefault("requests.id_prefix", "KYC")
	v.SetDefault("requests.id_length", 10)
	v.SetDefault("requests.max_id_attempts", 5)
	v.SetDefault("files.backend", storage.BackendLocal)
	v.SetDefault("files.root", "./data/uploads")
	v.SetDefault("files.max_bytes", 10<<20)
	v.SetDefault("files.allowed_extensions", []string{"pdf", "jpg", "jpeg", "png", "webp"})
	v.SetDefault("files.s3.bucket", "")
	v.SetDefault("files.s3.region", "us-east-1")
	v.SetDefault("files.s3.endpoint", "")
	v.SetDefault("files.s3.access_key", "")
	v.SetDefault("files.s3.secret_key", "")
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("metrics.path", "/metrics")
}
