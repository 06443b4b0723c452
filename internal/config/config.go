// Package config loads the authgate server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/caarlos0/env/v11"
)

// ErrConfig marks every configuration failure. The server exits before
// listening when Load returns it.
var ErrConfig = errors.New("config error")

const minSecretLength = 16

// Backend is the directory implementation selected by DIRECTORY_DSN.
type Backend string

const (
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// Config is the process configuration.
type Config struct {
	JWTSecret    string `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer    string `env:"JWT_ISSUER"`
	DirectoryDSN string `env:"DIRECTORY_DSN,required,notEmpty"`

	Port              int           `env:"PORT" envDefault:"8080"`
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	AccessTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`

	Argon2MemoryKB      uint32 `env:"ARGON2_MEMORY_KB" envDefault:"65536"`
	Argon2Time          uint32 `env:"ARGON2_TIME" envDefault:"3"`
	Argon2Parallelism   uint8  `env:"ARGON2_PARALLELISM" envDefault:"2"`
	Argon2MaxConcurrent int64  `env:"ARGON2_MAX_CONCURRENT" envDefault:"4"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	AuditEnabled   bool `env:"AUDIT_ENABLED" envDefault:"true"`
	GateAnyKind    bool `env:"GATE_ANY_KIND" envDefault:"false"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads only the given variables, ignoring the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("%w: parse env: %w", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env cannot express as tags.
func (c Config) Validate() error {
	if len(c.JWTSecret) < minSecretLength {
		return fmt.Errorf("%w: JWT_SECRET must be at least %d bytes", ErrConfig, minSecretLength)
	}
	if _, err := c.Backend(); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: PORT must be in 1..65535", ErrConfig)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: SHUTDOWN_TIMEOUT must be > 0", ErrConfig)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: LOG_FORMAT must be json or text", ErrConfig)
	}
	engineCfg := c.Engine()
	if err := engineCfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

// Backend derives the directory implementation from the DSN scheme.
func (c Config) Backend() (Backend, error) {
	dsn := strings.ToLower(c.DirectoryDSN)
	switch {
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		return BackendRedis, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return BackendPostgres, nil
	case strings.HasPrefix(dsn, "sqlite:"), strings.HasPrefix(dsn, "file:"):
		return BackendSQLite, nil
	default:
		return "", fmt.Errorf("%w: unsupported DIRECTORY_DSN scheme", ErrConfig)
	}
}

// SQLitePath strips the "sqlite:" prefix; "file:" DSNs pass through unchanged.
func (c Config) SQLitePath() string {
	if len(c.DirectoryDSN) >= len("sqlite:") && strings.EqualFold(c.DirectoryDSN[:len("sqlite:")], "sqlite:") {
		return c.DirectoryDSN[len("sqlite:"):]
	}
	return c.DirectoryDSN
}

func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: LOG_LEVEL: %w", ErrConfig, err)
	}
	return level, nil
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Engine maps the process settings onto the library configuration.
func (c Config) Engine() authgate.Config {
	cfg := authgate.DefaultConfig()
	cfg.JWT.Secret = []byte(c.JWTSecret)
	cfg.JWT.Issuer = c.JWTIssuer
	cfg.JWT.AccessTTL = c.AccessTTL
	cfg.JWT.RefreshTTL = c.RefreshTTL

	cfg.Password.Memory = c.Argon2MemoryKB
	cfg.Password.Time = c.Argon2Time
	cfg.Password.Parallelism = c.Argon2Parallelism
	cfg.Password.MaxConcurrent = c.Argon2MaxConcurrent

	cfg.Metrics.Enabled = c.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = c.MetricsEnabled
	cfg.Audit.Enabled = c.AuditEnabled
	cfg.Gate.RequireAccessKind = !c.GateAnyKind
	return cfg
}
