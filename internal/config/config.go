// Package config loads gateway settings from defaults, an optional config
// file, and VITA_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	gwerrors "vita/internal/errors"
)

// Config holds every tunable of the gateway process.
type Config struct {
	Gateway  GatewayConfig `mapstructure:"gateway"`
	Sessions SessionConfig `mapstructure:"sessions"`
	Server   ServerConfig  `mapstructure:"server"`
	Log      LogConfig     `mapstructure:"log"`
	Tracing  TracingConfig `mapstructure:"tracing"`
}

// GatewayConfig tunes the dispatch pipeline.
type GatewayConfig struct {
	MaxConcurrent        int           `mapstructure:"max_concurrent"`
	CallTimeout          time.Duration `mapstructure:"call_timeout"`
	RateLimitEnabled     bool          `mapstructure:"rate_limit_enabled"`
	MaxRequestsPerMinute int           `mapstructure:"max_requests_per_minute"`
	AsyncRetention       time.Duration `mapstructure:"async_retention"`
}

// SessionConfig tunes idle-session reclamation.
type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// MaxPerCaller is advisory: exceeding it logs a warning, it never
	// rejects a call.
	MaxPerCaller int `mapstructure:"max_per_caller"`
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestsPerSec  float64       `mapstructure:"requests_per_sec"`
	Burst           int           `mapstructure:"burst"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig tunes OTLP trace export. Disabled means a noop tracer.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load reads configuration with the precedence defaults < file < VITA_* env.
// path may be empty, in which case vita-config.{yaml,json,...} is searched
// in the working directory and $HOME; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("VITA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, gwerrors.NewConfigurationError("file", err)
		}
	} else {
		v.SetConfigName("vita-config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, gwerrors.NewConfigurationError("file", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, gwerrors.NewConfigurationError("unmarshal", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without touching files or the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Only defaults are present, decoding cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.max_concurrent", 100)
	v.SetDefault("gateway.call_timeout", 30*time.Second)
	v.SetDefault("gateway.rate_limit_enabled", true)
	v.SetDefault("gateway.max_requests_per_minute", 60)
	v.SetDefault("gateway.async_retention", 10*time.Minute)

	v.SetDefault("sessions.idle_timeout", 24*time.Hour)
	v.SetDefault("sessions.sweep_interval", 5*time.Minute)
	v.SetDefault("sessions.max_per_caller", 5)

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.requests_per_sec", 50.0)
	v.SetDefault("server.burst", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "vita-gateway")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate rejects values the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Gateway.MaxConcurrent <= 0 {
		return gwerrors.NewConfigurationError("gateway.max_concurrent",
			fmt.Errorf("must be positive, got %d", c.Gateway.MaxConcurrent))
	}
	if c.Gateway.CallTimeout <= 0 {
		return gwerrors.NewConfigurationError("gateway.call_timeout",
			fmt.Errorf("must be positive, got %s", c.Gateway.CallTimeout))
	}
	if c.Gateway.MaxRequestsPerMinute <= 0 {
		return gwerrors.NewConfigurationError("gateway.max_requests_per_minute",
			fmt.Errorf("must be positive, got %d", c.Gateway.MaxRequestsPerMinute))
	}
	if c.Sessions.IdleTimeout <= 0 {
		return gwerrors.NewConfigurationError("sessions.idle_timeout",
			fmt.Errorf("must be positive, got %s", c.Sessions.IdleTimeout))
	}
	if c.Sessions.SweepInterval <= 0 {
		return gwerrors.NewConfigurationError("sessions.sweep_interval",
			fmt.Errorf("must be positive, got %s", c.Sessions.SweepInterval))
	}
	if c.Server.ListenAddr == "" {
		return gwerrors.NewConfigurationError("server.listen_addr",
			fmt.Errorf("must not be empty"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return gwerrors.NewConfigurationError("log.format",
			fmt.Errorf("must be json or text, got %q", c.Log.Format))
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return gwerrors.NewConfigurationError("tracing.endpoint",
			fmt.Errorf("required when tracing is enabled"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return gwerrors.NewConfigurationError("tracing.sample_ratio",
			fmt.Errorf("must be within [0, 1], got %v", c.Tracing.SampleRatio))
	}
	return nil
}
