package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const devSecret = "saasledger-dev-secret-change-in-production"

// Config is the full server configuration.
type Config struct {
	Server struct {
		Address      string        `mapstructure:"address"`
		Port         string        `mapstructure:"port"`
		Mode         string        `mapstructure:"mode"` // gin mode: debug|release|test
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`

	Database struct {
		Driver string `mapstructure:"driver"` // sqlite|postgres
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Auth struct {
		JWTSecret  string        `mapstructure:"jwt_secret"`
		TokenTTL   time.Duration `mapstructure:"token_ttl"`
		Issuer     string        `mapstructure:"issuer"`
		LoginRate  float64       `mapstructure:"login_rate"` // attempts per second per client
		LoginBurst int           `mapstructure:"login_burst"`
	} `mapstructure:"auth"`

	Logging struct {
		Level  string `mapstructure:"level"`  // trace|debug|info|warn|error
		Format string `mapstructure:"format"` // text|json
	} `mapstructure:"logs"`
}

// Addr is the listen address for the HTTP server
func (c *Config) Addr() string {
	return c.Server.Address + ":" + c.Server.Port
}

// UsesDevSecret reports whether the built-in development secret is in effect
func (c *Config) UsesDevSecret() bool {
	return c.Auth.JWTSecret == devSecret
}

// Load reads configuration from SAASLEDGER_* environment variables and, when
// file is non-empty, a YAML/JSON/TOML file. Environment wins over the file.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("saasledger")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "saasledger.db")

	v.SetDefault("auth.jwt_secret", devSecret)
	v.SetDefault("auth.token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.issuer", "saasledger")
	v.SetDefault("auth.login_rate", 1.0)
	v.SetDefault("auth.login_burst", 10)

	v.SetDefault("logs.level", "info")
	v.SetDefault("logs.format", "text")
}

func validate(c *Config) error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn must not be empty")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		return errors.New("server.port must not be empty")
	}
	return nil
}
