// Package config loads the service configuration from defaults, an
// optional file and COVIDAPI_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/pavelpascari/covidapi/internal/query"
)

// EnvPrefix prefixes every environment override, e.g. COVIDAPI_SERVER_ADDR.
const EnvPrefix = "COVIDAPI"

// Config is the complete service configuration.
type Config struct {
	Env       string          `mapstructure:"env" validate:"oneof=DEVELOPMENT STAGING SANDBOX PRODUCTION"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Dataset   DatasetConfig   `mapstructure:"dataset"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout" validate:"gt=0"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// EngineConfig holds the query limits.
type EngineConfig struct {
	PageSize           int                 `mapstructure:"pageSize" validate:"gt=0,ltefield=MaxPageLimit"`
	MaxPageLimit       int                 `mapstructure:"maxPageLimit" validate:"gt=0"`
	MaxFilterValues    int                 `mapstructure:"maxFilterValues" validate:"gt=0"`
	MaxStructureFields int                 `mapstructure:"maxStructureFields" validate:"gt=0"`
	RequestTimeout     time.Duration       `mapstructure:"requestTimeout" validate:"gt=0"`
	Restricted         map[string][]string `mapstructure:"restricted"`
}

// Query converts the engine limits for the query package.
func (e EngineConfig) Query() query.Config {
	return query.Config{
		PageSize:           e.PageSize,
		MaxPageLimit:       e.MaxPageLimit,
		MaxFilterValues:    e.MaxFilterValues,
		MaxStructureFields: e.MaxStructureFields,
	}
}

// DatasetConfig selects and schedules the dataset source.
type DatasetConfig struct {
	Driver          string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN             string `mapstructure:"dsn" validate:"required"`
	RefreshSchedule string `mapstructure:"refreshSchedule"`
	Watch           bool   `mapstructure:"watch"`
}

type AuthConfig struct {
	// JWTSecret enables bearer tokens; empty disables them.
	JWTSecret string `mapstructure:"jwtSecret"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" validate:"gte=0"`
	Burst int     `mapstructure:"burst" validate:"gte=0"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// SetDefaults registers every key so environment overrides are picked up
// by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("env", "DEVELOPMENT")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.readTimeout", 15*time.Second)
	v.SetDefault("server.writeTimeout", 30*time.Second)
	v.SetDefault("server.shutdownTimeout", 10*time.Second)

	v.SetDefault("log.level", "info")

	q := query.DefaultConfig()
	v.SetDefault("engine.pageSize", q.PageSize)
	v.SetDefault("engine.maxPageLimit", q.MaxPageLimit)
	v.SetDefault("engine.maxFilterValues", q.MaxFilterValues)
	v.SetDefault("engine.maxStructureFields", q.MaxStructureFields)
	v.SetDefault("engine.requestTimeout", 10*time.Second)
	v.SetDefault("engine.restricted", map[string][]string{})

	v.SetDefault("dataset.driver", "sqlite")
	v.SetDefault("dataset.dsn", "covid.db")
	v.SetDefault("dataset.refreshSchedule", "@every 5m")
	v.SetDefault("dataset.watch", true)

	v.SetDefault("auth.jwtSecret", "")

	v.SetDefault("ratelimit.rps", 10.0)
	v.SetDefault("ratelimit.burst", 20)

	v.SetDefault("cors.allowedOrigins", []string{"*"})
}

// New returns a viper instance with defaults and environment binding. The
// CLI binds its flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file and returns the validated
// configuration. An empty path skips the file.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
