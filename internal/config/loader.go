// Package config loads server configuration from config.yaml and GIST_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/rpattn/gist/internal/db"
	"github.com/rpattn/gist/internal/query"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  db.Config       `mapstructure:"database"`
	Store     StoreConfig     `mapstructure:"store"`
	Gist      GistConfig      `mapstructure:"gist"`
	Integrity IntegrityConfig `mapstructure:"integrity"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

type StoreConfig struct {
	Driver   string   `mapstructure:"driver" validate:"oneof=memory postgres"`
	Fixtures []string `mapstructure:"fixtures"`
	// LoaderWait is how long a request's loader collects keys before a batch.
	LoaderWait time.Duration `mapstructure:"loader_wait" validate:"gte=0"`
}

type GistConfig struct {
	DefaultPageSize int    `mapstructure:"default_page_size" validate:"min=1,ltefield=MaxPageSize"`
	MaxPageSize     int    `mapstructure:"max_page_size" validate:"min=1"`
	MaxFieldDepth   int    `mapstructure:"max_field_depth" validate:"min=1"`
	OfflineLevels   int    `mapstructure:"offline_levels" validate:"min=0"`
	SchemaFile      string `mapstructure:"schema_file"`
}

type IntegrityConfig struct {
	JobTimeout time.Duration `mapstructure:"job_timeout" validate:"gt=0"`
	JobStore   string        `mapstructure:"job_store" validate:"oneof=memory redis postgres"`
	RedisAddr  string        `mapstructure:"redis_addr" validate:"required_if=JobStore redis"`
	JobTTL     time.Duration `mapstructure:"job_ttl" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// QueryOptions converts the gist section to engine limits.
func (c GistConfig) QueryOptions() query.Options {
	opts := query.DefaultOptions()
	opts.DefaultPageSize = c.DefaultPageSize
	opts.MaxPageSize = c.MaxPageSize
	opts.MaxFieldDepth = c.MaxFieldDepth
	return opts
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	opts := query.DefaultOptions()
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			CORSOrigins:  []string{"http://localhost:3000"},
		},
		Database: db.DefaultConfig(),
		Store: StoreConfig{
			Driver:     "memory",
			LoaderWait: 2 * time.Millisecond,
		},
		Gist: GistConfig{
			DefaultPageSize: opts.DefaultPageSize,
			MaxPageSize:     opts.MaxPageSize,
			MaxFieldDepth:   opts.MaxFieldDepth,
		},
		Integrity: IntegrityConfig{
			JobTimeout: 5 * time.Minute,
			JobStore:   "memory",
			JobTTL:     24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads config.yaml from configPath when present, applies GIST_*
// environment overrides (GIST_DATABASE_HOST, GIST_LOG_LEVEL, ...) and
// validates the result.
func Load(configPath string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("GIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// setDefaults registers every key so environment variables can override
// values that the config file does not mention.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.cors_origins", cfg.Server.CORSOrigins)

	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.name", cfg.Database.DBName)
	v.SetDefault("database.sslmode", cfg.Database.SSLMode)
	v.SetDefault("database.max_conns", cfg.Database.MaxConns)
	v.SetDefault("database.min_conns", cfg.Database.MinConns)
	v.SetDefault("database.statement_timeout", cfg.Database.StatementTimeout)

	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.fixtures", cfg.Store.Fixtures)
	v.SetDefault("store.loader_wait", cfg.Store.LoaderWait)

	v.SetDefault("gist.default_page_size", cfg.Gist.DefaultPageSize)
	v.SetDefault("gist.max_page_size", cfg.Gist.MaxPageSize)
	v.SetDefault("gist.max_field_depth", cfg.Gist.MaxFieldDepth)
	v.SetDefault("gist.offline_levels", cfg.Gist.OfflineLevels)
	v.SetDefault("gist.schema_file", cfg.Gist.SchemaFile)

	v.SetDefault("integrity.job_timeout", cfg.Integrity.JobTimeout)
	v.SetDefault("integrity.job_store", cfg.Integrity.JobStore)
	v.SetDefault("integrity.redis_addr", cfg.Integrity.RedisAddr)
	v.SetDefault("integrity.job_ttl", cfg.Integrity.JobTTL)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}
