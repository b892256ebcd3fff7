// Package config loads engine configuration from YAML files and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/complyscan/complyscan/internal/engine/adapter"
)

// Config is the full engine configuration.
type Config struct {
	Server   ServerConfig          `mapstructure:"server"`
	Log      LogConfig             `mapstructure:"log"`
	Database DatabaseConfig        `mapstructure:"database"`
	Redis    RedisConfig           `mapstructure:"redis"`
	Kafka    KafkaConfig           `mapstructure:"kafka"`
	Scan     ScanConfig            `mapstructure:"scan"`
	Rules    RulesConfig           `mapstructure:"rules"`
	Tables   []adapter.TableSchema `mapstructure:"tables"`
}

// RulesConfig selects where active rules come from: the rule-extraction
// service's endpoint, or a local JSON file.
type RulesConfig struct {
	SourceURL string        `mapstructure:"source_url" validate:"omitempty,url"`
	File      string        `mapstructure:"file"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"omitempty,oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `mapstructure:"topic" validate:"required_if=Enabled true"`
}

type ScanConfig struct {
	Workers      int           `mapstructure:"workers" validate:"omitempty,min=1,max=64"`
	Limit        int           `mapstructure:"limit"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// Load reads configuration from the given path (optional) plus
// COMPLYSCAN_* environment variables, applies defaults, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("COMPLYSCAN")

	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("redis.claim_ttl", time.Hour)
	v.SetDefault("scan.workers", 4)
	v.SetDefault("scan.fetch_timeout", 30*time.Second)
	v.SetDefault("rules.timeout", 10*time.Second)
}

// Schemas returns the table mappings keyed by table name.
func (c *Config) Schemas() map[string]adapter.TableSchema {
	out := make(map[string]adapter.TableSchema, len(c.Tables))
	for _, schema := range c.Tables {
		out[schema.Table] = schema
	}
	return out
}
