package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the analytics pipeline service
type Config struct {
	General  GeneralConfig  `mapstructure:"general"`
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Engines  EnginesConfig  `mapstructure:"engines"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, anthropic, local, etc.
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig defines which model to use for different pipeline tasks
type LLMRoutingConfig struct {
	QueryGeneration string `mapstructure:"query_generation"` // SQL generation from natural language
	ChartGeneration string `mapstructure:"chart_generation"` // chart spec generation from tabular data
	Insights        string `mapstructure:"insights"`         // insight narration
	InsightsDeep    string `mapstructure:"insights_deep"`    // higher-tier model for deep analysis mode
	Auxiliary       string `mapstructure:"auxiliary"`        // fast model for relevance checks
	Fallback        string `mapstructure:"fallback"`         // fallback model
}

// PipelineConfig contains orchestrator behaviour settings
type PipelineConfig struct {
	MaxStageRetries  int           `mapstructure:"max_stage_retries"`
	ModelTimeout     time.Duration `mapstructure:"model_timeout"`
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
}

// CacheConfig configures the schema and query-result caches
type CacheConfig struct {
	SchemaTTL       time.Duration `mapstructure:"schema_ttl"`
	QueryTTL        time.Duration `mapstructure:"query_ttl"`
	MaxEntries      int           `mapstructure:"max_entries"`
	MaxPayloadBytes int           `mapstructure:"max_payload_bytes"`
	Redis           RedisConfig   `mapstructure:"redis"`
}

// RedisConfig enables the optional shared cache backend
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// EnginesConfig contains data engine connection settings
type EnginesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig contains Postgres engine settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (engines.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".vizquery"))
		}
	}

	v.SetEnvPrefix("VIZQUERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// config file is optional; defaults plus env are enough to boot
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	for name, p := range cfg.LLM.Providers {
		if p.APIKey == "" {
			p.APIKey = os.Getenv("OPENAI_API_KEY")
			cfg.LLM.Providers[name] = p
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")

	v.SetDefault("server.address", ":8080")

	v.SetDefault("pipeline.max_stage_retries", 2)
	v.SetDefault("pipeline.model_timeout", 60*time.Second)
	v.SetDefault("pipeline.execution_timeout", 120*time.Second)

	v.SetDefault("cache.schema_ttl", time.Hour)
	v.SetDefault("cache.query_ttl", 5*time.Minute)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.max_payload_bytes", 10*1024*1024)
	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.timeout", 5*time.Second)

	v.SetDefault("engines.postgres.sslmode", "disable")
}
