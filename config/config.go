package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the study pipeline system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	MaxUploadMB   int64  `mapstructure:"max_upload_mb"`
	SearchEnabled bool   `mapstructure:"search_enabled"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, gemini (openai-compatible)
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for each generation stage
type LLMRoutingConfig struct {
	Summary    string `mapstructure:"summary"`
	Quiz       string `mapstructure:"quiz"`
	Flashcards string `mapstructure:"flashcards"`
	Fallback   string `mapstructure:"fallback"`
}

// PipelineConfig bounds the generation stages.
type PipelineConfig struct {
	QuizQuestions      int `mapstructure:"quiz_questions"`
	FlashcardsPerTopic int `mapstructure:"flashcards_per_topic"`
	MaxConcurrentRuns  int `mapstructure:"max_concurrent_runs"`
}

// Clamp bounds for stage item counts. An implementer has to pick fixed
// defaults here; these match the prompt protocol embedded in the stages.
const (
	MinQuizQuestions       = 5
	MaxQuizQuestions       = 10
	DefaultQuizQuestions   = 8
	MinFlashcardsPerTopic  = 3
	MaxFlashcardsPerTopic  = 8
	DefaultFlashcardsTopic = 5
)

// QuizQuestionCount returns the configured question target clamped to [5,10].
func (p PipelineConfig) QuizQuestionCount() int {
	return ClampQuizQuestions(p.QuizQuestions)
}

// FlashcardsPerTopicCount returns the per-topic card target clamped to [3,8].
func (p PipelineConfig) FlashcardsPerTopicCount() int {
	return ClampFlashcardsPerTopic(p.FlashcardsPerTopic)
}

// ClampQuizQuestions resolves a requested question count: zero means the
// default, everything else is clamped to [5,10]. Per-request overrides go
// through the same bounds as the configured value.
func ClampQuizQuestions(n int) int {
	if n == 0 {
		n = DefaultQuizQuestions
	}
	if n < MinQuizQuestions {
		n = MinQuizQuestions
	}
	if n > MaxQuizQuestions {
		n = MaxQuizQuestions
	}
	return n
}

// ClampFlashcardsPerTopic resolves a requested per-topic card bound the same
// way, clamped to [3,8].
func ClampFlashcardsPerTopic(n int) int {
	if n == 0 {
		n = DefaultFlashcardsTopic
	}
	if n < MinFlashcardsPerTopic {
		n = MinFlashcardsPerTopic
	}
	if n > MaxFlashcardsPerTopic {
		n = MaxFlashcardsPerTopic
	}
	return n
}

// ExtractConfig controls document text extraction.
type ExtractConfig struct {
	MaxChars     int           `mapstructure:"max_chars"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	FetchEnabled bool          `mapstructure:"fetch_enabled"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// StorageConfig contains database and cache settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains the relational store settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains the bundle cache settings.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RetentionConfig controls the background run cleaner.
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	CronSpec string        `mapstructure:"cron_spec"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// LoadConfig loads config from file, with STUDYFORGE_* env overrides.
// A missing config file is not fatal; defaults and env vars apply.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "30s")
	viper.SetDefault("general.max_processing_time", "5m")
	viper.SetDefault("server.address", ":10030")
	viper.SetDefault("server.max_upload_mb", 32)
	viper.SetDefault("server.search_enabled", true)
	viper.SetDefault("pipeline.quiz_questions", DefaultQuizQuestions)
	viper.SetDefault("pipeline.flashcards_per_topic", DefaultFlashcardsTopic)
	viper.SetDefault("pipeline.max_concurrent_runs", 4)
	viper.SetDefault("extract.max_chars", 200000)
	viper.SetDefault("extract.fetch_timeout", "20s")
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)
	viper.SetDefault("storage.redis.ttl", "24h")
	viper.SetDefault("retention.cron_spec", "@daily")
	viper.SetDefault("retention.max_age", "720h")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("STUDYFORGE")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return &config
}
