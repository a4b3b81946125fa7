package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the quiz agent.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	Solver     SolverConfig     `mapstructure:"solver"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// SolverConfig carries the solving identity and effort bounds.
type SolverConfig struct {
	Email             string        `mapstructure:"email"`
	Secret            string        `mapstructure:"secret"`
	Budget            time.Duration `mapstructure:"budget"`
	StepTimeout       time.Duration `mapstructure:"step_timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	MaxReasoningTurns int           `mapstructure:"max_reasoning_turns"`
	MaxChainLength    int           `mapstructure:"max_chain_length"`
}

func (s SolverConfig) Validate() error {
	if s.Email == "" {
		return fmt.Errorf("solver.email is required")
	}
	if s.Secret == "" {
		return fmt.Errorf("solver.secret is required")
	}
	if s.Budget <= 0 {
		return fmt.Errorf("solver.budget must be > 0")
	}
	return nil
}

// LLMConfig contains the reasoning provider configuration.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// BrowserConfig tunes headless page rendering.
type BrowserConfig struct {
	Renderer    string        `mapstructure:"renderer"` // chromedp or static
	Timeout     time.Duration `mapstructure:"timeout"`
	Settle      time.Duration `mapstructure:"settle"`
	MaxChars    int           `mapstructure:"max_chars"`
	MaxBrowsers int           `mapstructure:"max_browsers"`
}

// ToolsConfig bounds tool behaviour.
type ToolsConfig struct {
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	Required        []string      `mapstructure:"required"`
}

// SubmissionConfig tunes the grading client.
type SubmissionConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
}

// StorageConfig selects and configures session persistence.
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig configures the Redis session store and queue transport.
type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

func (r RedisConfig) Validate() error {
	if r.Enabled && r.Addr == "" {
		return fmt.Errorf("storage.redis.addr is required when redis is enabled")
	}
	return nil
}

// PostgresConfig configures the durable session archive.
type PostgresConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

func (p PostgresConfig) Validate() error {
	if p.Enabled && p.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required when postgres is enabled")
	}
	return nil
}

// QueueConfig configures the Redis Streams solve queue.
type QueueConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Group    string        `mapstructure:"group"`
	Consumer string        `mapstructure:"consumer"`
	Block    time.Duration `mapstructure:"block"`
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// LoadConfig loads config from file and QUIZAGENT_* environment variables.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("solver.budget", 180*time.Second)
	viper.SetDefault("solver.step_timeout", 30*time.Second)
	viper.SetDefault("solver.max_attempts", 3)
	viper.SetDefault("solver.max_reasoning_turns", 10)
	viper.SetDefault("solver.max_chain_length", 50)
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.max_tokens", 2000)
	viper.SetDefault("llm.timeout", 60*time.Second)
	viper.SetDefault("browser.renderer", "chromedp")
	viper.SetDefault("browser.timeout", 15*time.Second)
	viper.SetDefault("browser.settle", 2*time.Second)
	viper.SetDefault("browser.max_chars", 20000)
	viper.SetDefault("browser.max_browsers", 2)
	viper.SetDefault("tools.download_timeout", 60*time.Second)
	viper.SetDefault("submission.timeout", 30*time.Second)
	viper.SetDefault("submission.max_retries", 2)
	viper.SetDefault("submission.backoff", 500*time.Millisecond)
	viper.SetDefault("storage.redis.session_ttl", 24*time.Hour)
	viper.SetDefault("queue.group", "quizagent-workers")
	viper.SetDefault("queue.block", 5*time.Second)
	viper.SetDefault("telemetry.enabled", true)

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

	viper.SetEnvPrefix("QUIZAGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Env-only deployments run without a config file.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	return &config
}
