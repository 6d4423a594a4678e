package config

import (
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Source         SourceConfig
	Broker         BrokerConfig
	Notifier       NotifierConfig
	Advice         AdviceConfig
	Pipeline       PipelineConfig
	Ledger         LedgerConfig
	Logging        LoggingConfig
	Management     ManagementConfig
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	SQLite        SQLiteConfig `mapstructure:"sqlite"`
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN renders the connection URL understood by lib/pq.
func (p PostgresConfig) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// SourceConfig selects how consumption changes are detected.
type SourceConfig struct {
	Mode   string       `mapstructure:"mode"` // "poll", "listen", "kafka", "nats"
	Poll   PollConfig   `mapstructure:"poll"`
	Listen ListenConfig `mapstructure:"listen"`
	Nats   NatsConfig   `mapstructure:"nats"`
}

type PollConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	CatchUp         time.Duration `mapstructure:"catch_up"`
	WatermarkPolicy string        `mapstructure:"watermark_policy"` // "max_observed" (default), "wall_clock"
	Limit           int           `mapstructure:"limit"`
}

type ListenConfig struct {
	Channel string `mapstructure:"channel"`
}

type NatsConfig struct {
	URL     string      `mapstructure:"url"`
	Subject string      `mapstructure:"subject"`
	Queue   string      `mapstructure:"queue"`
	Retry   RetryConfig `mapstructure:"retry"`
}

type BrokerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers  []string    `mapstructure:"brokers"`
	GroupID  string      `mapstructure:"group_id"`
	Topic    string      `mapstructure:"topic"`
	DLQTopic string      `mapstructure:"dlq_topic"`
	Retry    RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

// NotifierConfig describes the child process that sends emails.
type NotifierConfig struct {
	Command       string        `mapstructure:"command"`
	Args          []string      `mapstructure:"args"`
	WorkDir       string        `mapstructure:"workdir"`
	ToolName      string        `mapstructure:"tool_name"`
	Flow          string        `mapstructure:"flow"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	Handshake     bool          `mapstructure:"handshake"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
}

type AdviceConfig struct {
	Provider        string          `mapstructure:"provider"` // "auto", "anthropic", "openai", "none"
	Timeout         time.Duration   `mapstructure:"timeout"`
	FallbackMessage string          `mapstructure:"fallback_message"`
	Anthropic       AnthropicConfig `mapstructure:"anthropic"`
	OpenAI          OpenAIConfig    `mapstructure:"openai"`
}

type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

type OpenAIConfig struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

type PipelineConfig struct {
	// ItemFilter is a CEL expression over `item`; items it rejects are not tracked.
	ItemFilter        string `mapstructure:"item_filter"`
	CompletionMessage string `mapstructure:"completion_message"`
}

type LedgerConfig struct {
	Backend      string        `mapstructure:"backend"` // "redis", "sqlite", "memory"
	TTL          time.Duration `mapstructure:"ttl"`
	OnStoreError string        `mapstructure:"on_store_error"` // "allow", "deny" (default: "deny")
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ManagementConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
