package config

import (
	"fmt"
	"strings"

	"waterbar/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateSource(cfg); err != nil {
		errors = append(errors, err)
	}

	if err := validateNotifier(cfg.Notifier); err != nil {
		errors = append(errors, err)
	}

	if err := validateAdvice(cfg.Advice); err != nil {
		errors = append(errors, err)
	}

	if err := validateLedger(cfg); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if err := validatePostgres(cfg.Postgres); err != nil {
		return err
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

// The order store is the only mandatory backend.
func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateSource(cfg *Config) error {
	src := cfg.Source

	switch src.Mode {
	case constants.SourceModePoll:
		if src.Poll.Interval <= 0 {
			return &ValidationError{
				Field:   "source.poll.interval",
				Message: "poll interval must be positive",
			}
		}
		if src.Poll.CatchUp < 0 {
			return &ValidationError{
				Field:   "source.poll.catch_up",
				Message: "catch-up window must be non-negative",
			}
		}
		switch src.Poll.WatermarkPolicy {
		case "", constants.WatermarkMaxObserved, constants.WatermarkWallClock:
		default:
			return &ValidationError{
				Field:   "source.poll.watermark_policy",
				Message: fmt.Sprintf("unknown watermark policy: %s (valid: max_observed, wall_clock)", src.Poll.WatermarkPolicy),
			}
		}
	case constants.SourceModeListen:
		if src.Listen.Channel == "" {
			return &ValidationError{
				Field:   "source.listen.channel",
				Message: "notification channel is required",
			}
		}
	case constants.SourceModeKafka:
		return validateKafka(cfg.Broker.Kafka)
	case constants.SourceModeNats:
		if src.Nats.URL == "" {
			return &ValidationError{
				Field:   "source.nats.url",
				Message: "NATS URL is required",
			}
		}
		if src.Nats.Subject == "" {
			return &ValidationError{
				Field:   "source.nats.subject",
				Message: "NATS subject is required",
			}
		}
	default:
		return &ValidationError{
			Field:   "source.mode",
			Message: fmt.Sprintf("unknown source mode: %s (supported: poll, listen, kafka, nats)", src.Mode),
		}
	}

	return nil
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.Topic == "" {
		return &ValidationError{
			Field:   "broker.kafka.topic",
			Message: "Kafka change topic is required",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Retry.Multiplier < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.multiplier",
			Message: "multiplier must be non-negative",
		}
	}

	return nil
}

func validateNotifier(cfg NotifierConfig) error {
	if cfg.Command == "" {
		return &ValidationError{
			Field:   "notifier.command",
			Message: "notifier command is required",
		}
	}

	if cfg.ToolName == "" {
		return &ValidationError{
			Field:   "notifier.tool_name",
			Message: "tool name is required",
		}
	}

	if cfg.CallTimeout <= 0 {
		return &ValidationError{
			Field:   "notifier.call_timeout",
			Message: "call timeout must be positive",
		}
	}

	if cfg.RatePerSecond < 0 {
		return &ValidationError{
			Field:   "notifier.rate_per_second",
			Message: "rate must be non-negative",
		}
	}

	return nil
}

func validateAdvice(cfg AdviceConfig) error {
	switch strings.ToLower(cfg.Provider) {
	case "", constants.ProviderAuto, constants.ProviderNone:
	case constants.ProviderAnthropic:
		if cfg.Anthropic.APIKey == "" {
			return &ValidationError{
				Field:   "advice.anthropic.api_key",
				Message: "API key is required when provider is anthropic",
			}
		}
	case constants.ProviderOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return &ValidationError{
				Field:   "advice.openai.api_key",
				Message: "API key is required when provider is openai",
			}
		}
	default:
		return &ValidationError{
			Field:   "advice.provider",
			Message: fmt.Sprintf("unknown provider: %s (valid: auto, anthropic, openai, none)", cfg.Provider),
		}
	}

	if strings.TrimSpace(cfg.FallbackMessage) == "" {
		return &ValidationError{
			Field:   "advice.fallback_message",
			Message: "fallback message cannot be empty",
		}
	}

	return nil
}

func validateLedger(cfg *Config) error {
	switch cfg.Ledger.Backend {
	case constants.LedgerBackendMemory:
	case constants.LedgerBackendRedis:
		if cfg.Database.Redis.Host == "" {
			return &ValidationError{
				Field:   "database.redis.host",
				Message: "Redis is required for the redis ledger backend",
			}
		}
	case constants.LedgerBackendSQLite:
		if cfg.Database.SQLite.Path == "" {
			return &ValidationError{
				Field:   "database.sqlite.path",
				Message: "SQLite path is required for the sqlite ledger backend",
			}
		}
	default:
		return &ValidationError{
			Field:   "ledger.backend",
			Message: fmt.Sprintf("unknown ledger backend: %s (valid: redis, sqlite, memory)", cfg.Ledger.Backend),
		}
	}

	if cfg.Ledger.TTL < 0 {
		return &ValidationError{
			Field:   "ledger.ttl",
			Message: "TTL must be non-negative",
		}
	}

	validOnError := map[string]bool{"allow": true, "deny": true}
	if cfg.Ledger.OnStoreError != "" && !validOnError[strings.ToLower(cfg.Ledger.OnStoreError)] {
		return &ValidationError{
			Field:   "ledger.on_store_error",
			Message: fmt.Sprintf("invalid on_store_error value: %s (valid: allow, deny)", cfg.Ledger.OnStoreError),
		}
	}

	return nil
}
