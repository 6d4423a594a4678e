package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"waterbar/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", "10s")
	viper.SetDefault("server.write_timeout_seconds", "10s")

	viper.SetDefault("source.mode", constants.SourceModePoll)
	viper.SetDefault("source.poll.interval", constants.DefaultPollInterval)
	viper.SetDefault("source.poll.catch_up", constants.DefaultCatchUpWindow)
	viper.SetDefault("source.poll.watermark_policy", constants.WatermarkMaxObserved)
	viper.SetDefault("source.poll.limit", constants.DefaultPollLimit)
	viper.SetDefault("source.listen.channel", constants.DefaultListenChannel)
	viper.SetDefault("source.nats.subject", constants.DefaultNatsSubject)

	viper.SetDefault("notifier.tool_name", constants.DefaultToolName)
	viper.SetDefault("notifier.flow", constants.DefaultFlow)
	viper.SetDefault("notifier.call_timeout", constants.DefaultCallTimeout)
	viper.SetDefault("notifier.rate_per_second", constants.DefaultDispatchRate)

	viper.SetDefault("advice.provider", constants.ProviderAuto)
	viper.SetDefault("advice.timeout", constants.DefaultAdviceTimeout)
	viper.SetDefault("advice.fallback_message", constants.FallbackAdvice)
	viper.SetDefault("advice.anthropic.model", constants.DefaultAnthropicModel)
	viper.SetDefault("advice.anthropic.max_tokens", constants.DefaultAdviceTokens)
	viper.SetDefault("advice.openai.model", constants.DefaultOpenAIModel)
	viper.SetDefault("advice.openai.max_tokens", constants.DefaultAdviceTokens)

	viper.SetDefault("pipeline.completion_message", constants.DefaultCompletionText)

	viper.SetDefault("ledger.backend", constants.LedgerBackendMemory)
	viper.SetDefault("ledger.ttl", constants.DefaultLedgerTTL)
	viper.SetDefault("ledger.on_store_error", "deny")

	viper.SetDefault("logging.level", "info")
}

func bindEnvVariables() {
	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.sqlite.path", "DATABASE_SQLITE_PATH")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("source.mode", "SOURCE_MODE")
	viper.BindEnv("source.poll.interval", "SOURCE_POLL_INTERVAL")
	viper.BindEnv("source.nats.url", "SOURCE_NATS_URL")

	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.topic", "BROKER_KAFKA_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("notifier.command", "NOTIFIER_COMMAND")
	viper.BindEnv("notifier.workdir", "NOTIFIER_WORKDIR")

	viper.BindEnv("advice.provider", "ADVICE_PROVIDER")
	viper.BindEnv("advice.anthropic.api_key", "ADVICE_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	viper.BindEnv("advice.openai.api_key", "ADVICE_OPENAI_API_KEY", "OPENAI_API_KEY")
	viper.BindEnv("advice.openai.base_url", "ADVICE_OPENAI_BASE_URL")

	viper.BindEnv("ledger.backend", "LEDGER_BACKEND")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	// The notifier location is commonly injected by the deployment, not the config file.
	if path := os.Getenv(constants.NotifierPathEnv); path != "" {
		applyNotifierPath(&cfg.Notifier, path)
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	return nil
}

// applyNotifierPath points the notifier at an entry script such as
// /opt/mcp-waterbar-emails/build/index.js. The process starts in the script's
// directory and receives its base name as the last argument.
func applyNotifierPath(n *NotifierConfig, path string) {
	n.WorkDir = filepath.Dir(path)
	entry := filepath.Base(path)

	if n.Command == "" {
		n.Command = constants.DefaultNotifierCommand
	}
	args := append([]string(nil), n.Args...)
	if len(args) == 0 {
		args = append(args, entry)
	} else {
		args[len(args)-1] = entry
	}
	n.Args = args
}
