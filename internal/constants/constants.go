package constants

import "time"

const (
	ServiceName    = "followup-agent"
	ServiceVersion = "1.0.0"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultPollInterval    = 30 * time.Second
	DefaultCatchUpWindow   = 5 * time.Minute
	DefaultPollLimit       = 500
	DefaultListenChannel   = "order_item_changes"
	DefaultNatsSubject     = "waterbar.order_items.changes"
	DefaultCDCTopic        = "waterbar.public.order_items"
	ListenerMinReconnect   = 10 * time.Second
	ListenerMaxReconnect   = time.Minute
	ListenerPingInterval   = 90 * time.Second
	DefaultStoreQueryLimit = 100
)

const (
	SourceModePoll   = "poll"
	SourceModeListen = "listen"
	SourceModeKafka  = "kafka"
	SourceModeNats   = "nats"
)

const (
	WatermarkMaxObserved = "max_observed"
	WatermarkWallClock   = "wall_clock"
)

const (
	DefaultToolName        = "send_waterbar_email"
	DefaultFlow            = "water-bar-followup"
	DefaultCallTimeout     = 30 * time.Second
	MCPProtocolVersion     = "2024-11-05"
	NotifierPathEnv        = "WATERBAR_MCP_PATH"
	DefaultNotifierCommand = "node"
	DefaultDispatchRate    = 5.0
	DefaultDispatchBurst   = 1
)

const (
	ProviderAuto      = "auto"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderNone      = "none"

	DefaultAnthropicModel = "claude-3-haiku-20240307"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAdviceTokens   = 150
	DefaultAdviceTimeout  = 15 * time.Second
)

const (
	FallbackAdvice        = "Great job staying hydrated! Don't forget your remaining drinks."
	DefaultCompletionText = "Amazing! You've completed your hydration plan. 🎉"
	DefaultCustomerName   = "Valued Customer"
	UnknownProductName    = "Unknown"
)

const (
	LedgerBackendRedis  = "redis"
	LedgerBackendSQLite = "sqlite"
	LedgerBackendMemory = "memory"

	CacheKeyPrefixNotify = "notify:"
	DefaultLedgerTTL     = 30 * 24 * time.Hour
)

const (
	DefaultMongoDBName     = "waterbar"
	AuditCollectionName    = "dispatch_audit"
	DefaultAuditQueryLimit = 50
	MaxAuditQueryLimit     = 500
)

const (
	ShutdownTimeout = 5 * time.Second
)
