package tracing

import (
	"context"
	"net/http"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InjectTraceContext adds the current trace context to outgoing Kafka headers.
// Existing keys are overwritten in place.
func InjectTraceContext(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := kafkaCarrier(headers)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	return carrier
}

func ExtractTraceContext(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := kafkaCarrier(headers)
	return otel.GetTextMapPropagator().Extract(ctx, &carrier)
}

// ExtractFromHeader reads trace context from multi-valued headers such as
// nats.Header.
func ExtractFromHeader(ctx context.Context, header map[string][]string) context.Context {
	if len(header) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(http.Header(header)))
}

// InjectIntoHeader writes trace context into multi-valued headers, allocating
// them when nil.
func InjectIntoHeader(ctx context.Context, header map[string][]string) map[string][]string {
	if header == nil {
		header = make(map[string][]string)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(header)))
	return header
}

// StartConsumeSpan continues the producer's trace for one change row read
// off Kafka.
func StartConsumeSpan(ctx context.Context, m kafka.Message) (context.Context, trace.Span) {
	ctx = ExtractTraceContext(ctx, m.Headers)
	return GetTracer("changesource-kafka").Start(ctx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(m.Topic),
			semconv.MessagingKafkaMessageOffset(int(m.Offset)),
			attribute.Int("messaging.kafka.partition", m.Partition),
		),
	)
}

type kafkaCarrier []kafka.Header

func (c *kafkaCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *kafkaCarrier) Set(key, value string) {
	for i := range *c {
		if (*c)[i].Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *kafkaCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}
