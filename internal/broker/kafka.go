package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"waterbar/internal/config"
	"waterbar/internal/constants"
	"waterbar/internal/logger"
	"waterbar/pkg/errors"
	"waterbar/pkg/logging"
	"waterbar/pkg/metrics"
	"waterbar/pkg/models"
	"waterbar/pkg/retry"
	"waterbar/pkg/tracing"
)

const (
	headerDLQReason      = "dlq_reason"
	headerDLQSourceTopic = "dlq_source_topic"
	headerDLQTimestamp   = "dlq_timestamp"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
	}
	// DLQ topics are rarely provisioned ahead of the first failure
	w.AllowAutoTopicCreation = true
	return &KafkaProducer{writer: w, logger: log}
}

// Publish writes row to topic keyed by key, so changes to one order stay ordered.
func (p *KafkaProducer) Publish(ctx context.Context, topic, key string, row models.ChangeRow) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal change row: %w", err)
	}

	headers := make([]kafka.Header, 0, len(row.Headers)+2)
	for k, v := range row.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = tracing.InjectTraceContext(ctx, headers)

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   body,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads CDC change rows from a topic. Rows that still fail after
// the retry policy go to the DLQ topic when one is configured; the offset is
// committed either way so one poisoned row cannot block the partition.
type KafkaConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	reader      *kafka.Reader
	logger      logger.Logger
	dlqProducer Producer
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	consumer := &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: constants.ServiceName,
	}
	if cfg.DLQTopic != "" {
		consumer.dlqProducer = NewKafkaProducer(cfg, log)
	}
	return consumer
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithSource(logging.WithServiceName(ctx, c.serviceName), constants.SourceModeKafka)
		c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", topic)

		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
				continue
			}

			c.handleMessage(consumeCtx, m, topic, handler)
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, m kafka.Message, topic string, handler HandlerFunc) {
	msgCtx, span := tracing.StartConsumeSpan(ctx, m)
	defer span.End()

	row, err := decodeKafkaRow(m)
	if err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to unmarshal change row",
			"error", err,
			"topic", topic,
			"offset", m.Offset,
		)
		c.commit(msgCtx, m, topic)
		return
	}

	if err := c.processWithRetry(msgCtx, row, handler, topic); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to process change row after retries",
			"error", err,
			"topic", topic,
		)
		if c.dlqProducer != nil {
			if dlqErr := c.sendToDLQ(msgCtx, m, row, err, topic); dlqErr != nil {
				c.logger.ErrorwCtx(msgCtx, "Failed to send change row to DLQ",
					"error", dlqErr,
					"topic", topic,
				)
			}
		} else {
			c.logger.WarnwCtx(msgCtx, "No DLQ configured, committing change row to avoid blocking",
				"topic", topic,
			)
		}
	}
	c.commit(msgCtx, m, topic)
}

func (c *KafkaConsumer) commit(ctx context.Context, m kafka.Message, topic string) {
	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.logger.ErrorwCtx(ctx, "Failed to commit message",
			"error", err,
			"topic", topic,
		)
	}
}

func decodeKafkaRow(m kafka.Message) (models.ChangeRow, error) {
	var row models.ChangeRow
	if err := json.Unmarshal(m.Value, &row); err != nil {
		return row, err
	}
	if len(m.Headers) > 0 {
		row.Headers = make(map[string]string, len(m.Headers))
		for _, h := range m.Headers {
			row.Headers[h.Key] = string(h.Value)
		}
	}
	return row, nil
}

func (c *KafkaConsumer) processWithRetry(ctx context.Context, row models.ChangeRow, handler HandlerFunc, topic string) error {
	policy := retry.PolicyFrom(c.cfg.Retry)

	return retry.Do(ctx, policy, func() error {
		err := errors.Guard(func() error { return handler(ctx, row) })
		if errors.IsPermanent(err) {
			return retry.NewFatalError(err)
		}
		return err
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying change row processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
}

func (c *KafkaConsumer) sendToDLQ(ctx context.Context, m kafka.Message, row models.ChangeRow, originalErr error, sourceTopic string) error {
	if row.Headers == nil {
		row.Headers = make(map[string]string, 3)
	}
	row.Headers[headerDLQReason] = originalErr.Error()
	row.Headers[headerDLQSourceTopic] = sourceTopic
	row.Headers[headerDLQTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)

	if err := c.dlqProducer.Publish(ctx, c.cfg.DLQTopic, string(m.Key), row); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, sourceTopic, "max_retries_exceeded").Inc()
	c.logger.InfowCtx(ctx, "Change row sent to DLQ",
		"source_topic", sourceTopic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", originalErr.Error(),
	)
	return nil
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.wg.Wait()
	return err
}
