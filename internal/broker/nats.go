package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

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

const natsPendingBuffer = 256

// NatsConsumer receives change rows published on a core NATS subject. Core
// NATS has no redelivery, so a row that exhausts its retries is logged and
// dropped; the poll source's catch-up window covers the gap.
type NatsConsumer struct {
	conn        *nats.Conn
	queue       string
	retry       config.RetryConfig
	logger      logger.Logger
	serviceName string
}

// ConnectNats dials the configured server and keeps reconnecting forever.
func ConnectNats(cfg config.NatsConfig, log logger.Logger) (*nats.Conn, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url,
		nats.Name(constants.ServiceName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnw("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infow("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}

func NewNatsConsumer(cfg config.NatsConfig, log logger.Logger) (*NatsConsumer, error) {
	conn, err := ConnectNats(cfg, log)
	if err != nil {
		return nil, err
	}

	return &NatsConsumer{
		conn:        conn,
		queue:       cfg.Queue,
		retry:       cfg.Retry,
		logger:      log,
		serviceName: constants.ServiceName,
	}, nil
}

func (c *NatsConsumer) SetServiceName(name string) {
	c.serviceName = name
}

func (c *NatsConsumer) Consume(ctx context.Context, subject string, handler HandlerFunc) error {
	msgs := make(chan *nats.Msg, natsPendingBuffer)

	var (
		sub *nats.Subscription
		err error
	)
	if c.queue != "" {
		sub, err = c.conn.ChanQueueSubscribe(subject, c.queue, msgs)
	} else {
		sub, err = c.conn.ChanSubscribe(subject, msgs)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !c.conn.IsClosed() {
			c.logger.Warnw("Failed to unsubscribe", "subject", subject, "error", err)
		}
	}()

	consumeCtx := logging.WithSource(logging.WithServiceName(ctx, c.serviceName), constants.SourceModeNats)
	c.logger.InfowCtx(consumeCtx, "Started consuming",
		"subject", subject,
		"queue", c.queue,
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfowCtx(consumeCtx, "Stopped consuming",
				"subject", subject,
				"reason", "context canceled",
			)
			return ctx.Err()
		case msg := <-msgs:
			c.handleMessage(consumeCtx, msg, handler)
		}
	}
}

func (c *NatsConsumer) handleMessage(ctx context.Context, msg *nats.Msg, handler HandlerFunc) {
	msgCtx := tracing.ExtractFromHeader(ctx, msg.Header)
	msgCtx, span := tracing.GetTracer("changesource-nats").Start(msgCtx, "nats.consume")
	defer span.End()

	row, err := decodeNatsRow(msg)
	if err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to unmarshal change row",
			"error", err,
			"subject", msg.Subject,
		)
		return
	}

	policy := retry.PolicyFrom(c.retry)
	err = retry.Do(msgCtx, policy, func() error {
		err := errors.Guard(func() error { return handler(msgCtx, row) })
		if errors.IsPermanent(err) {
			return retry.NewFatalError(err)
		}
		return err
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, msg.Subject).Inc()
		c.logger.WarnwCtx(msgCtx, "Retrying change row processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"subject", msg.Subject,
		)
	})
	if err != nil {
		c.logger.ErrorwCtx(msgCtx, "Dropping change row after retries",
			"error", err,
			"subject", msg.Subject,
		)
	}
}

func decodeNatsRow(msg *nats.Msg) (models.ChangeRow, error) {
	var row models.ChangeRow
	if err := json.Unmarshal(msg.Data, &row); err != nil {
		return row, err
	}
	if len(msg.Header) > 0 {
		row.Headers = make(map[string]string, len(msg.Header))
		for k := range msg.Header {
			row.Headers[k] = msg.Header.Get(k)
		}
	}
	return row, nil
}

func (c *NatsConsumer) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Drain()
}

// NatsProducer publishes change rows on a subject.
type NatsProducer struct {
	conn *nats.Conn
}

func NewNatsProducer(conn *nats.Conn) *NatsProducer {
	return &NatsProducer{conn: conn}
}

func (p *NatsProducer) Publish(ctx context.Context, subject, key string, row models.ChangeRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal change row: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = body
	for k, v := range row.Headers {
		msg.Header.Set(k, v)
	}
	if key != "" {
		msg.Header.Set("key", key)
	}
	msg.Header = tracing.InjectIntoHeader(ctx, msg.Header)

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (p *NatsProducer) Close() error {
	return p.conn.Drain()
}
