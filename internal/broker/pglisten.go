package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"waterbar/internal/constants"
	"waterbar/internal/logger"
	"waterbar/pkg/errors"
	"waterbar/pkg/logging"
	"waterbar/pkg/models"
	"waterbar/pkg/tracing"
)

// ListenConsumer receives change rows from Postgres NOTIFY payloads published
// by the order_items trigger. Rows delivered while the connection is down are
// lost; the listener only signals the reconnect.
type ListenConsumer struct {
	conninfo    string
	listener    *pq.Listener
	logger      logger.Logger
	serviceName string
}

func NewListenConsumer(conninfo string, log logger.Logger) *ListenConsumer {
	return &ListenConsumer{
		conninfo:    conninfo,
		logger:      log,
		serviceName: constants.ServiceName,
	}
}

func (c *ListenConsumer) SetServiceName(name string) {
	c.serviceName = name
}

func (c *ListenConsumer) Consume(ctx context.Context, channel string, handler HandlerFunc) error {
	consumeCtx := logging.WithSource(logging.WithServiceName(ctx, c.serviceName), constants.SourceModeListen)

	c.listener = pq.NewListener(c.conninfo, constants.ListenerMinReconnect, constants.ListenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
				c.logger.WarnwCtx(consumeCtx, "Postgres listener connection problem",
					"event", listenerEventName(ev),
					"error", err,
				)
			case pq.ListenerEventReconnected:
				c.logger.InfowCtx(consumeCtx, "Postgres listener reconnected", "channel", channel)
			}
		})

	if err := c.listener.Listen(channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", channel, err)
	}
	c.logger.InfowCtx(consumeCtx, "Started consuming", "channel", channel)

	ping := time.NewTicker(constants.ListenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.InfowCtx(consumeCtx, "Stopped consuming",
				"channel", channel,
				"reason", "context canceled",
			)
			return ctx.Err()
		case n := <-c.listener.Notify:
			// nil after a reconnect
			if n == nil {
				continue
			}
			c.handleNotification(consumeCtx, n, handler)
		case <-ping.C:
			if err := c.listener.Ping(); err != nil {
				c.logger.WarnwCtx(consumeCtx, "Postgres listener ping failed", "error", err)
			}
		}
	}
}

func (c *ListenConsumer) handleNotification(ctx context.Context, n *pq.Notification, handler HandlerFunc) {
	msgCtx, span := tracing.GetTracer("changesource-listen").Start(ctx, "pg.notify")
	defer span.End()

	var row models.ChangeRow
	if err := json.Unmarshal([]byte(n.Extra), &row); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to unmarshal notification payload",
			"error", err,
			"channel", n.Channel,
		)
		return
	}

	if err := errors.Guard(func() error { return handler(msgCtx, row) }); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to handle notification",
			"error", err,
			"channel", n.Channel,
		)
	}
}

func (c *ListenConsumer) Close() error {
	if c.listener == nil {
		return nil
	}
	return c.listener.Close()
}

func listenerEventName(ev pq.ListenerEventType) string {
	switch ev {
	case pq.ListenerEventConnected:
		return "connected"
	case pq.ListenerEventDisconnected:
		return "disconnected"
	case pq.ListenerEventReconnected:
		return "reconnected"
	case pq.ListenerEventConnectionAttemptFailed:
		return "connection_attempt_failed"
	default:
		return "unknown"
	}
}
