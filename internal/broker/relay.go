package broker

import (
	"context"
	"encoding/json"

	"waterbar/internal/logger"
	"waterbar/pkg/models"
)

// Relay republishes rows read from one transport onto another, typically
// Postgres notifications onto Kafka or NATS so several agents can share
// a single database trigger.
type Relay struct {
	consumer Consumer
	producer Producer
	target   string
	logger   logger.Logger
}

func NewRelay(consumer Consumer, producer Producer, target string, log logger.Logger) *Relay {
	return &Relay{consumer: consumer, producer: producer, target: target, logger: log}
}

// Run blocks until ctx is done.
func (r *Relay) Run(ctx context.Context, source string) error {
	r.logger.InfowCtx(ctx, "Relay started", "source", source, "target", r.target)
	return r.consumer.Consume(ctx, source, r.forward)
}

func (r *Relay) forward(ctx context.Context, row models.ChangeRow) error {
	if row.Headers == nil {
		row.Headers = map[string]string{}
	}
	row.Headers["relay_source"] = row.Table
	return r.producer.Publish(ctx, r.target, rowKey(row), row)
}

func (r *Relay) Close() error {
	cerr := r.consumer.Close()
	if err := r.producer.Close(); err != nil {
		return err
	}
	return cerr
}

// rowKey partitions by order so one order's changes stay in sequence.
func rowKey(row models.ChangeRow) string {
	var img models.ItemImage
	if len(row.Record) == 0 || json.Unmarshal(row.Record, &img) != nil {
		return ""
	}
	return img.OrderID
}
