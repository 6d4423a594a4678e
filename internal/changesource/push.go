package changesource

import (
	"context"

	"waterbar/internal/broker"
	"waterbar/internal/logger"
	"waterbar/pkg/logging"
	"waterbar/pkg/metrics"
	"waterbar/pkg/models"
)

// PushSource adapts a broker consumer. Rows are decoded and validated here so
// every transport shares one notion of a consumption event.
type PushSource struct {
	mode     string
	consumer broker.Consumer
	topic    string
	logger   logger.Logger
}

func NewPushSource(mode string, consumer broker.Consumer, topic string, log logger.Logger) *PushSource {
	return &PushSource{
		mode:     mode,
		consumer: consumer,
		topic:    topic,
		logger:   log,
	}
}

func (s *PushSource) Mode() string { return s.mode }

func (s *PushSource) Close() error { return s.consumer.Close() }

func (s *PushSource) Run(ctx context.Context, emit Emitter) error {
	return s.consumer.Consume(ctx, s.topic, s.handler(emit))
}

func (s *PushSource) handler(emit Emitter) broker.HandlerFunc {
	return func(ctx context.Context, row models.ChangeRow) error {
		event, ok, err := EventFromChange(row, s.mode)
		if err != nil {
			metrics.IncConsumptionEvent(s.mode, "rejected")
			s.logger.WarnwCtx(ctx, "Rejected change row",
				"error", err,
				"table", row.Table,
				"type", row.Type,
			)
			return nil
		}
		if !ok {
			metrics.IncConsumptionEvent(s.mode, "ignored")
			return nil
		}

		metrics.IncConsumptionEvent(s.mode, "accepted")
		return emit(logging.WithOrderID(ctx, event.OrderID), event)
	}
}
