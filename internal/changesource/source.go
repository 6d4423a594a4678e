// Package changesource turns order item changes into consumption events,
// either by polling the store or by subscribing to a push transport.
package changesource

import (
	"context"

	"waterbar/internal/broker"
	"waterbar/internal/config"
	"waterbar/internal/constants"
	"waterbar/internal/logger"
	"waterbar/internal/store"
	"waterbar/pkg/models"
)

// Emitter receives each event. A returned error means the event was not
// handled; push transports may redeliver it.
type Emitter func(ctx context.Context, event models.ConsumptionEvent) error

type Source interface {
	// Run blocks until ctx is done. Transient failures are logged and retried,
	// never returned.
	Run(ctx context.Context, emit Emitter) error
	Mode() string
	Close() error
}

// New builds the source selected by cfg.Source.Mode.
func New(cfg *config.Config, st store.Store, log logger.Logger) (Source, error) {
	if cfg.Source.Mode == "" || cfg.Source.Mode == constants.SourceModePoll {
		return NewPollSource(st, cfg.Source.Poll, log), nil
	}

	consumer, topic, err := broker.NewConsumer(cfg, log)
	if err != nil {
		return nil, err
	}
	consumer.SetServiceName(constants.ServiceName)
	return NewPushSource(cfg.Source.Mode, consumer, topic, log), nil
}
