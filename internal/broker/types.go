// Package broker delivers change rows from message transports.
package broker

import (
	"context"

	"waterbar/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic, key string, row models.ChangeRow) error
	Close() error
}

type Consumer interface {
	// Consume blocks until ctx is done, handing each decoded row to handler.
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, row models.ChangeRow) error
