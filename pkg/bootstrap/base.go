package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"waterbar/internal/config"
	"waterbar/internal/logger"
)

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Base carries what every command needs and tears resources down in the
// reverse order they were acquired.
type Base struct {
	Config    *config.Config
	Logger    logger.Logger
	Databases *DatabaseConnector

	mu      sync.Mutex
	closers []closer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config:    cfg,
		Logger:    log,
		Databases: NewDatabaseConnector(cfg, log),
	}
}

// OnShutdown registers fn to run during Shutdown.
func (b *Base) OnShutdown(name string, fn func(ctx context.Context) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closers = append(b.closers, closer{name: name, fn: fn})
}

// OnShutdownClose registers a Close method that takes no context.
func (b *Base) OnShutdownClose(name string, fn func() error) {
	b.OnShutdown(name, func(context.Context) error { return fn() })
}

func (b *Base) Shutdown(ctx context.Context) error {
	b.Logger.Info("Shutting down application...")

	b.mu.Lock()
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s close error: %w", closers[i].name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
