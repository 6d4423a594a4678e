package store

import (
	"context"
	"time"

	"waterbar/internal/config"
	"waterbar/pkg/circuitbreaker"
	apperrors "waterbar/pkg/errors"
	"waterbar/pkg/models"
)

type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store Store, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.FromSettings("postgres-store", cfg),
	}
}

func (s *CircuitBreakerStore) ConsumedItemsSince(ctx context.Context, since time.Time, limit int) ([]ConsumedItem, error) {
	return circuitbreaker.Do(ctx, s.cb, func() ([]ConsumedItem, error) {
		return s.store.ConsumedItemsSince(ctx, since, limit)
	})
}

// GetOrder does not count a missing order as a breaker failure.
func (s *CircuitBreakerStore) GetOrder(ctx context.Context, orderID string) (*OrderHeader, error) {
	var notFound error
	h, err := circuitbreaker.Do(ctx, s.cb, func() (*OrderHeader, error) {
		h, err := s.store.GetOrder(ctx, orderID)
		if err != nil && apperrors.IsNotFound(err) {
			notFound = err
			return nil, nil
		}
		return h, err
	})
	if notFound != nil {
		return nil, notFound
	}
	return h, err
}

func (s *CircuitBreakerStore) ListOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	return circuitbreaker.Do(ctx, s.cb, func() ([]models.OrderItem, error) {
		return s.store.ListOrderItems(ctx, orderID)
	})
}

func (s *CircuitBreakerStore) GetBooking(ctx context.Context, bookingID string) (*models.BookingContext, error) {
	return circuitbreaker.Do(ctx, s.cb, func() (*models.BookingContext, error) {
		return s.store.GetBooking(ctx, bookingID)
	})
}

func (s *CircuitBreakerStore) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *CircuitBreakerStore) State() string {
	if s.cb == nil {
		return "disabled"
	}
	return s.cb.State().String()
}
