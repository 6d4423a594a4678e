package store

import (
	"context"
	"time"

	"waterbar/pkg/models"
)

// ConsumedItem is one row of the poll query.
type ConsumedItem struct {
	ID        string
	OrderID   string
	UpdatedAt time.Time
}

// OrderHeader is the orders row without its items.
type OrderHeader struct {
	ID            string
	CustomerName  string
	CustomerEmail string
	BookingID     string
}

type Store interface {
	// ConsumedItemsSince returns consumed items with updated_at >= since, oldest first.
	ConsumedItemsSince(ctx context.Context, since time.Time, limit int) ([]ConsumedItem, error)
	// GetOrder returns errors.ErrNotFound when the order does not exist.
	GetOrder(ctx context.Context, orderID string) (*OrderHeader, error)
	ListOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	// GetBooking returns nil, nil when there is no such booking.
	GetBooking(ctx context.Context, bookingID string) (*models.BookingContext, error)
	Ping(ctx context.Context) error
}
