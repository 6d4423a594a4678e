package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	apperrors "waterbar/pkg/errors"
	"waterbar/pkg/metrics"
	"waterbar/pkg/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ConsumedItemsSince(ctx context.Context, since time.Time, limit int) ([]ConsumedItem, error) {
	query := `
		SELECT id, order_id, updated_at
		FROM order_items
		WHERE consumed = true AND updated_at >= $1
		ORDER BY updated_at ASC, id ASC
		LIMIT $2
	`

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, since, limit)
	observe("consumed_items_since", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query consumed items: %w", err)
	}
	defer rows.Close()

	var items []ConsumedItem
	for rows.Next() {
		var item ConsumedItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan consumed item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return items, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (*OrderHeader, error) {
	query := `
		SELECT id,
		       COALESCE(customer_name, ''),
		       COALESCE(NULLIF(email, ''), customer_email, ''),
		       COALESCE(booking_id::text, '')
		FROM orders
		WHERE id = $1
	`

	start := time.Now()
	var h OrderHeader
	err := s.db.QueryRowContext(ctx, query, orderID).Scan(&h.ID, &h.CustomerName, &h.CustomerEmail, &h.BookingID)
	if errors.Is(err, sql.ErrNoRows) {
		observe("get_order", start, nil)
		return nil, apperrors.ErrNotFound.WithMessage("order %s not found", orderID).ForOrder(orderID)
	}
	observe("get_order", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query order %s: %w", orderID, err)
	}

	return &h, nil
}

func (s *PostgresStore) ListOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	query := `
		SELECT oi.id,
		       COALESCE(oi.item_id::text, ''),
		       COALESCE(p.name, ''),
		       COALESCE(oi.qty, 1),
		       COALESCE(oi.consumed, false),
		       COALESCE(p.category, ''),
		       COALESCE(p.description, ''),
		       p.tags
		FROM order_items oi
		LEFT JOIN products p ON p.id = oi.item_id
		WHERE oi.order_id = $1
		ORDER BY oi.created_at ASC, oi.id ASC
	`

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, orderID)
	observe("list_order_items", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	items := make([]models.OrderItem, 0)
	for rows.Next() {
		var item models.OrderItem
		var tags pq.StringArray
		if err := rows.Scan(
			&item.ID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.Consumed,
			&item.Category,
			&item.Description,
			&tags,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		item.Tags = []string(tags)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return items, nil
}

func (s *PostgresStore) GetBooking(ctx context.Context, bookingID string) (*models.BookingContext, error) {
	query := `
		SELECT COALESCE(e.name, ''), e.tags, b.slot_time
		FROM bookings b
		LEFT JOIN experiences e ON e.id = b.experience_id
		WHERE b.id = $1
	`

	start := time.Now()
	var (
		bc       models.BookingContext
		tags     pq.StringArray
		slotTime pq.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, bookingID).Scan(&bc.ExperienceName, &tags, &slotTime)
	if errors.Is(err, sql.ErrNoRows) {
		observe("get_booking", start, nil)
		return nil, nil
	}
	observe("get_booking", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query booking %s: %w", bookingID, err)
	}

	bc.ExperienceTags = []string(tags)
	if slotTime.Valid {
		bc.SlotTime = slotTime.Time
	}
	return &bc, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery("postgres", operation, status)
	metrics.ObserveDatabaseQueryDuration("postgres", operation, time.Since(start))
}
