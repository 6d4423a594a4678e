// Package aggregator assembles the full view of an order from the store.
package aggregator

import (
	"context"
	"fmt"

	"waterbar/internal/constants"
	"waterbar/internal/logger"
	"waterbar/internal/store"
	"waterbar/pkg/cel"
	"waterbar/pkg/models"
)

type Aggregator struct {
	store  store.Store
	filter *cel.ItemFilter
	logger logger.Logger
}

// New returns an aggregator. filter may be nil, in which case every item is tracked.
func New(s store.Store, filter *cel.ItemFilter, log logger.Logger) *Aggregator {
	return &Aggregator{
		store:  s,
		filter: filter,
		logger: log,
	}
}

// GetOrderDetails reads the order header and its trackable items. A missing
// order is returned as errors.ErrNotFound.
func (a *Aggregator) GetOrderDetails(ctx context.Context, orderID string) (*models.Order, error) {
	header, err := a.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	items, err := a.store.ListOrderItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load items for order %s: %w", orderID, err)
	}

	order := &models.Order{
		ID:            header.ID,
		CustomerName:  header.CustomerName,
		CustomerEmail: header.CustomerEmail,
		BookingID:     header.BookingID,
		Items:         make([]models.OrderItem, 0, len(items)),
	}
	if order.CustomerName == "" {
		order.CustomerName = constants.DefaultCustomerName
	}

	for _, item := range items {
		if item.ProductName == "" {
			item.ProductName = constants.UnknownProductName
		}
		if item.Quantity <= 0 {
			item.Quantity = 1
		}

		ok, err := a.filter.Match(ctx, item)
		if err != nil {
			// a broken filter should not silently drop items
			a.logger.WarnwCtx(ctx, "Item filter evaluation failed, keeping item",
				"item_id", item.ID,
				"expression", a.filter.Expression(),
				"error", err,
			)
			ok = true
		}
		if !ok {
			a.logger.DebugwCtx(ctx, "Item excluded by filter",
				"item_id", item.ID,
				"product", item.ProductName,
				"category", item.Category,
			)
			continue
		}
		order.Items = append(order.Items, item)
	}

	return order, nil
}

// GetBookingContext returns nil when the order has no booking or the booking
// cannot be read. Lookup failures are logged, not returned.
func (a *Aggregator) GetBookingContext(ctx context.Context, order *models.Order) *models.BookingContext {
	if order == nil || order.BookingID == "" {
		return nil
	}

	bc, err := a.store.GetBooking(ctx, order.BookingID)
	if err != nil {
		a.logger.WarnwCtx(ctx, "Failed to load booking context",
			"booking_id", order.BookingID,
			"error", err,
		)
		return nil
	}
	return bc
}
