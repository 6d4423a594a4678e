package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterbar/internal/logger"
	"waterbar/internal/store"
	"waterbar/pkg/cel"
	apperrors "waterbar/pkg/errors"
	"waterbar/pkg/models"
)

type fakeStore struct {
	orders   map[string]*store.OrderHeader
	items    map[string][]models.OrderItem
	bookings map[string]*models.BookingContext
	itemsErr error
	bookErr  error
}

func (f *fakeStore) ConsumedItemsSince(ctx context.Context, since time.Time, limit int) ([]store.ConsumedItem, error) {
	return nil, nil
}

func (f *fakeStore) GetOrder(ctx context.Context, orderID string) (*store.OrderHeader, error) {
	h, ok := f.orders[orderID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return h, nil
}

func (f *fakeStore) ListOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	return f.items[orderID], f.itemsErr
}

func (f *fakeStore) GetBooking(ctx context.Context, bookingID string) (*models.BookingContext, error) {
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	return f.bookings[bookingID], nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func newStore() *fakeStore {
	return &fakeStore{
		orders: map[string]*store.OrderHeader{
			"o-1": {ID: "o-1", CustomerName: "", CustomerEmail: "a@example.com", BookingID: "b-1"},
			"o-2": {ID: "o-2", CustomerName: "Dana", CustomerEmail: "d@example.com"},
		},
		items: map[string][]models.OrderItem{
			"o-1": {
				{ID: "1", ProductName: "Alkaline Water", Quantity: 1, Consumed: true, Category: "water"},
				{ID: "2", ProductName: "", Quantity: 0, Category: "water"},
				{ID: "3", ProductName: "Pop-up Mocktail", Quantity: 1, Category: "drink"},
			},
		},
		bookings: map[string]*models.BookingContext{
			"b-1": {ExperienceName: "Cold Plunge", ExperienceTags: []string{"cold"}},
		},
	}
}

func TestGetOrderDetails_Defaults(t *testing.T) {
	a := New(newStore(), nil, logger.NopLogger())

	order, err := a.GetOrderDetails(context.Background(), "o-1")
	require.NoError(t, err)

	assert.Equal(t, "Valued Customer", order.CustomerName)
	require.Len(t, order.Items, 3)
	assert.Equal(t, "Unknown", order.Items[1].ProductName)
	assert.Equal(t, 1, order.Items[1].Quantity)
}

func TestGetOrderDetails_NotFound(t *testing.T) {
	a := New(newStore(), nil, logger.NopLogger())

	_, err := a.GetOrderDetails(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetOrderDetails_NoItems(t *testing.T) {
	a := New(newStore(), nil, logger.NopLogger())

	order, err := a.GetOrderDetails(context.Background(), "o-2")
	require.NoError(t, err)
	assert.NotNil(t, order.Items)
	assert.Empty(t, order.Items)
	assert.Equal(t, "Dana", order.CustomerName)
}

func TestGetOrderDetails_ItemsError(t *testing.T) {
	s := newStore()
	s.itemsErr = errors.New("connection reset")
	a := New(s, nil, logger.NopLogger())

	_, err := a.GetOrderDetails(context.Background(), "o-1")
	require.Error(t, err)
	assert.False(t, apperrors.IsNotFound(err))
}

func TestGetOrderDetails_ItemFilter(t *testing.T) {
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)
	filter, err := eval.NewItemFilter(`item.category != "drink"`)
	require.NoError(t, err)

	a := New(newStore(), filter, logger.NopLogger())

	order, err := a.GetOrderDetails(context.Background(), "o-1")
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	for _, item := range order.Items {
		assert.NotEqual(t, "drink", item.Category)
	}
}

func TestGetBookingContext(t *testing.T) {
	s := newStore()
	a := New(s, nil, logger.NopLogger())
	ctx := context.Background()

	bc := a.GetBookingContext(ctx, &models.Order{ID: "o-1", BookingID: "b-1"})
	require.NotNil(t, bc)
	assert.Equal(t, "Cold Plunge", bc.ExperienceName)

	assert.Nil(t, a.GetBookingContext(ctx, &models.Order{ID: "o-2"}))
	assert.Nil(t, a.GetBookingContext(ctx, &models.Order{ID: "o-3", BookingID: "unknown"}))

	s.bookErr = errors.New("timeout")
	assert.Nil(t, a.GetBookingContext(ctx, &models.Order{ID: "o-1", BookingID: "b-1"}))
}
