package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterbar/internal/advice"
	"waterbar/internal/aggregator"
	"waterbar/internal/audit"
	"waterbar/internal/changesource"
	"waterbar/internal/config"
	"waterbar/internal/dispatch"
	"waterbar/internal/ledger"
	"waterbar/internal/logger"
	"waterbar/internal/mcpbridge"
	"waterbar/internal/store"
	apperrors "waterbar/pkg/errors"
	"waterbar/pkg/models"
)

type fakeStore struct {
	orders   map[string]*store.OrderHeader
	items    map[string][]models.OrderItem
	bookings map[string]*models.BookingContext
	err      error
}

func (s *fakeStore) ConsumedItemsSince(context.Context, time.Time, int) ([]store.ConsumedItem, error) {
	return nil, nil
}

func (s *fakeStore) GetOrder(_ context.Context, id string) (*store.OrderHeader, error) {
	if s.err != nil {
		return nil, s.err
	}
	h, ok := s.orders[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithMessage("order %s not found", id)
	}
	return h, nil
}

func (s *fakeStore) ListOrderItems(_ context.Context, id string) ([]models.OrderItem, error) {
	return s.items[id], nil
}

func (s *fakeStore) GetBooking(_ context.Context, id string) (*models.BookingContext, error) {
	return s.bookings[id], nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }

type call struct {
	Tool string
	Args json.RawMessage
}

type fakeNotifier struct {
	mu     sync.Mutex
	calls  []call
	result *mcpbridge.ToolResult
	err    error
}

func (n *fakeNotifier) CallTool(_ context.Context, name string, arguments interface{}) (*mcpbridge.ToolResult, error) {
	raw, err := json.Marshal(arguments)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, call{Tool: name, Args: raw})
	if n.err != nil {
		return nil, n.err
	}
	if n.result != nil {
		return n.result, nil
	}
	return &mcpbridge.ToolResult{Success: true, ID: fmt.Sprintf("msg-%d", len(n.calls))}, nil
}

func (n *fakeNotifier) lastArgs(t *testing.T) map[string]interface{} {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.calls)
	var args map[string]interface{}
	require.NoError(t, json.Unmarshal(n.calls[len(n.calls)-1].Args, &args))
	return args
}

type harness struct {
	store    *fakeStore
	notifier *fakeNotifier
	ledger   *ledger.Service
	audit    *audit.MemoryRecorder
	driver   *Driver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.NopLogger()
	h := &harness{
		store: &fakeStore{
			orders:   map[string]*store.OrderHeader{},
			items:    map[string][]models.OrderItem{},
			bookings: map[string]*models.BookingContext{},
		},
		notifier: &fakeNotifier{},
		ledger:   ledger.NewService(ledger.NewMemoryRepository(), "memory", config.LedgerConfig{}, log),
		audit:    audit.NewMemoryRecorder(0),
	}
	h.driver = NewDriver(
		aggregator.New(h.store, nil, log),
		advice.NewGenerator(nil, log),
		h.notifier,
		"send_waterbar_email",
		dispatch.PayloadBuilder{Flow: "water-bar-followup", CompletionMessage: "Amazing! You've completed your hydration plan. 🎉"},
		log,
		WithLedger(h.ledger),
		WithAudit(h.audit),
	)
	return h
}

func (h *harness) addOrder(id, email string, items ...models.OrderItem) {
	h.store.orders[id] = &store.OrderHeader{ID: id, CustomerName: "Ada", CustomerEmail: email}
	h.store.items[id] = items
}

func (h *harness) audits(t *testing.T, orderID string) []models.DispatchRecord {
	t.Helper()
	recs, err := h.audit.ListByOrder(context.Background(), orderID, 0)
	require.NoError(t, err)
	return recs
}

func event(orderID string) models.ConsumptionEvent {
	return models.ConsumptionEvent{OrderID: orderID, ItemID: "i-1", Consumed: true, Source: "poll"}
}

func TestFollowUpDispatch(t *testing.T) {
	h := newHarness(t)
	h.addOrder("o-1", "ada@example.com",
		models.OrderItem{ID: "i-1", ProductName: "Alkaline Water", Quantity: 1, Consumed: true},
		models.OrderItem{ID: "i-2", ProductName: "Electrolyte Mix", Quantity: 2},
	)

	out, err := h.driver.Process(context.Background(), event("o-1"))
	require.NoError(t, err)
	assert.Equal(t, dispatch.KindFollowUp, out.Decision)
	assert.Equal(t, models.DispatchSent, out.Status)
	assert.Equal(t, "msg-1", out.NotificationID)
	assert.NotEmpty(t, out.TraceID)

	args := h.notifier.lastArgs(t)
	assert.Equal(t, "send_waterbar_email", h.notifier.calls[0].Tool)
	assert.Equal(t, "water-bar-followup", args["flow"])
	assert.Equal(t, "ada@example.com", args["to"])

	data := args["data"].(map[string]interface{})
	assert.Equal(t, "Ada", data["customerName"])
	assert.Equal(t, float64(1), data["consumedCount"])
	assert.Equal(t, []interface{}{"Alkaline Water"}, data["consumedDrinks"])
	assert.Equal(t, []interface{}{map[string]interface{}{"name": "Electrolyte Mix", "quantity": float64(2)}}, data["remainingDrinks"])
	assert.Equal(t, float64(2), data["totalDrinks"])
	assert.NotEmpty(t, data["experienceAdvice"])

	recs := h.audits(t, "o-1")
	require.Len(t, recs, 1)
	assert.Equal(t, models.DispatchSent, recs[0].Status)
	assert.Equal(t, ledger.Key("o-1|followup|1"), recs[0].IdempotencyKey)
}

func TestCompletionDispatch(t *testing.T) {
	h := newHarness(t)
	h.addOrder("o-2", "ada@example.com",
		models.OrderItem{ID: "i-1", ProductName: "Alkaline Water", Quantity: 1, Consumed: true},
		models.OrderItem{ID: "i-2", ProductName: "Electrolyte Mix", Quantity: 2, Consumed: true},
	)

	out, err := h.driver.Process(context.Background(), event("o-2"))
	require.NoError(t, err)
	assert.Equal(t, dispatch.KindCompletion, out.Decision)
	assert.Equal(t, models.DispatchSent, out.Status)

	data := h.notifier.lastArgs(t)["data"].(map[string]interface{})
	assert.Equal(t, "o-2", data["orderId"])
	assert.Equal(t, float64(2), data["totalDrinks"])
	assert.Equal(t, "Amazing! You've completed your hydration plan. 🎉", data["completionMessage"])
	assert.NotContains(t, data, "consumedDrinks")
}

func TestNotifierRPCErrorIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.addOrder("o-3", "ada@example.com",
		models.OrderItem{ID: "i-1", ProductName: "Alkaline Water", Quantity: 1, Consumed: true},
	)
	h.addOrder("o-4", "bob@example.com",
		models.OrderItem{ID: "i-1", ProductName: "Alkaline Water", Quantity: 1, Consumed: true},
	)
	h.notifier.err = &mcpbridge.RPCError{Code: -1, Message: "boom"}

	out, err := h.driver.Process(context.Background(), event("o-3"))
	require.NoError(t, err)
	assert.Equal(t, models.DispatchFailed, out.Status)

	recs := h.audits(t, "o-3")
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Error, "boom")

	// the next event still goes through
	h.notifier.err = nil
	out, err = h.driver.Process(context.Background(), event("o-4"))
	require.NoError(t, err)
	assert.Equal(t, models.DispatchSent, out.Status)

	// the failed transition was released, so a later event can retry it
	out, err = h.driver.Process(context.Background(), event("o-3"))
	require.NoError(t, err)
	assert.Equal(t, models.DispatchSent, out.Status)
}

func TestUnsuccessfulToolResultCountsAsFailure(t *testing.T) {
	h := newHarness(t)
	h.addOrder("o-5", "ada@example.com",
		models.OrderItem{ID: "i-1", ProductName: "Alkaline Water", Quantity: 1, Consumed: true},
	)
	h.notifier.result = &mcpbridge.ToolResult{Success: false, Error: "mailbox full"}

	out, err := h.driver.Process(context.Background(), event("o-5"))
	require.NoError(t, err)
	assert.Equal(t, models.DispatchFailed, out.Status)
	assert.Contains(t, h.audits(t, "o-5")[0].Error, "mailbox full")
}

func TestTimeoutKeepsReservation(t *testing.T) {
	h := newHarness(t)
	h.addOrder("o-6", "ada@example.com",
		models.OrderItem{ID: "i-1", ProductName: "Alkaline Water", Quantity: 1, Consumed: true},
	)
	h.notifier.err = fmt.Errorf("%w after 30s (id 1)", mcpbridge.ErrTimeout)

	out, err := h.driver.Process(context.Background(), event("o-6"))
	require.NoError(t, err)
	assert.Equal(t, models.DispatchFailed, out.Status)

	h.notifier.err = nil
	out, err = h.driver.Process(context.Background(), event("o-6"))
	require.NoError(t, err)
	assert.Equal(t, models.DispatchDuplicate, out.Status)
	assert.Len(t, h.notifier.calls, 1)
}

func TestDuplicateEventsSendOnce(t *testing.T) {
	h := newHarness(t)
	h.addOrder("o-7", "ada@example.com",
		models.OrderItem{ID: "i-1", ProductName: "Alkaline Water", Quantity: 1, Consumed: true},
		models.OrderItem{ID: "i-2", ProductName: "Electrolyte Mix", Quantity: 2},
	)

	for i := 0; i < 3; i++ {
		_, err := h.driver.Process(context.Background(), event("o-7"))
		require.NoError(t, err)
	}
	assert.Len(t, h.notifier.calls, 1)

	// a further consumption is a new transition
	h.store.items["o-7"][1].Consumed = true
	out, err := h.driver.Process(context.Background(), event("o-7"))
	require.NoError(t, err)
	assert.Equal(t, dispatch.KindCompletion, out.Decision)
	assert.Len(t, h.notifier.calls, 2)

	statuses := make([]models.DispatchStatus, 0)
	for _, r := range h.audits(t, "o-7") {
		statuses = append(statuses, r.Status)
	}
	assert.ElementsMatch(t, []models.DispatchStatus{
		models.DispatchSent, models.DispatchDuplicate, models.DispatchDuplicate, models.DispatchSent,
	}, statuses)
}

func TestSkippedEvents(t *testing.T) {
	h := newHarness(t)
	h.addOrder("no-email", "",
		models.OrderItem{ID: "i-1", ProductName: "Alkaline Water", Quantity: 1, Consumed: true},
	)
	h.addOrder("empty", "ada@example.com")

	tests := []struct {
		name       string
		orderID    string
		wantStatus models.DispatchStatus
		wantReason string
	}{
		{"missing order", "ghost", models.DispatchSkipped, ReasonOrderNotFound},
		{"missing email", "no-email", models.DispatchSkipped, ReasonMissingEmail},
		{"no items", "empty", "", ReasonNoItems},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := h.driver.Process(context.Background(), event(tt.orderID))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantReason, out.Reason)
		})
	}
	assert.Empty(t, h.notifier.calls)
}

func TestStoreFailureIsReturned(t *testing.T) {
	h := newHarness(t)
	h.store.err = errors.New("connection reset")

	err := h.driver.Handle(context.Background(), event("o-1"))
	require.Error(t, err)
	assert.False(t, apperrors.IsPermanent(err))
	assert.Empty(t, h.notifier.calls)
}

func TestEventWithoutOrderIDIsPermanent(t *testing.T) {
	h := newHarness(t)
	err := h.driver.Handle(context.Background(), models.ConsumptionEvent{})
	require.Error(t, err)
	assert.True(t, apperrors.IsPermanent(err))
}

type panicNotifier struct{}

func (panicNotifier) CallTool(context.Context, string, interface{}) (*mcpbridge.ToolResult, error) {
	panic("notifier exploded")
}

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.addOrder("o-8", "ada@example.com",
		models.OrderItem{ID: "i-1", ProductName: "Alkaline Water", Quantity: 1, Consumed: true},
	)
	h.driver.notifier = panicNotifier{}

	_, err := h.driver.Process(context.Background(), event("o-8"))
	require.Error(t, err)
	assert.True(t, apperrors.IsPermanent(err))
}

func TestRateLimitHonoursCancellation(t *testing.T) {
	h := newHarness(t)
	h.addOrder("o-9", "ada@example.com",
		models.OrderItem{ID: "i-1", ProductName: "Alkaline Water", Quantity: 1, Consumed: true},
	)
	WithRateLimit(0.001, 1)(h.driver)
	require.NotNil(t, h.driver.limiter)
	require.True(t, h.driver.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.driver.Process(ctx, event("o-9"))
	require.Error(t, err)
	assert.Empty(t, h.notifier.calls)

	// the reservation was released
	ok, err := h.ledger.Reserve(context.Background(), "o-9|completion")
	require.NoError(t, err)
	assert.True(t, ok)
}

type sliceSource struct {
	events []models.ConsumptionEvent
	errs   []error
}

func (s *sliceSource) Run(ctx context.Context, emit changesource.Emitter) error {
	for _, e := range s.events {
		s.errs = append(s.errs, emit(ctx, e))
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *sliceSource) Mode() string { return "test" }
func (s *sliceSource) Close() error { return nil }

func TestRun(t *testing.T) {
	h := newHarness(t)
	h.addOrder("o-1", "ada@example.com",
		models.OrderItem{ID: "i-1", ProductName: "Alkaline Water", Quantity: 1, Consumed: true},
		models.OrderItem{ID: "i-2", ProductName: "Electrolyte Mix", Quantity: 2},
	)
	h.addOrder("o-2", "bob@example.com",
		models.OrderItem{ID: "i-1", ProductName: "Alkaline Water", Quantity: 1, Consumed: true},
	)
	src := &sliceSource{events: []models.ConsumptionEvent{event("o-1"), event("ghost"), event("o-2")}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.driver.Run(ctx, src) }()

	require.Eventually(t, func() bool {
		h.notifier.mu.Lock()
		defer h.notifier.mu.Unlock()
		return len(h.notifier.calls) == 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("driver did not stop")
	}
	assert.Equal(t, []error{nil, nil, nil}, src.errs)
}
