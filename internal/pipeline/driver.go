// Package pipeline drives consumption events through aggregation, decision,
// advice and dispatch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"waterbar/internal/audit"
	"waterbar/internal/changesource"
	"waterbar/internal/dispatch"
	"waterbar/internal/ledger"
	"waterbar/internal/logger"
	"waterbar/internal/mcpbridge"
	apperrors "waterbar/pkg/errors"
	"waterbar/pkg/logging"
	"waterbar/pkg/metrics"
	"waterbar/pkg/models"
	"waterbar/pkg/tracing"
)

type OrderReader interface {
	GetOrderDetails(ctx context.Context, orderID string) (*models.Order, error)
	GetBookingContext(ctx context.Context, order *models.Order) *models.BookingContext
}

type AdviceGenerator interface {
	Generate(ctx context.Context, consumed, remaining []models.OrderItem, booking *models.BookingContext) models.FollowUpContext
}

type Notifier interface {
	CallTool(ctx context.Context, name string, arguments interface{}) (*mcpbridge.ToolResult, error)
}

// Outcome describes what processing one event led to.
type Outcome struct {
	OrderID        string                `json:"order_id"`
	TraceID        string                `json:"trace_id"`
	Decision       dispatch.Kind         `json:"decision,omitempty"`
	Status         models.DispatchStatus `json:"status,omitempty"`
	NotificationID string                `json:"notification_id,omitempty"`
	Reason         string                `json:"reason,omitempty"`
}

const (
	ReasonOrderNotFound = "order_not_found"
	ReasonNoItems       = "no_trackable_items"
	ReasonMissingEmail  = "missing_email"
	ReasonAlreadySent   = "already_sent"
)

type Driver struct {
	orders   OrderReader
	advice   AdviceGenerator
	notifier Notifier
	ledger   ledger.Ledger
	audit    audit.Recorder
	limiter  *rate.Limiter
	payloads dispatch.PayloadBuilder
	toolName string
	logger   logger.Logger
}

type Option func(*Driver)

// WithLedger enables reservation of each transition before dispatch.
func WithLedger(l ledger.Ledger) Option {
	return func(d *Driver) { d.ledger = l }
}

func WithAudit(r audit.Recorder) Option {
	return func(d *Driver) { d.audit = r }
}

// WithRateLimit spaces notifier calls. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(d *Driver) {
		if rps <= 0 {
			d.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewDriver(orders OrderReader, advice AdviceGenerator, notifier Notifier, toolName string, payloads dispatch.PayloadBuilder, log logger.Logger, opts ...Option) *Driver {
	d := &Driver{
		orders:   orders,
		advice:   advice,
		notifier: notifier,
		payloads: payloads,
		toolName: toolName,
		logger:   log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run feeds every event from src through Handle until ctx is done.
func (d *Driver) Run(ctx context.Context, src changesource.Source) error {
	d.logger.InfowCtx(ctx, "Pipeline started", "source", src.Mode())
	err := src.Run(ctx, d.Handle)
	if ctx.Err() != nil {
		d.logger.InfowCtx(ctx, "Pipeline stopped", "source", src.Mode())
		return nil
	}
	return err
}

// Handle is the changesource.Emitter for the pipeline. Only failures worth a
// redelivery are returned; everything else is logged and absorbed.
func (d *Driver) Handle(ctx context.Context, event models.ConsumptionEvent) error {
	_, err := d.Process(ctx, event)
	return err
}

// Process runs one event end to end. The returned error is non-nil only for
// transient failures that happened before anything was sent.
func (d *Driver) Process(ctx context.Context, event models.ConsumptionEvent) (out *Outcome, err error) {
	traceID := logging.GetTraceID(ctx)
	if traceID == "" {
		traceID = uuid.New().String()
		ctx = logging.WithTraceID(ctx, traceID)
	}
	ctx = logging.WithOrderID(ctx, event.OrderID)

	ctx, span := tracing.GetTracer("pipeline").Start(ctx, "pipeline.process")
	span.SetAttributes(
		attribute.String("order.id", event.OrderID),
		attribute.String("event.source", event.Source),
	)
	defer span.End()

	start := time.Now()
	out = &Outcome{OrderID: event.OrderID, TraceID: traceID}

	err = apperrors.Guard(func() error {
		return d.process(ctx, event, out)
	})

	outcome := string(out.Status)
	switch {
	case err != nil:
		outcome = "error"
		tracing.Fail(span, err)
		d.logger.ErrorwCtx(ctx, "Failed to process consumption event",
			"error", err,
			"item_id", event.ItemID,
		)
	case outcome == "":
		outcome = "no_op"
	}
	metrics.ObserveEventDuration(outcome, time.Since(start))
	return out, err
}

func (d *Driver) process(ctx context.Context, event models.ConsumptionEvent, out *Outcome) error {
	if event.OrderID == "" {
		return apperrors.ErrValidation.WithMessage("event has no order_id").AsFatal()
	}

	order, err := d.orders.GetOrderDetails(ctx, event.OrderID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			out.Status = models.DispatchSkipped
			out.Reason = ReasonOrderNotFound
			d.logger.WarnwCtx(ctx, "Order not found, event abandoned", "item_id", event.ItemID)
			return nil
		}
		return fmt.Errorf("failed to load order: %w", err)
	}

	consumed, remaining := order.Partition()
	decision := dispatch.Decide(order.ID, consumed, remaining)
	out.Decision = decision.Kind
	metrics.IncDispatchDecision(decision.Kind.String())

	d.logger.InfowCtx(ctx, "Dispatch decision",
		"decision", decision.Kind,
		"consumed", len(consumed),
		"remaining", len(remaining),
	)

	if decision.Kind == dispatch.KindNoOp {
		out.Reason = ReasonNoItems
		return nil
	}

	if order.CustomerEmail == "" {
		out.Status = models.DispatchSkipped
		out.Reason = ReasonMissingEmail
		d.logger.WarnwCtx(ctx, "Order has no customer email, notification skipped", "decision", decision.Kind)
		d.record(ctx, decision, "", out, nil)
		return nil
	}

	transition := decision.TransitionKey()
	if d.ledger != nil {
		reserved, err := d.ledger.Reserve(ctx, transition)
		if err != nil {
			return fmt.Errorf("failed to reserve %s: %w", decision.Kind, err)
		}
		if !reserved {
			out.Status = models.DispatchDuplicate
			out.Reason = ReasonAlreadySent
			metrics.IncNotification(decision.Kind.String(), string(models.DispatchDuplicate))
			d.logger.InfowCtx(ctx, "Transition already notified", "decision", decision.Kind)
			d.record(ctx, decision, transition, out, nil)
			return nil
		}
	}

	args, err := d.buildArguments(ctx, order, decision)
	if err != nil {
		d.release(ctx, transition)
		return err
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.release(ctx, transition)
			return fmt.Errorf("dispatch rate limit wait: %w", err)
		}
	}

	result, callErr := d.notifier.CallTool(ctx, d.toolName, args)
	if callErr == nil && !result.Success {
		callErr = &mcpbridge.ToolError{Message: result.Error}
	}

	if callErr != nil {
		out.Status = models.DispatchFailed
		metrics.IncNotification(decision.Kind.String(), string(models.DispatchFailed))
		d.logger.ErrorwCtx(ctx, "Notification failed",
			"decision", decision.Kind,
			"error", callErr,
		)
		if !deliveryUnknown(callErr) {
			d.release(ctx, transition)
		}
		d.record(ctx, decision, transition, out, callErr)
		return nil
	}

	out.Status = models.DispatchSent
	out.NotificationID = result.NotificationID()
	metrics.IncNotification(decision.Kind.String(), string(models.DispatchSent))
	d.logger.InfowCtx(ctx, "Notification sent",
		"decision", decision.Kind,
		"notification_id", out.NotificationID,
	)
	d.record(ctx, decision, transition, out, nil)
	return nil
}

func (d *Driver) buildArguments(ctx context.Context, order *models.Order, decision dispatch.Decision) (dispatch.EmailArguments, error) {
	switch decision.Kind {
	case dispatch.KindFollowUp:
		booking := d.orders.GetBookingContext(ctx, order)
		fc := d.advice.Generate(ctx, decision.Consumed, decision.Remaining, booking)
		return d.payloads.FollowUp(order, decision, fc)
	case dispatch.KindCompletion:
		return d.payloads.Completion(order, decision)
	default:
		return dispatch.EmailArguments{}, fmt.Errorf("no payload for %s", decision.Kind)
	}
}

// deliveryUnknown reports failures after which the notifier may still have
// sent the email. Their reservation is kept.
func deliveryUnknown(err error) bool {
	return errors.Is(err, mcpbridge.ErrTimeout) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (d *Driver) release(ctx context.Context, transition string) {
	if d.ledger == nil || transition == "" {
		return
	}
	// the event context may already be canceled
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.ledger.Release(releaseCtx, transition); err != nil {
		d.logger.WarnwCtx(ctx, "Failed to release dispatch reservation", "error", err)
	}
}

func (d *Driver) record(ctx context.Context, decision dispatch.Decision, transition string, out *Outcome, cause error) {
	if d.audit == nil {
		return
	}
	rec := &models.DispatchRecord{
		OrderID:        out.OrderID,
		Kind:           decision.Kind.String(),
		Status:         out.Status,
		NotificationID: out.NotificationID,
		Reason:         out.Reason,
		TraceID:        out.TraceID,
	}
	if transition != "" {
		rec.IdempotencyKey = ledger.Key(transition)
	}
	if cause != nil {
		rec.Error = cause.Error()
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.audit.Record(auditCtx, rec); err != nil {
		d.logger.WarnwCtx(ctx, "Failed to write dispatch audit record", "error", err)
	}
}
