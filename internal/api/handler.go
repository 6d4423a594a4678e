// Package api exposes the admin HTTP surface of the follow-up agent.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"waterbar/internal/audit"
	"waterbar/internal/logger"
	"waterbar/internal/pipeline"
	"waterbar/pkg/errors"
	"waterbar/pkg/logging"
	"waterbar/pkg/models"
)

// Processor runs one event through the pipeline.
type Processor interface {
	Process(ctx context.Context, event models.ConsumptionEvent) (*pipeline.Outcome, error)
}

// StatusFunc reports runtime details for /api/v1/status.
type StatusFunc func(ctx context.Context) Status

type Status struct {
	Service        string            `json:"service"`
	Source         string            `json:"source"`
	Notifier       string            `json:"notifier"`
	AdviceProvider string            `json:"advice_provider"`
	Ledger         LedgerStatus      `json:"ledger"`
	CircuitBreaker map[string]string `json:"circuit_breakers,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
}

type LedgerStatus struct {
	Backend      string `json:"backend"`
	Reservations int    `json:"reservations"`
	Error        string `json:"error,omitempty"`
}

type Handler struct {
	processor Processor
	audit     audit.Recorder
	status    StatusFunc
	logger    logger.Logger
}

func NewHandler(processor Processor, recorder audit.Recorder, status StatusFunc, log logger.Logger) *Handler {
	return &Handler{
		processor: processor,
		audit:     recorder,
		status:    status,
		logger:    log,
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	if orderID := errors.OrderOf(err); orderID != "" {
		ctx = logging.WithOrderID(ctx, orderID)
	}
	h.logger.ErrorwCtx(ctx, "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", h.GetStatus)

		orders := v1.Group("/orders")
		{
			orders.POST("/:id/process", h.ProcessOrder)
			orders.GET("/:id/dispatches", h.ListDispatches)
		}
	}
}

// GetStatus reports source mode, notifier state and ledger size.
// @Summary      Agent status
// @Description  Source mode, notifier process state, circuit breakers and ledger size
// @Tags         status
// @Produce      json
// @Success      200  {object}  Status
// @Router       /status [get]
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.status(c.Request.Context()))
}

// ProcessOrder runs the order through the pipeline as if one of its items had
// just been consumed. The idempotency ledger still applies, so a manual
// trigger never sends a notification twice.
// @Summary      Process an order
// @Description  Run the order through the follow-up pipeline now. Already sent notifications are not repeated.
// @Tags         orders
// @Produce      json
// @Param        id   path      string  true  "Order ID"
// @Success      200  {object}  pipeline.Outcome
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /orders/{id}/process [post]
func (h *Handler) ProcessOrder(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("id"))
	if orderID == "" {
		h.HandleError(c, errors.ErrValidation.WithMessage("order id is required"))
		return
	}

	out, err := h.processor.Process(c.Request.Context(), models.ConsumptionEvent{
		OrderID:   orderID,
		Consumed:  true,
		UpdatedAt: time.Now().UTC(),
		Source:    "api",
	})
	if err != nil {
		// transient failures are worth retrying later
		if !errors.IsPermanent(err) {
			err = errors.ErrServiceUnavailable.WithCause(err).ForOrder(orderID)
		}
		h.HandleError(c, err)
		return
	}

	if out.Reason == pipeline.ReasonOrderNotFound {
		h.HandleError(c, errors.ErrNotFound.WithMessage("order %s not found", orderID).ForOrder(orderID))
		return
	}
	c.JSON(http.StatusOK, out)
}

// ListDispatches returns the newest audit records for an order.
// @Summary      List dispatches
// @Description  Newest audit records first
// @Tags         orders
// @Produce      json
// @Param        id     path      string  true   "Order ID"
// @Param        limit  query     int     false  "Maximum records to return"
// @Success      200    {array}   models.DispatchRecord
// @Failure      503    {object}  errors.ErrorResponse
// @Router       /orders/{id}/dispatches [get]
func (h *Handler) ListDispatches(c *gin.Context) {
	orderID := c.Param("id")
	limit := parseLimit(c.Query("limit"))

	records, err := h.audit.ListByOrder(c.Request.Context(), orderID, limit)
	if err != nil {
		h.HandleError(c, errors.ErrServiceUnavailable.WithCause(err))
		return
	}
	c.JSON(http.StatusOK, records)
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return 0
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
