package changesource

import (
	"context"
	"time"

	"waterbar/internal/config"
	"waterbar/internal/constants"
	"waterbar/internal/logger"
	"waterbar/internal/store"
	apperrors "waterbar/pkg/errors"
	"waterbar/pkg/logging"
	"waterbar/pkg/metrics"
	"waterbar/pkg/models"
)

// PollSource queries the store for consumed items on a fixed interval and
// emits one event per newly seen item, oldest first.
type PollSource struct {
	store    store.Store
	interval time.Duration
	catchUp  time.Duration
	limit    int
	policy   string
	logger   logger.Logger
	now      func() time.Time
}

func NewPollSource(st store.Store, cfg config.PollConfig, log logger.Logger) *PollSource {
	p := &PollSource{
		store:    st,
		interval: cfg.Interval,
		catchUp:  cfg.CatchUp,
		limit:    cfg.Limit,
		policy:   cfg.WatermarkPolicy,
		logger:   log,
		now:      time.Now,
	}
	if p.interval <= 0 {
		p.interval = constants.DefaultPollInterval
	}
	if p.catchUp <= 0 {
		p.catchUp = constants.DefaultCatchUpWindow
	}
	if p.limit <= 0 {
		p.limit = constants.DefaultPollLimit
	}
	if p.policy == "" {
		p.policy = constants.WatermarkMaxObserved
	}
	return p
}

func (p *PollSource) Mode() string { return constants.SourceModePoll }

func (p *PollSource) Close() error { return nil }

func (p *PollSource) Run(ctx context.Context, emit Emitter) error {
	ctx = logging.WithSource(ctx, constants.SourceModePoll)
	wm := NewWatermark(p.now().Add(-p.catchUp).UTC())

	p.logger.InfowCtx(ctx, "Polling for consumed items",
		"interval", p.interval,
		"watermark", wm.At,
		"policy", p.policy,
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		wm = p.Poll(ctx, wm, emit)

		select {
		case <-ctx.Done():
			p.logger.InfowCtx(ctx, "Stopped polling", "watermark", wm.At)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll runs one cycle and returns the next watermark. On a store failure the
// watermark is returned unchanged so the next cycle retries the same window.
// Rows whose emit failed with a retryable error are held back with Hold.
func (p *PollSource) Poll(ctx context.Context, wm Watermark, emit Emitter) Watermark {
	started := p.now().UTC()

	rows, err := p.store.ConsumedItemsSince(ctx, wm.At, p.limit)
	if err != nil {
		if ctx.Err() == nil {
			metrics.PollErrorsTotal.Inc()
			p.logger.ErrorwCtx(ctx, "Poll failed",
				"error", err,
				"watermark", wm.At,
				"retry_in", p.interval,
			)
		}
		return wm
	}

	fresh := wm.Fresh(rows)
	if len(rows) == p.limit {
		p.logger.WarnwCtx(ctx, "Poll hit the row limit, remaining rows follow next cycle",
			"limit", p.limit,
		)
	}

	failed := make(map[string]struct{})
	for _, row := range fresh {
		if ctx.Err() != nil {
			break
		}
		event := models.ConsumptionEvent{
			OrderID:   row.OrderID,
			ItemID:    row.ID,
			Consumed:  true,
			UpdatedAt: row.UpdatedAt,
			Source:    constants.SourceModePoll,
		}
		metrics.IncConsumptionEvent(constants.SourceModePoll, "accepted")
		if err := emit(ctx, event); err != nil {
			p.logger.ErrorwCtx(logging.WithOrderID(ctx, row.OrderID), "Failed to handle consumption event",
				"error", err,
				"item_id", row.ID,
				"retry", !apperrors.IsPermanent(err),
			)
			if !apperrors.IsPermanent(err) {
				failed[row.ID] = struct{}{}
			}
		}
	}

	if ctx.Err() != nil {
		// rows after the interruption were not emitted
		return wm
	}
	next := Advance(p.policy, wm, rows, started)
	if len(failed) > 0 {
		next = Hold(wm, fresh, failed)
	}
	metrics.SetPollWatermark(next.At)
	if len(fresh) > 0 {
		p.logger.DebugwCtx(ctx, "Poll cycle complete",
			"emitted", len(fresh),
			"watermark", next.At,
		)
	}
	return next
}
