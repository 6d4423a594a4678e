package changesource

import (
	"time"

	"waterbar/internal/constants"
	"waterbar/internal/store"
)

// Watermark is the lower bound of the next poll query. Boundary holds the ids
// of items already emitted whose updated_at equals At; the query is inclusive,
// so those rows come back on the next poll and must be skipped.
type Watermark struct {
	At       time.Time
	Boundary map[string]struct{}
}

func NewWatermark(at time.Time) Watermark {
	return Watermark{At: at, Boundary: map[string]struct{}{}}
}

// Fresh drops the rows that were emitted by an earlier poll.
func (w Watermark) Fresh(rows []store.ConsumedItem) []store.ConsumedItem {
	fresh := make([]store.ConsumedItem, 0, len(rows))
	for _, row := range rows {
		if row.UpdatedAt.Equal(w.At) {
			if _, seen := w.Boundary[row.ID]; seen {
				continue
			}
		}
		if row.UpdatedAt.Before(w.At) {
			continue
		}
		fresh = append(fresh, row)
	}
	return fresh
}

// Advance computes the watermark for the next poll.
//
// max_observed moves to the newest updated_at among rows and remembers the ids
// sitting exactly on it. An empty poll keeps the watermark where it is, so a
// clock skew between this process and the database can never skip rows.
//
// wall_clock moves to pollStarted regardless of what was read. Rows committed
// with an updated_at older than pollStarted after the query ran are missed.
func Advance(policy string, current Watermark, rows []store.ConsumedItem, pollStarted time.Time) Watermark {
	if policy == constants.WatermarkWallClock {
		return NewWatermark(pollStarted)
	}
	if len(rows) == 0 {
		return current
	}

	newest := current.At
	for _, row := range rows {
		if row.UpdatedAt.After(newest) {
			newest = row.UpdatedAt
		}
	}

	next := NewWatermark(newest)
	if newest.Equal(current.At) {
		for id := range current.Boundary {
			next.Boundary[id] = struct{}{}
		}
	}
	for _, row := range rows {
		if row.UpdatedAt.Equal(newest) {
			next.Boundary[row.ID] = struct{}{}
		}
	}
	return next
}

// Hold is the watermark after a cycle in which some rows could not be handled.
// It stays at or below the oldest failed row so the next poll returns it again,
// and it leaves failed ids out of Boundary. Rows handled after that point come
// back too; the dispatch ledger keeps them from being sent twice.
func Hold(current Watermark, rows []store.ConsumedItem, failed map[string]struct{}) Watermark {
	var oldest time.Time
	for _, row := range rows {
		if _, ok := failed[row.ID]; !ok {
			continue
		}
		if oldest.IsZero() || row.UpdatedAt.Before(oldest) {
			oldest = row.UpdatedAt
		}
	}
	if oldest.IsZero() {
		return current
	}

	handled := make([]store.ConsumedItem, 0, len(rows))
	for _, row := range rows {
		if _, ok := failed[row.ID]; ok || row.UpdatedAt.After(oldest) {
			continue
		}
		handled = append(handled, row)
	}
	return Advance(constants.WatermarkMaxObserved, current, handled, time.Time{})
}
