package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterbar/pkg/models"
)

func TestMemoryRecorder(t *testing.T) {
	r := NewMemoryRecorder(3)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, status := range []models.DispatchStatus{models.DispatchSent, models.DispatchDuplicate, models.DispatchFailed} {
		require.NoError(t, r.Record(ctx, &models.DispatchRecord{
			OrderID:   "o-1",
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, r.Record(ctx, &models.DispatchRecord{OrderID: "o-2", Status: models.DispatchSent}))

	got, err := r.ListByOrder(ctx, "o-1", 10)
	require.NoError(t, err)
	// capacity 3 evicted the oldest o-1 record
	require.Len(t, got, 2)
	assert.Equal(t, models.DispatchFailed, got[0].Status)
	assert.Equal(t, models.DispatchDuplicate, got[1].Status)
	assert.NotEmpty(t, got[0].ID)

	got, err = r.ListByOrder(ctx, "o-1", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = r.ListByOrder(ctx, "missing", 0)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	r := NewMemoryRecorder(0)
	rec := &models.DispatchRecord{OrderID: "o"}
	require.NoError(t, r.Record(context.Background(), rec))

	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, clampLimit(0))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, 500, clampLimit(10_000))
}
