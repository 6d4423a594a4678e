//go:build integration

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterbar/internal/testinfra"
	"waterbar/pkg/migrations"
	"waterbar/pkg/models"
)

func TestMongoRecorder(t *testing.T) {
	db := testinfra.Mongo(t)
	ctx := context.Background()

	require.NoError(t, migrations.EnsureAuditIndexes(ctx, db))
	require.NoError(t, migrations.EnsureAuditIndexes(ctx, db))

	r := NewMongoRecorder(db)
	base := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, r.Record(ctx, &models.DispatchRecord{OrderID: "o-1", Kind: "FOLLOW_UP", Status: models.DispatchSent, CreatedAt: base}))
	require.NoError(t, r.Record(ctx, &models.DispatchRecord{OrderID: "o-1", Kind: "COMPLETION", Status: models.DispatchFailed, Error: "boom", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, r.Record(ctx, &models.DispatchRecord{OrderID: "o-2", Kind: "COMPLETION", Status: models.DispatchSent}))

	records, err := r.ListByOrder(ctx, "o-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "COMPLETION", records[0].Kind)
	assert.Equal(t, "boom", records[0].Error)
	assert.Equal(t, models.DispatchSent, records[1].Status)

	none, err := r.ListByOrder(ctx, "o-3", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
