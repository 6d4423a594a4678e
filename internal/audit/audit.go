// Package audit keeps a trail of every dispatch outcome.
package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"waterbar/internal/constants"
	"waterbar/pkg/models"
)

type Recorder interface {
	Record(ctx context.Context, rec *models.DispatchRecord) error
	// ListByOrder returns the newest records first.
	ListByOrder(ctx context.Context, orderID string, limit int) ([]models.DispatchRecord, error)
}

func prepare(rec *models.DispatchRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return constants.DefaultAuditQueryLimit
	}
	if limit > constants.MaxAuditQueryLimit {
		return constants.MaxAuditQueryLimit
	}
	return limit
}

type MongoRecorder struct {
	collection *mongo.Collection
}

func NewMongoRecorder(db *mongo.Database) *MongoRecorder {
	return &MongoRecorder{
		collection: db.Collection(constants.AuditCollectionName),
	}
}

func (r *MongoRecorder) Record(ctx context.Context, rec *models.DispatchRecord) error {
	prepare(rec)

	if _, err := r.collection.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert dispatch record: %w", err)
	}
	return nil
}

func (r *MongoRecorder) ListByOrder(ctx context.Context, orderID string, limit int) ([]models.DispatchRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(clampLimit(limit)))

	cursor, err := r.collection.Find(ctx, bson.M{"order_id": orderID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatch records: %w", err)
	}
	defer cursor.Close(ctx)

	records := make([]models.DispatchRecord, 0)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode dispatch records: %w", err)
	}
	return records, nil
}

// MemoryRecorder keeps the most recent records in process. It is used when
// no MongoDB is configured.
type MemoryRecorder struct {
	mu       sync.RWMutex
	records  []models.DispatchRecord
	capacity int
}

func NewMemoryRecorder(capacity int) *MemoryRecorder {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryRecorder{capacity: capacity}
}

func (r *MemoryRecorder) Record(ctx context.Context, rec *models.DispatchRecord) error {
	prepare(rec)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	if over := len(r.records) - r.capacity; over > 0 {
		r.records = append(r.records[:0:0], r.records[over:]...)
	}
	return nil
}

func (r *MemoryRecorder) ListByOrder(ctx context.Context, orderID string, limit int) ([]models.DispatchRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.DispatchRecord, 0)
	for _, rec := range r.records {
		if rec.OrderID == orderID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
