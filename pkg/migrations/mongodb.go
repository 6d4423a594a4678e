package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"waterbar/internal/constants"
)

// EnsureAuditIndexes creates the dispatch_audit indexes. The collection itself
// is created on first insert.
func EnsureAuditIndexes(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(constants.AuditCollectionName)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "order_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_dispatch_audit_order_created"),
		},
		{
			Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetName("idx_dispatch_audit_idempotency_key"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_dispatch_audit_status_created"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return nil
}
