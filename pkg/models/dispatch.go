package models

import "time"

type DispatchStatus string

const (
	DispatchSent      DispatchStatus = "sent"
	DispatchFailed    DispatchStatus = "failed"
	DispatchDuplicate DispatchStatus = "duplicate"
	DispatchSkipped   DispatchStatus = "skipped"
)

// DispatchRecord is the audit trail entry written for every decision that
// reached the dispatch stage.
type DispatchRecord struct {
	ID             string         `json:"id" bson:"_id"`
	OrderID        string         `json:"order_id" bson:"order_id"`
	Kind           string         `json:"kind" bson:"kind"`
	IdempotencyKey string         `json:"idempotency_key,omitempty" bson:"idempotency_key,omitempty"`
	Status         DispatchStatus `json:"status" bson:"status"`
	NotificationID string         `json:"notification_id,omitempty" bson:"notification_id,omitempty"`
	Reason         string         `json:"reason,omitempty" bson:"reason,omitempty"`
	Error          string         `json:"error,omitempty" bson:"error,omitempty"`
	TraceID        string         `json:"trace_id,omitempty" bson:"trace_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at" bson:"created_at"`
}
