package models

import "encoding/json"

// ChangeRow is a row-level change notification as delivered by push sources
// (database triggers, CDC topics, message subjects).
type ChangeRow struct {
	Type      string            `json:"type"`
	Table     string            `json:"table"`
	Record    json.RawMessage   `json:"record"`
	OldRecord json.RawMessage   `json:"old_record,omitempty"`
	Headers   map[string]string `json:"-"`
}

// ItemImage is the subset of an order_items row the pipeline reads.
type ItemImage struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Consumed  *bool  `json:"consumed"`
	UpdatedAt string `json:"updated_at"`
}
