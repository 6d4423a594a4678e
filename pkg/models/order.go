package models

import "time"

// ConsumptionEvent signals that an order item was marked consumed.
// The item data it carries is never trusted downstream; the order is re-read.
type ConsumptionEvent struct {
	OrderID   string    `json:"order_id"`
	ItemID    string    `json:"item_id"`
	Consumed  bool      `json:"consumed"`
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source,omitempty"`
}

type Order struct {
	ID            string      `json:"id"`
	CustomerName  string      `json:"customer_name"`
	CustomerEmail string      `json:"customer_email"`
	BookingID     string      `json:"booking_id,omitempty"`
	Items         []OrderItem `json:"items"`
}

type OrderItem struct {
	ID          string   `json:"id"`
	ProductID   string   `json:"product_id"`
	ProductName string   `json:"product_name"`
	Quantity    int      `json:"quantity"`
	Consumed    bool     `json:"consumed"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Partition splits the items into consumed and remaining, preserving order.
func (o *Order) Partition() (consumed, remaining []OrderItem) {
	consumed = make([]OrderItem, 0, len(o.Items))
	remaining = make([]OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		if item.Consumed {
			consumed = append(consumed, item)
		} else {
			remaining = append(remaining, item)
		}
	}
	return consumed, remaining
}

type BookingContext struct {
	ExperienceName string    `json:"experience_name"`
	ExperienceTags []string  `json:"experience_tags,omitempty"`
	SlotTime       time.Time `json:"slot_time,omitempty"`
}

type FollowUpContext struct {
	ExperienceName string `json:"experience_name,omitempty"`
	Advice         string `json:"advice"`
}
