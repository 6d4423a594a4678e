// Package dispatch decides which notification, if any, an order's current
// consumption state warrants and shapes the notifier arguments for it.
package dispatch

import (
	"fmt"

	"waterbar/pkg/models"
)

type Kind string

const (
	KindFollowUp   Kind = "FOLLOW_UP"
	KindCompletion Kind = "COMPLETION"
	KindNoOp       Kind = "NO_OP"
)

func (k Kind) String() string {
	return string(k)
}

// Decision is the outcome of Decide. Only the fields relevant to Kind are set.
type Decision struct {
	Kind      Kind
	OrderID   string
	Consumed  []models.OrderItem
	Remaining []models.OrderItem
	Total     int
}

// ConsumedCount returns how many items had been consumed when the decision was made.
func (d Decision) ConsumedCount() int {
	return len(d.Consumed)
}

// Decide is pure: the same partition always yields the same decision.
func Decide(orderID string, consumed, remaining []models.OrderItem) Decision {
	total := len(consumed) + len(remaining)

	switch {
	case total == 0:
		return Decision{Kind: KindNoOp, OrderID: orderID}
	case len(remaining) == 0:
		return Decision{
			Kind:     KindCompletion,
			OrderID:  orderID,
			Consumed: consumed,
			Total:    total,
		}
	default:
		return Decision{
			Kind:      KindFollowUp,
			OrderID:   orderID,
			Consumed:  consumed,
			Remaining: remaining,
			Total:     total,
		}
	}
}

// TransitionKey identifies the state transition a decision represents. Follow-ups
// are distinguished by how many items were consumed, completion happens once.
func (d Decision) TransitionKey() string {
	switch d.Kind {
	case KindFollowUp:
		return fmt.Sprintf("%s|followup|%d", d.OrderID, len(d.Consumed))
	case KindCompletion:
		return fmt.Sprintf("%s|completion", d.OrderID)
	default:
		return ""
	}
}
