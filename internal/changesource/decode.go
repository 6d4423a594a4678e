package changesource

import (
	"encoding/json"
	"strings"
	"time"

	"waterbar/pkg/errors"
	"waterbar/pkg/models"
)

const orderItemsTable = "order_items"

// postgres to_json renders timestamp without time zone without an offset
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

// EventFromChange validates a change row and turns it into a consumption
// event. ok is false for rows that are well formed but do not describe an item
// becoming consumed. Rows without an order id are rejected with a validation
// error.
func EventFromChange(row models.ChangeRow, source string) (event models.ConsumptionEvent, ok bool, err error) {
	if row.Table != "" && !strings.EqualFold(tableName(row.Table), orderItemsTable) {
		return event, false, nil
	}
	if strings.EqualFold(row.Type, "DELETE") {
		return event, false, nil
	}
	if len(row.Record) == 0 || string(row.Record) == "null" {
		return event, false, errors.ErrValidation.WithMessage("change row has no record").AsFatal()
	}

	var image models.ItemImage
	if err := json.Unmarshal(row.Record, &image); err != nil {
		return event, false, errors.ErrValidation.WithMessage("malformed change record").WithCause(err).AsFatal()
	}
	if image.OrderID == "" {
		return event, false, errors.ErrValidation.WithMessage("change record has no order_id").
			WithDetail("item_id", image.ID).
			AsFatal()
	}
	if image.Consumed == nil || !*image.Consumed {
		return event, false, nil
	}

	return models.ConsumptionEvent{
		OrderID:   image.OrderID,
		ItemID:    image.ID,
		Consumed:  true,
		UpdatedAt: parseTimestamp(image.UpdatedAt),
		Source:    source,
	}, true, nil
}

// tableName drops a schema qualifier such as "public.".
func tableName(table string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[i+1:]
	}
	return table
}

// parseTimestamp returns the zero time for values it cannot read; the
// timestamp is informational only.
func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
