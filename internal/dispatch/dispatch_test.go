package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterbar/pkg/models"
)

func item(id, name string, qty int, consumed bool) models.OrderItem {
	return models.OrderItem{ID: id, ProductID: "p-" + id, ProductName: name, Quantity: qty, Consumed: consumed}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		consumed  []models.OrderItem
		remaining []models.OrderItem
		wantKind  Kind
		wantTotal int
	}{
		{
			name:     "empty order",
			wantKind: KindNoOp,
		},
		{
			name:      "nothing consumed yet",
			remaining: []models.OrderItem{item("1", "Alkaline Water", 1, false)},
			wantKind:  KindFollowUp,
			wantTotal: 1,
		},
		{
			name:      "partially consumed",
			consumed:  []models.OrderItem{item("1", "Alkaline Water", 1, true)},
			remaining: []models.OrderItem{item("2", "Electrolyte Mix", 2, false)},
			wantKind:  KindFollowUp,
			wantTotal: 2,
		},
		{
			name:      "all consumed",
			consumed:  []models.OrderItem{item("1", "Alkaline Water", 1, true), item("2", "Electrolyte Mix", 2, true)},
			wantKind:  KindCompletion,
			wantTotal: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide("order-1", tt.consumed, tt.remaining)
			assert.Equal(t, tt.wantKind, d.Kind)
			assert.Equal(t, tt.wantTotal, d.Total)

			if d.Kind == KindFollowUp {
				assert.Equal(t, d.Total, len(d.Consumed)+len(d.Remaining))
			}

			again := Decide("order-1", tt.consumed, tt.remaining)
			assert.Equal(t, d, again)
		})
	}
}

func TestDecide_CompletionNeverFollowUp(t *testing.T) {
	for n := 1; n <= 5; n++ {
		consumed := make([]models.OrderItem, n)
		for i := range consumed {
			consumed[i] = item(string(rune('a'+i)), "Drink", 1, true)
		}
		d := Decide("o", consumed, nil)
		assert.Equal(t, KindCompletion, d.Kind)
		assert.Equal(t, n, d.Total)
	}
}

func TestTransitionKey(t *testing.T) {
	one := Decide("o-9", []models.OrderItem{item("1", "A", 1, true)}, []models.OrderItem{item("2", "B", 1, false)})
	two := Decide("o-9", []models.OrderItem{item("1", "A", 1, true), item("2", "B", 1, true)}, []models.OrderItem{item("3", "C", 1, false)})
	done := Decide("o-9", []models.OrderItem{item("1", "A", 1, true)}, nil)
	noop := Decide("o-9", nil, nil)

	assert.Equal(t, "o-9|followup|1", one.TransitionKey())
	assert.Equal(t, "o-9|followup|2", two.TransitionKey())
	assert.Equal(t, "o-9|completion", done.TransitionKey())
	assert.Empty(t, noop.TransitionKey())
}

func TestPayloadBuilder_FollowUp(t *testing.T) {
	order := &models.Order{
		ID:            "order-a",
		CustomerName:  "Dana",
		CustomerEmail: "dana@example.com",
		Items: []models.OrderItem{
			item("1", "Alkaline Water", 1, true),
			item("2", "Electrolyte Mix", 2, false),
		},
	}
	consumed, remaining := order.Partition()
	d := Decide(order.ID, consumed, remaining)
	require.Equal(t, KindFollowUp, d.Kind)

	b := PayloadBuilder{Flow: "water-bar-followup", CompletionMessage: "done"}
	args, err := b.FollowUp(order, d, models.FollowUpContext{ExperienceName: "Sauna", Advice: "Sip slowly."})
	require.NoError(t, err)

	raw, err := json.Marshal(args)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "water-bar-followup", decoded["flow"])
	assert.Equal(t, "dana@example.com", decoded["to"])

	data := decoded["data"].(map[string]interface{})
	assert.Equal(t, "Dana", data["customerName"])
	assert.Equal(t, float64(1), data["consumedCount"])
	assert.Equal(t, []interface{}{"Alkaline Water"}, data["consumedDrinks"])
	assert.Equal(t, []interface{}{map[string]interface{}{"name": "Electrolyte Mix", "quantity": float64(2)}}, data["remainingDrinks"])
	assert.Equal(t, float64(2), data["totalDrinks"])
	assert.Equal(t, "Sauna", data["experienceName"])
	assert.Equal(t, "Sip slowly.", data["experienceAdvice"])
}

func TestPayloadBuilder_FollowUpOmitsAbsentExperience(t *testing.T) {
	order := &models.Order{ID: "o", CustomerEmail: "x@example.com"}
	d := Decide("o", nil, []models.OrderItem{item("1", "A", 1, false)})

	args, err := PayloadBuilder{Flow: "f"}.FollowUp(order, d, models.FollowUpContext{Advice: "drink"})
	require.NoError(t, err)

	raw, err := json.Marshal(args.Data)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "experienceName")
	assert.Contains(t, string(raw), `"consumedDrinks":[]`)
}

func TestPayloadBuilder_Completion(t *testing.T) {
	order := &models.Order{
		ID:            "order-b",
		CustomerName:  "Lee",
		CustomerEmail: "lee@example.com",
		Items: []models.OrderItem{
			item("1", "Alkaline Water", 1, true),
			item("2", "Electrolyte Mix", 2, true),
		},
	}
	consumed, remaining := order.Partition()
	d := Decide(order.ID, consumed, remaining)
	require.Equal(t, KindCompletion, d.Kind)

	b := PayloadBuilder{Flow: "water-bar-followup", CompletionMessage: "Amazing! You've completed your hydration plan. 🎉"}
	args, err := b.Completion(order, d)
	require.NoError(t, err)

	data, ok := args.Data.(CompletionData)
	require.True(t, ok)
	assert.Equal(t, "order-b", data.OrderID)
	assert.Equal(t, 2, data.TotalDrinks)
	assert.Equal(t, "Amazing! You've completed your hydration plan. 🎉", data.CompletionMessage)
	assert.Equal(t, "lee@example.com", args.To)
}

func TestPayloadBuilder_WrongKind(t *testing.T) {
	order := &models.Order{ID: "o"}
	_, err := PayloadBuilder{}.Completion(order, Decide("o", nil, []models.OrderItem{item("1", "A", 1, false)}))
	assert.Error(t, err)

	_, err = PayloadBuilder{}.FollowUp(order, Decide("o", nil, nil), models.FollowUpContext{})
	assert.Error(t, err)
}
