package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterbar/pkg/models"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateFilterExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "valid bool expression",
			expr:      `item.category == "water"`,
			wantError: false,
		},
		{
			name:      "non-bool expression",
			expr:      `item.name`,
			wantError: true,
		},
		{
			name:      "invalid expression",
			expr:      `invalid syntax here!!!`,
			wantError: true,
		},
		{
			name:      "undefined variable",
			expr:      `payload.status == "active"`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateFilterExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestItemFilterExamplesCompile(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	for name, expr := range ItemFilterExamples {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, eval.ValidateFilterExpression(expr))
		})
	}
}

func TestItemFilter_Match(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	water := models.OrderItem{ID: "1", ProductName: "Alkaline Water", Quantity: 1, Category: "water", Tags: []string{"hydration"}}
	mocktail := models.OrderItem{ID: "2", ProductName: "Pop-up Mocktail", Quantity: 2, Category: "drink"}

	tests := []struct {
		name string
		expr string
		item models.OrderItem
		want bool
	}{
		{"empty expression accepts", "", mocktail, true},
		{"mocktail excluded", ItemFilterExamples["exclude_drink_category"], mocktail, false},
		{"water kept", ItemFilterExamples["exclude_drink_category"], water, true},
		{"tag membership", ItemFilterExamples["tagged_hydration"], water, true},
		{"nil tags are an empty list", ItemFilterExamples["tagged_hydration"], mocktail, false},
		{"quantity is an int", ItemFilterExamples["single_servings"], mocktail, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := eval.NewItemFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expr, f.Expression())

			got, err := f.Match(context.Background(), tt.item)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestItemFilter_NilMatchesEverything(t *testing.T) {
	var f *ItemFilter
	ok, err := f.Match(context.Background(), models.OrderItem{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewItemFilter_RejectsNonBool(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	_, err = eval.NewItemFilter(`item.quantity + 1`)
	assert.Error(t, err)
}
