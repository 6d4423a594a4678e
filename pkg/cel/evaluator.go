package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"waterbar/pkg/models"
)

type Evaluator struct {
	env *cel.Env
}

// NewEvaluator builds an environment with a single variable, item, holding
// the fields of one order item.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("item", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	_, err := e.compileFilter(expression)
	return err
}

func (e *Evaluator) compileFilter(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return program, nil
}

// ItemFilter decides which order items are tracked. The zero expression
// accepts every item.
type ItemFilter struct {
	expression string
	program    cel.Program
}

func (e *Evaluator) NewItemFilter(expression string) (*ItemFilter, error) {
	if expression == "" {
		return &ItemFilter{}, nil
	}

	program, err := e.compileFilter(expression)
	if err != nil {
		return nil, err
	}
	return &ItemFilter{expression: expression, program: program}, nil
}

func (f *ItemFilter) Expression() string {
	return f.expression
}

func (f *ItemFilter) Match(ctx context.Context, item models.OrderItem) (bool, error) {
	if f == nil || f.program == nil {
		return true, nil
	}

	result, _, err := f.program.ContextEval(ctx, map[string]interface{}{
		"item": itemToMap(item),
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func itemToMap(item models.OrderItem) map[string]interface{} {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]interface{}{
		"id":          item.ID,
		"product_id":  item.ProductID,
		"name":        item.ProductName,
		"quantity":    int64(item.Quantity),
		"consumed":    item.Consumed,
		"category":    item.Category,
		"description": item.Description,
		"tags":        tags,
	}
}
