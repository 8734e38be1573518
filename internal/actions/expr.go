package actions

import (
	"context"

	"github.com/rendis/actionkit/internal/expressions"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

// ExprActions returns the expression evaluation actions.
func ExprActions(opts ...action.Option) []action.Invoker {
	return []action.Invoker{
		newExprEvalAction(expressions.NewExprEngine(), opts...),
		newJQAction(expressions.NewGoJQEngine(), opts...),
	}
}

type evalOutput struct {
	Result any `json:"result"`
}

// --- expr.eval ---

type exprEvalInput struct {
	Expression string `json:"expression" jsonschema:"minLength=1"`
	Data       any    `json:"data,omitempty"`
}

func newExprEvalAction(engine *expressions.ExprEngine, opts ...action.Option) *action.Action[exprEvalInput, evalOutput] {
	b := action.New(opts...).
		Name("expr.eval").
		Describe("Evaluate an Expr expression; the data field is bound as data").
		Input(schema.For[exprEvalInput]()).
		Output(schema.For[evalOutput]())
	return action.Handler(b, func(ctx context.Context, req action.Request[exprEvalInput, action.NoContext]) (evalOutput, error) {
		result, err := engine.Evaluate(ctx, req.Input.Expression, map[string]any{"data": req.Input.Data})
		if err != nil {
			return evalOutput{}, err
		}
		return evalOutput{Result: result}, nil
	})
}

// --- jq ---

type jqInput struct {
	Filter string `json:"filter" jsonschema:"minLength=1"`
	Data   any    `json:"data,omitempty"`
	// All collects every emitted value instead of collapsing single results.
	All bool `json:"all,omitempty"`
}

func newJQAction(engine *expressions.GoJQEngine, opts ...action.Option) *action.Action[jqInput, evalOutput] {
	b := action.New(opts...).
		Name("jq").
		Describe("Run a jq filter over the data field").
		Input(schema.For[jqInput]()).
		Output(schema.For[evalOutput]())
	return action.Handler(b, func(ctx context.Context, req action.Request[jqInput, action.NoContext]) (evalOutput, error) {
		if req.Input.All {
			results, err := engine.EvaluateAll(ctx, req.Input.Filter, req.Input.Data)
			if err != nil {
				return evalOutput{}, err
			}
			if results == nil {
				results = []any{}
			}
			return evalOutput{Result: results}, nil
		}
		result, err := engine.Evaluate(ctx, req.Input.Filter, req.Input.Data)
		if err != nil {
			return evalOutput{}, err
		}
		return evalOutput{Result: result}, nil
	})
}
