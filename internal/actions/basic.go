package actions

import (
	"context"

	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

// BasicActions returns the echo and sum actions.
func BasicActions(opts ...action.Option) []action.Invoker {
	return []action.Invoker{
		newEchoAction(opts...),
		newSumAction(opts...),
	}
}

// --- echo ---

func newEchoAction(opts ...action.Option) *action.Action[any, any] {
	b := action.New(opts...).
		Name("echo").
		Describe("Return the input unchanged")
	return action.Handler(b, func(_ context.Context, req action.Request[any, action.NoContext]) (any, error) {
		return req.Input, nil
	})
}

// --- sum ---

type sumInput struct {
	Numbers []float64 `json:"numbers" jsonschema:"minItems=1"`
}

type sumOutput struct {
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
}

func newSumAction(opts ...action.Option) *action.Action[sumInput, sumOutput] {
	b := action.New(opts...).
		Name("sum").
		Describe("Add a list of numbers").
		Input(schema.For[sumInput]()).
		Output(schema.For[sumOutput]())
	return action.Handler(b, func(_ context.Context, req action.Request[sumInput, action.NoContext]) (sumOutput, error) {
		var total float64
		for _, n := range req.Input.Numbers {
			total += n
		}
		return sumOutput{Sum: total, Count: len(req.Input.Numbers)}, nil
	})
}
