package expressions

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/actionkit/pkg/schema"
)

// delayEnv is the environment of a retry delay expression. attempt is the
// number of the attempt about to run (2 for the first retry) and code is the
// error code of the failure being retried.
type delayEnv struct {
	Attempt int    `expr:"attempt"`
	Code    string `expr:"code"`
}

// DelayExpr compiles an expr expression into a retry delay function. The
// expression yields milliseconds, e.g. "attempt * 100" or
// "code == 'TOO_MANY_REQUESTS' ? 1000 : 50 * attempt". A negative or failing
// evaluation means no delay.
func DelayExpr(expression string) (func(attempt int, err error) time.Duration, error) {
	prg, err := expr.Compile(expression, expr.Env(delayEnv{}), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("compile delay expression %q: %w", expression, err)
	}
	return func(attempt int, err error) time.Duration {
		return evalDelay(prg, attempt, err)
	}, nil
}

func evalDelay(prg *vm.Program, attempt int, err error) time.Duration {
	env := delayEnv{Attempt: attempt}
	if aErr, ok := schema.AsActionError(err); ok {
		env.Code = aErr.Code
	}
	out, runErr := vm.Run(prg, env)
	if runErr != nil {
		return 0
	}
	ms, _ := out.(float64)
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}
