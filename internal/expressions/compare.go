package expressions

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/sopflow/pkg/schema"
)

// comparators holds one compiled program per operator, evaluated against
// the environment {"left": ..., "right": ...}.
var comparators = func() map[schema.Operator]*vm.Program {
	out := make(map[schema.Operator]*vm.Program, len(schema.Operators))
	for _, op := range schema.Operators {
		prg, err := expr.Compile(fmt.Sprintf("left %s right", op), expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			panic(fmt.Sprintf("expressions: compile comparator %q: %v", op, err))
		}
		out[op] = prg
	}
	return out
}()

// Compare applies op to left and right.
//
// Equality (== and !=) never fails: ints and floats compare numerically and
// values of unrelated types are simply unequal. Ordering operators fail on
// operands that have no natural order (string against number, nil, maps).
// An unknown operator is an error.
func Compare(op schema.Operator, left, right any) (bool, error) {
	prg, ok := comparators[op]
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeInvalidArgument, "unknown operator %q", op)
	}

	out, err := vm.Run(prg, map[string]any{"left": left, "right": right})
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeInvalidArgument,
			"cannot compare %T %s %T", left, op, right).
			WithCause(err).
			WithDetails(map[string]any{"left": left, "right": right, "operator": string(op)})
	}

	b, _ := out.(bool)
	return b, nil
}
