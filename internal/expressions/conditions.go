package expressions

import (
	"strings"

	"github.com/rendis/sopflow/pkg/schema"
)

// ExtractField reads a field of a ToolResponse by dotted path.
//
// The first segment selects success, output, error or meta. Later segments
// drill through nested maps; any missing segment or non-map value yields nil.
// An empty error string reads as nil.
func ExtractField(resp schema.ToolResponse, expr string) any {
	parts := strings.Split(expr, ".")

	var root any
	switch parts[0] {
	case "success":
		root = resp.Success
	case "output":
		root = resp.Output
	case "error":
		if resp.Error != "" {
			root = resp.Error
		}
	case "meta":
		if resp.Meta != nil {
			root = resp.Meta
		}
	default:
		return nil
	}

	val, ok := drill(root, parts[1:])
	if !ok {
		return nil
	}
	return val
}

// EvaluateCondition compares the condition's field in resp with its value.
func EvaluateCondition(c schema.Condition, resp schema.ToolResponse) (bool, error) {
	return Compare(c.Operator, ExtractField(resp, c.Field), c.Value)
}

// CheckConditions reports whether every condition holds (AND semantics).
//
// A condition whose step has no recorded result is not satisfied. A
// comparison error also makes the check fail; the error is returned so the
// caller can report it, but it never fails the step.
func CheckConditions(conds []schema.Condition, results map[int]schema.ToolResponse) (bool, error) {
	for _, c := range conds {
		resp, ok := results[c.Step]
		if !ok {
			return false, nil
		}
		satisfied, err := EvaluateCondition(c, resp)
		if err != nil {
			return false, err
		}
		if !satisfied {
			return false, nil
		}
	}
	return true, nil
}
