package expressions

import "context"

// Engine evaluates an expression against a data map.
// Implementations: CEL (plan acceptance guards), GoJQ (jq tool), Expr (expr tool).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
