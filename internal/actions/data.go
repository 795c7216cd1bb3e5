package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/sopflow/internal/expressions"
)

const jqSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "input": {}
  },
  "required": ["query"]
}`

const exprSchema = `{
  "type": "object",
  "properties": {
    "expression": {"type": "string", "minLength": 1},
    "data": {"type": ["object", "null"]}
  },
  "required": ["expression"]
}`

// DataTools returns the data transformation tool group: "jq" runs a jq
// program over input, "expr" evaluates an expr-lang expression with the keys
// of data as variables. Both output {"result": value}.
func DataTools() []Tool {
	jq := expressions.NewGoJQEngine()
	ex := expressions.NewExprEngine()

	return []Tool{
		{
			Name:        "jq",
			Description: "Filter or reshape JSON input with a jq program",
			InputSchema: json.RawMessage(jqSchema),
			Fn: func(ctx context.Context, p map[string]any) (any, error) {
				query, err := requireString(p, "jq", "query")
				if err != nil {
					return nil, err
				}
				out, err := jq.Query(ctx, query, p["input"])
				if err != nil {
					return nil, err
				}
				return map[string]any{"result": out}, nil
			},
		},
		{
			Name:        "expr",
			Description: "Evaluate an expression over data",
			InputSchema: json.RawMessage(exprSchema),
			Fn: func(ctx context.Context, p map[string]any) (any, error) {
				expression, err := requireString(p, "expr", "expression")
				if err != nil {
					return nil, err
				}
				data, _ := p["data"].(map[string]any)
				out, err := ex.Evaluate(ctx, expression, data)
				if err != nil {
					return nil, err
				}
				return map[string]any{"result": out}, nil
			},
		},
	}
}
