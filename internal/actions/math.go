package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rendis/sopflow/pkg/schema"
)

const twoOperandSchema = `{
  "type": "object",
  "properties": {"a": {"type": "number"}, "b": {"type": "number"}},
  "required": ["a", "b"]
}`

const oneOperandSchema = `{
  "type": "object",
  "properties": {"n": {"type": "number"}},
  "required": ["n"]
}`

const rectangleSchema = `{
  "type": "object",
  "properties": {"width": {"type": "number", "minimum": 0}, "height": {"type": "number", "minimum": 0}},
  "required": ["width", "height"]
}`

const circleSchema = `{
  "type": "object",
  "properties": {"radius": {"type": "number", "minimum": 0}},
  "required": ["radius"]
}`

// MathTools returns the arithmetic tool group. Every tool outputs
// {"result": number, "expression": string}.
func MathTools() []Tool {
	return []Tool{
		binaryTool("add", "Add a and b", "+", func(a, b float64) (float64, error) { return a + b, nil }),
		binaryTool("subtract", "Subtract b from a", "-", func(a, b float64) (float64, error) { return a - b, nil }),
		binaryTool("multiply", "Multiply a by b", "*", func(a, b float64) (float64, error) { return a * b, nil }),
		binaryTool("divide", "Divide a by b", "/", func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, schema.InvalidArgument("divide: division by zero")
			}
			return a / b, nil
		}),
		{
			Name: "square", Description: "Square n", InputSchema: json.RawMessage(oneOperandSchema),
			Fn: func(_ context.Context, p map[string]any) (any, error) {
				n, err := numberParam(p, "square", "n")
				if err != nil {
					return nil, err
				}
				return mathResult(n*n, fmt.Sprintf("%s^2", formatNumber(n))), nil
			},
		},
		{
			Name: "square_root", Description: "Square root of a non-negative n", InputSchema: json.RawMessage(oneOperandSchema),
			Fn: func(_ context.Context, p map[string]any) (any, error) {
				n, err := numberParam(p, "square_root", "n")
				if err != nil {
					return nil, err
				}
				if n < 0 {
					return nil, schema.InvalidArgument("square_root: n must be non-negative, got %s", formatNumber(n))
				}
				return mathResult(math.Sqrt(n), fmt.Sprintf("sqrt(%s)", formatNumber(n))), nil
			},
		},
		{
			Name: "rectangle_area", Description: "Area of a rectangle", InputSchema: json.RawMessage(rectangleSchema),
			Fn: func(_ context.Context, p map[string]any) (any, error) {
				w, err := numberParam(p, "rectangle_area", "width")
				if err != nil {
					return nil, err
				}
				h, err := numberParam(p, "rectangle_area", "height")
				if err != nil {
					return nil, err
				}
				if w < 0 || h < 0 {
					return nil, schema.InvalidArgument("rectangle_area: dimensions must be non-negative")
				}
				return mathResult(w*h, fmt.Sprintf("%s * %s", formatNumber(w), formatNumber(h))), nil
			},
		},
		{
			Name: "circle_area", Description: "Area of a circle", InputSchema: json.RawMessage(circleSchema),
			Fn: func(_ context.Context, p map[string]any) (any, error) {
				r, err := numberParam(p, "circle_area", "radius")
				if err != nil {
					return nil, err
				}
				if r < 0 {
					return nil, schema.InvalidArgument("circle_area: radius must be non-negative")
				}
				return mathResult(math.Pi*r*r, fmt.Sprintf("pi * %s^2", formatNumber(r))), nil
			},
		},
	}
}

func binaryTool(name, desc, symbol string, op func(a, b float64) (float64, error)) Tool {
	return Tool{
		Name:        name,
		Description: desc,
		InputSchema: json.RawMessage(twoOperandSchema),
		Fn: func(_ context.Context, p map[string]any) (any, error) {
			a, err := numberParam(p, name, "a")
			if err != nil {
				return nil, err
			}
			b, err := numberParam(p, name, "b")
			if err != nil {
				return nil, err
			}
			result, err := op(a, b)
			if err != nil {
				return nil, err
			}
			return mathResult(result, fmt.Sprintf("%s %s %s", formatNumber(a), symbol, formatNumber(b))), nil
		},
	}
}

func mathResult(v float64, expression string) map[string]any {
	return map[string]any{
		"result":     v,
		"expression": fmt.Sprintf("%s = %s", expression, formatNumber(v)),
	}
}

func formatNumber(v float64) string {
	return fmt.Sprintf("%g", v)
}
