package actions

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/rendis/sopflow/pkg/schema"
)

// Param helpers used by every tool group.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

// textParam renders any scalar as text, as file content may come from a
// numeric step output.
func textParam(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	default:
		return fmt.Sprint(val)
	}
}

func requireString(m map[string]any, tool, key string) (string, error) {
	s := stringParam(m, key, "")
	if s == "" {
		return "", schema.InvalidArgument("%s: missing required param %q", tool, key)
	}
	return s, nil
}

// numberParam reads a required numeric parameter.
func numberParam(m map[string]any, tool, key string) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, schema.InvalidArgument("%s: missing required param %q", tool, key)
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, schema.InvalidArgument("%s: param %q is not a number", tool, key)
		}
		f = parsed
	default:
		return 0, schema.InvalidArgument("%s: param %q is not a number (got %T)", tool, key, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, schema.InvalidArgument("%s: param %q is not finite", tool, key)
	}
	return f, nil
}
