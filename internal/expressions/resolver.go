package expressions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// referencePattern matches a whole-string reference: <name> or <name>.a.b
var referencePattern = regexp.MustCompile(`^<([a-zA-Z_][a-zA-Z0-9_]*)>(?:\.(.+))?$`)

// templatePattern matches every reference embedded in free text.
var templatePattern = regexp.MustCompile(`<([a-zA-Z_][a-zA-Z0-9_]*)>((?:\.[a-zA-Z0-9_]+)*)`)

// ParseReference reports whether s is a reference and splits it into the
// variable name and the (possibly empty) field path.
func ParseReference(s string) (name string, path []string, ok bool) {
	m := referencePattern.FindStringSubmatch(s)
	if m == nil {
		return "", nil, false
	}
	if m[2] != "" {
		path = strings.Split(m[2], ".")
	}
	return m[1], path, true
}

// ResolveValue resolves a single parameter value against scope.
//
// Non-string values and strings that are not references pass through
// unchanged. A reference to a missing variable, a missing field, or a field
// below a non-map value resolves to nil; it never fails.
func ResolveValue(v any, scope map[string]any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	name, path, ok := ParseReference(s)
	if !ok {
		return v
	}
	val, _ := lookup(scope, name, path)
	return val
}

// ResolveParams applies ResolveValue to every entry of params.
// The input map is not modified.
func ResolveParams(params, scope map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = ResolveValue(v, scope)
	}
	return out
}

// UnresolvedRefs returns the parameter keys whose reference does not resolve
// against scope, sorted. Literals are never reported.
func UnresolvedRefs(params, scope map[string]any) []string {
	var missing []string
	for k, v := range params {
		s, ok := v.(string)
		if !ok {
			continue
		}
		name, path, ok := ParseReference(s)
		if !ok {
			continue
		}
		if _, found := lookup(scope, name, path); !found {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

// ResolveTemplate substitutes every <name>(.field)* occurrence in tpl with the
// stringified resolved value, or the empty string when it does not resolve.
//
// A .field suffix is a path only while the value it applies to is a map;
// once a scalar is reached the rest is ordinary text, so "<name>.txt" keeps
// its extension. Surrounding text is kept intact.
func ResolveTemplate(tpl string, scope map[string]any) string {
	if tpl == "" {
		return ""
	}
	return templatePattern.ReplaceAllStringFunc(tpl, func(match string) string {
		m := templatePattern.FindStringSubmatch(match)
		val, ok := scope[m[1]]
		if !ok {
			return m[2]
		}
		var segs []string
		if m[2] != "" {
			segs = strings.Split(strings.TrimPrefix(m[2], "."), ".")
		}
		for i, seg := range segs {
			if !isMap(val) {
				return stringifyOrEmpty(val) + "." + strings.Join(segs[i:], ".")
			}
			next, found := drill(val, []string{seg})
			if !found {
				return ""
			}
			val = next
		}
		return stringifyOrEmpty(val)
	})
}

func isMap(v any) bool {
	switch v.(type) {
	case map[string]any, map[string]string:
		return true
	default:
		return false
	}
}

func stringifyOrEmpty(v any) string {
	if v == nil {
		return ""
	}
	return Stringify(v)
}

// TemplateVariables returns the distinct variable names referenced in tpl,
// in order of first appearance.
func TemplateVariables(tpl string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range templatePattern.FindAllStringSubmatch(tpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Stringify renders maps and slices as JSON and everything else with fmt.
func Stringify(v any) string {
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

// lookup drills path through nested maps starting at scope[name].
func lookup(scope map[string]any, name string, path []string) (any, bool) {
	current, ok := scope[name]
	if !ok {
		return nil, false
	}
	return drill(current, path)
}

func drill(current any, path []string) (any, bool) {
	for _, seg := range path {
		switch m := current.(type) {
		case map[string]any:
			next, ok := m[seg]
			if !ok {
				return nil, false
			}
			current = next
		case map[string]string:
			next, ok := m[seg]
			if !ok {
				return nil, false
			}
			current = next
		default:
			return nil, false
		}
	}
	return current, true
}
