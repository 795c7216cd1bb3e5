package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/sopflow/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const sopSchemaURL = "https://sopflow.dev/schemas/sop.json"

// sopSchemaJSON is the structural schema of a SOP document.
const sopSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://sopflow.dev/schemas/sop.json",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "final_target": { "type": ["string", "null"] }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["step_number", "agent_type"],
      "properties": {
        "step_number": { "type": "integer", "minimum": 1 },
        "description": { "type": "string" },
        "agent_type": { "type": "string", "minLength": 1 },
        "execution_mode": { "type": "string", "enum": ["static", "dynamic"] },
        "action_type": {
          "oneOf": [
            { "type": "null" },
            {
              "type": "object",
              "required": ["tool"],
              "properties": {
                "agent": { "type": "string" },
                "tool": { "type": "string", "minLength": 1 }
              },
              "additionalProperties": false
            }
          ]
        },
        "params": { "type": ["object", "null"] },
        "conditions": {
          "type": ["array", "null"],
          "items": { "$ref": "#/$defs/condition" }
        },
        "retry": { "type": "integer", "minimum": 0 },
        "store_result_as": {
          "type": ["string", "null"],
          "pattern": "^([a-zA-Z_][a-zA-Z0-9_]*)?$"
        },
        "condition_to_jump_step": {
          "type": ["array", "null"],
          "items": { "$ref": "#/$defs/condition" }
        }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "required": ["step", "field", "operator"],
      "properties": {
        "step": { "type": "integer", "minimum": 1 },
        "field": {
          "type": "string",
          "pattern": "^(success|output|error|meta)(\\.[a-zA-Z0-9_]+)*$"
        },
        "operator": { "type": "string", "enum": ["==", "!=", ">", "<", ">=", "<="] },
        "value": {},
        "jump_to_step_on_success": { "type": ["integer", "null"], "minimum": -1 },
        "jump_to_step_on_failure": { "type": ["integer", "null"], "minimum": -1 }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates SOP documents and tool parameters with
// JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	sopSchema *jsonschema.Schema

	// mu guards the cache of dynamically compiled parameter schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator compiles the SOP schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(sopSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal SOP schema: %w", err)
	}
	if err := c.AddResource(sopSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add SOP schema resource: %w", err)
	}

	compiled, err := c.Compile(sopSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile SOP schema: %w", err)
	}

	return &JSONSchemaValidator{
		sopSchema: compiled,
		cache:     make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDocument validates a decoded SOP document (JSON or YAML) before it
// is bound to schema.SOP, so unknown keys and wrong types are reported with
// their location.
func (v *JSONSchemaValidator) ValidateDocument(doc any) error {
	value, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize SOP document").WithCause(err)
	}
	if err := v.sopSchema.Validate(value); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// ValidateSOP validates an already-bound SOP.
func (v *JSONSchemaValidator) ValidateSOP(sop *schema.SOP) error {
	if sop == nil {
		return schema.NewError(schema.ErrCodeValidation, "SOP is nil")
	}
	return v.ValidateDocument(sop)
}

// ValidateInput validates tool parameters against a JSON Schema given as raw
// bytes. Compiled schemas are cached by content.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if len(inputSchema) == 0 {
		return nil
	}
	if input == nil {
		input = map[string]any{}
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeInvalidArgument, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		serr := toSchemaError(err)
		serr.Code = schema.ErrCodeInvalidArgument
		return serr
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := fmt.Sprintf("sopflow://input-schema/%d", len(v.cache))

	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, as the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func toSchemaError(err error) *schema.Error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations flattens a ValidationError tree into leaf messages
// prefixed with their instance location.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
