package validation

import "github.com/rendis/sopflow/pkg/schema"

// AgentLookup answers whether agents and their tools are registered.
// A nil lookup skips registry checks.
type AgentLookup interface {
	HasAgent(name string) bool
	HasTool(agent, tool string) bool
}

// SOPValidator runs the three validation stages:
//  1. Structural (JSON Schema)
//  2. Semantic (step numbers, references, jump targets, agents)
//  3. Jump graph (cycle warnings)
type SOPValidator struct {
	jsonSchema *JSONSchemaValidator
	agents     AgentLookup
}

// NewSOPValidator creates a SOPValidator. lookup may be nil.
func NewSOPValidator(lookup AgentLookup) (*SOPValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &SOPValidator{jsonSchema: jsv, agents: lookup}, nil
}

// Validate returns every issue found. Structural errors short-circuit the
// later stages.
func (v *SOPValidator) Validate(sop *schema.SOP) *schema.ValidationResult {
	if sop == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "SOP is nil")
		return r
	}

	result := validateStructural(v.jsonSchema, sop)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(sop, v.agents))
	validateFinalTarget(sop, result)

	if result.Valid() {
		result.Merge(validateJumpGraph(sop))
	}
	return result
}

// ValidateSOP returns the validation result as an error, nil when valid.
func (v *SOPValidator) ValidateSOP(sop *schema.SOP) error {
	return v.Validate(sop).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (v *SOPValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return v.jsonSchema.ValidateInput(input, inputSchema)
}

// Schema exposes the structural validator, used by the document loader.
func (v *SOPValidator) Schema() *JSONSchemaValidator {
	return v.jsonSchema
}

func validateStructural(v *JSONSchemaValidator, sop *schema.SOP) *schema.ValidationResult {
	return errorToResult(v.ValidateSOP(sop))
}

// errorToResult expands a structural *schema.Error into one issue per violation.
func errorToResult(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	serr, ok := err.(*schema.Error)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if violations, ok := serr.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, serr.Message)
	return result
}
