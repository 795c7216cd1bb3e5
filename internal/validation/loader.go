package validation

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rendis/sopflow/pkg/schema"
	"gopkg.in/yaml.v3"
)

// DecodeSOP parses a SOP document in YAML or JSON (JSON is valid YAML),
// checks it against the SOP schema and binds it to schema.SOP.
func DecodeSOP(data []byte, v *JSONSchemaValidator) (*schema.SOP, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "SOP document is not valid YAML or JSON").WithCause(err)
	}
	if doc == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "SOP document is empty")
	}

	if v != nil {
		if err := v.ValidateDocument(doc); err != nil {
			return nil, err
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "SOP document cannot be represented as JSON").WithCause(err)
	}

	var sop schema.SOP
	if err := json.Unmarshal(raw, &sop); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "bind SOP document").WithCause(err)
	}
	return &sop, nil
}

// LoadSOP decodes and fully validates a SOP document.
func (v *SOPValidator) LoadSOP(data []byte) (*schema.SOP, *schema.ValidationResult, error) {
	sop, err := DecodeSOP(data, v.jsonSchema)
	if err != nil {
		return nil, errorToResult(err), err
	}
	result := v.Validate(sop)
	if err := result.ToError(); err != nil {
		return sop, result, err
	}
	return sop, result, nil
}

// LoadSOPFile reads path and calls LoadSOP.
func (v *SOPValidator) LoadSOPFile(path string) (*schema.SOP, *schema.ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read SOP file: %w", err)
	}
	return v.LoadSOP(data)
}
