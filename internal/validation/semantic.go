package validation

import (
	"fmt"

	"github.com/rendis/sopflow/internal/expressions"
	"github.com/rendis/sopflow/pkg/schema"
)

// reservedContextKeys are written by the resume manager and may not be used
// as store_result_as names.
var reservedContextKeys = map[string]bool{
	schema.ContextHITLApproved: true,
	schema.ContextHITLSkipped:  true,
}

// validateSemantic checks the invariants JSON Schema cannot express: unique
// step numbers, mode/action consistency, reference direction of conditions,
// jump targets, store_result_as uniqueness and parameter references.
func validateSemantic(sop *schema.SOP, lookup AgentLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	stepNumbers := make(map[int]bool, len(sop.Steps))
	for i, step := range sop.Steps {
		if stepNumbers[step.StepNumber] {
			result.AddError(fmt.Sprintf("steps[%d].step_number", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step_number %d", step.StepNumber))
		}
		stepNumbers[step.StepNumber] = true
	}

	// Variables stored by any step, and the order position where each is first stored.
	storedAt := make(map[string]int, len(sop.Steps))
	for i, step := range sop.Steps {
		if step.StoreResultAs == "" {
			continue
		}
		if _, ok := storedAt[step.StoreResultAs]; !ok {
			storedAt[step.StoreResultAs] = i
		}
	}

	seenStore := make(map[string]bool, len(sop.Steps))
	for i := range sop.Steps {
		step := &sop.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)

		validateAction(step, path, lookup, result)

		for j, c := range step.Conditions {
			cpath := fmt.Sprintf("%s.conditions[%d]", path, j)
			validateConditionRef(c, cpath, stepNumbers, result)
			if c.Step >= step.StepNumber {
				result.AddError(cpath+".step", schema.ErrCodeValidation,
					fmt.Sprintf("condition references step %d, which does not precede step %d", c.Step, step.StepNumber))
			}
			if c.JumpToStepOnSuccess != nil || c.JumpToStepOnFailure != nil {
				result.AddWarning(cpath, schema.ErrCodeValidation,
					"jump targets on a pre-condition are ignored; use condition_to_jump_step")
			}
		}

		for j, c := range step.ConditionToJumpStep {
			cpath := fmt.Sprintf("%s.condition_to_jump_step[%d]", path, j)
			validateConditionRef(c, cpath, stepNumbers, result)
			if c.Step > step.StepNumber {
				result.AddError(cpath+".step", schema.ErrCodeValidation,
					fmt.Sprintf("jump rule references step %d, which runs after step %d", c.Step, step.StepNumber))
			}
			validateJumpTarget(c.JumpToStepOnSuccess, cpath+".jump_to_step_on_success", stepNumbers, result)
			validateJumpTarget(c.JumpToStepOnFailure, cpath+".jump_to_step_on_failure", stepNumbers, result)
			if c.JumpToStepOnSuccess == nil && c.JumpToStepOnFailure == nil {
				result.AddWarning(cpath, schema.ErrCodeValidation, "jump rule has no target")
			}
		}

		if name := step.StoreResultAs; name != "" {
			if reservedContextKeys[name] {
				result.AddError(path+".store_result_as", schema.ErrCodeValidation,
					fmt.Sprintf("%q is reserved", name))
			}
			if seenStore[name] {
				result.AddError(path+".store_result_as", schema.ErrCodeValidation,
					fmt.Sprintf("duplicate store_result_as %q", name))
			}
			seenStore[name] = true
		}

		for key, val := range step.Params {
			s, ok := val.(string)
			if !ok {
				continue
			}
			name, _, ok := expressions.ParseReference(s)
			if !ok {
				continue
			}
			ppath := fmt.Sprintf("%s.params.%s", path, key)
			at, stored := storedAt[name]
			switch {
			case !stored:
				result.AddError(ppath, schema.ErrCodeValidation,
					fmt.Sprintf("unknown variable %q: no step stores it", name))
			case at >= i:
				result.AddWarning(ppath, schema.ErrCodeValidation,
					fmt.Sprintf("variable %q is stored by a later step; it resolves only after a backward jump", name))
			}
		}
	}

	return result
}

func validateAction(step *schema.SOPStep, path string, lookup AgentLookup, result *schema.ValidationResult) {
	switch step.Mode() {
	case schema.ExecutionStatic:
		if step.ActionType == nil || step.ActionType.Tool == "" {
			result.AddError(path+".action_type", schema.ErrCodeValidation,
				"static step requires action_type with a tool")
			return
		}
		if step.ActionType.Agent != "" && step.ActionType.Agent != step.AgentType {
			result.AddWarning(path+".action_type.agent", schema.ErrCodeValidation,
				fmt.Sprintf("action_type.agent %q differs from agent_type %q; agent_type is used",
					step.ActionType.Agent, step.AgentType))
		}
	case schema.ExecutionDynamic:
		if step.ActionType != nil {
			result.AddError(path+".action_type", schema.ErrCodeValidation,
				"dynamic step must not declare action_type")
		}
	default:
		result.AddError(path+".execution_mode", schema.ErrCodeValidation,
			fmt.Sprintf("unknown execution_mode %q", step.ExecutionMode))
		return
	}

	if lookup == nil {
		return
	}
	if !lookup.HasAgent(step.AgentType) {
		result.AddError(path+".agent_type", schema.ErrCodeAgentNotRegistered,
			fmt.Sprintf("agent %q not registered", step.AgentType))
		return
	}
	if step.Mode() == schema.ExecutionStatic && !lookup.HasTool(step.AgentType, step.ToolName()) {
		result.AddError(path+".action_type.tool", schema.ErrCodeToolNotFound,
			fmt.Sprintf("agent %q has no tool %q", step.AgentType, step.ToolName()))
	}
}

func validateConditionRef(c schema.Condition, path string, stepNumbers map[int]bool, result *schema.ValidationResult) {
	if !stepNumbers[c.Step] {
		result.AddError(path+".step", schema.ErrCodeValidation,
			fmt.Sprintf("references non-existent step %d", c.Step))
	}
	valid := false
	for _, op := range schema.Operators {
		if c.Operator == op {
			valid = true
			break
		}
	}
	if !valid {
		result.AddError(path+".operator", schema.ErrCodeValidation,
			fmt.Sprintf("unknown operator %q", c.Operator))
	}
}

func validateJumpTarget(target *int, path string, stepNumbers map[int]bool, result *schema.ValidationResult) {
	if target == nil || *target == schema.TerminateStep {
		return
	}
	if !stepNumbers[*target] {
		result.AddError(path, schema.ErrCodeInvalidJumpTarget,
			fmt.Sprintf("jump target %d is not a step number", *target))
	}
}

// validateFinalTarget warns about template references nothing stores.
func validateFinalTarget(sop *schema.SOP, result *schema.ValidationResult) {
	if sop.FinalTarget == "" {
		return
	}
	stored := make(map[string]any, len(sop.Steps))
	for _, step := range sop.Steps {
		if step.StoreResultAs != "" {
			stored[step.StoreResultAs] = true
		}
	}
	for _, name := range expressions.TemplateVariables(sop.FinalTarget) {
		if _, ok := stored[name]; !ok {
			result.AddWarning("final_target", schema.ErrCodeValidation,
				fmt.Sprintf("final_target references %q, which no step stores", name))
		}
	}
}
