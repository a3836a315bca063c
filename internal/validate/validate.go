// Package validate applies schema-derived structural rules to a parsed
// pipeline tree. Validation is read-only; every diagnostic carries the
// range of the offending node so editors can surface it in place.
package validate

import (
	"fmt"
	"strings"

	"github.com/kestrelci/pipeline-ls/internal/parser"
	"github.com/kestrelci/pipeline-ls/internal/schema"
)

// Diagnostic is one validation finding.
type Diagnostic struct {
	Message string
	Range   parser.Range
}

// Pipeline checks the structural rules an editable pipeline must satisfy:
// a mapping root, the schema's required top-level keys, a non-empty steps
// array, and a recognizable step type per element.
func Pipeline(root *parser.Node, model *schema.Model) []Diagnostic {
	if root == nil {
		return nil
	}

	if root.Kind != parser.Mapping {
		return []Diagnostic{{
			Message: "pipeline must be a YAML mapping",
			Range:   root.Range,
		}}
	}

	var diags []Diagnostic

	required := model.RequiredAt("")
	if len(required) == 0 {
		required = []string{"steps"}
	}
	for _, key := range required {
		if root.Child(key) == nil {
			diags = append(diags, Diagnostic{
				Message: fmt.Sprintf("missing required property %q", key),
				Range:   root.Range,
			})
		}
	}

	if steps := root.Child("steps"); steps != nil {
		diags = append(diags, checkSteps(steps, model)...)
	}
	return diags
}

func checkSteps(steps *parser.Node, model *schema.Model) []Diagnostic {
	if steps.Kind != parser.Sequence {
		return []Diagnostic{{
			Message: "steps must be an array of steps",
			Range:   steps.Range,
		}}
	}

	min := 1
	if n, ok := model.MinItemsAt("steps"); ok {
		min = n
	}
	if len(steps.Children) < min {
		return []Diagnostic{{
			Message: "steps must contain at least one step",
			Range:   steps.Range,
		}}
	}

	keys := model.StepTypeKeys()
	var diags []Diagnostic
	for i, step := range steps.Children {
		if diag := checkStep(step, i, keys); diag != nil {
			diags = append(diags, *diag)
		}
	}
	return diags
}

// checkStep verifies one step carries a discriminator. Bare scalar steps
// such as "- wait" are valid when the scalar itself is a step type.
func checkStep(step *parser.Node, ordinal int, keys []string) *Diagnostic {
	switch step.Kind {
	case parser.Scalar:
		for _, key := range keys {
			if step.Value == key {
				return nil
			}
		}
		return &Diagnostic{
			Message: fmt.Sprintf("step %d is not a valid step type", ordinal),
			Range:   step.Range,
		}
	case parser.Mapping:
		for _, key := range keys {
			if step.Child(key) != nil {
				return nil
			}
		}
		return &Diagnostic{
			Message: fmt.Sprintf("step %d must contain one of: %s", ordinal, strings.Join(keys, ", ")),
			Range:   step.Range,
		}
	default:
		return &Diagnostic{
			Message: fmt.Sprintf("step %d must be a mapping", ordinal),
			Range:   step.Range,
		}
	}
}
