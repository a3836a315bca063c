package validate

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/kestrelci/pipeline-ls/internal/parser"
)

// PathLookup resolves a node path to its node, typically an Index's
// Lookup method.
type PathLookup func(path string) *parser.Node

// errorPriority ranks validation errors by how actionable they are; the
// most specific one becomes the diagnostic.
var errorPriority = map[string]int{
	"additional_property_not_allowed": 1,
	"required":                        2,
	"invalid_type":                    3,
	"enum":                            4,
	"string_gte":                      5,
	"string_lte":                      6,
	"array_min_items":                 7,
	"array_max_items":                 8,
	"number_gte":                      9,
	"number_lte":                      10,
}

// AgainstSchema runs full JSON-Schema validation of the document against
// the fetched schema and attributes the most specific failure to a real
// node range. A schema or conversion failure yields no diagnostics; the
// structural rules in Pipeline still apply.
func AgainstSchema(content, schemaData []byte, root *parser.Node, lookup PathLookup) []Diagnostic {
	if len(schemaData) == 0 || root == nil {
		return nil
	}

	var data any
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil
	}
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaData),
		gojsonschema.NewBytesLoader(jsonBytes),
	)
	if err != nil || result.Valid() || len(result.Errors()) == 0 {
		return nil
	}

	best := result.Errors()[0]
	bestRank := 999
	for _, re := range result.Errors() {
		if rank, ok := errorPriority[re.Type()]; ok && rank < bestRank {
			best = re
			bestRank = rank
		}
	}

	return []Diagnostic{{
		Message: friendlyMessage(best),
		Range:   rangeForField(best.Field(), root, lookup),
	}}
}

// rangeForField maps a dotted schema error field ("steps.1.agents") to a
// node range, walking up the path until a node exists. The document root
// is the final fallback, never a synthetic position.
func rangeForField(field string, root *parser.Node, lookup PathLookup) parser.Range {
	if lookup == nil || field == "" || field == "(root)" {
		return root.Range
	}
	path := strings.ReplaceAll(field, ".", "/")
	for path != "" {
		if n := lookup(path); n != nil {
			return n.Range
		}
		i := strings.LastIndex(path, "/")
		if i < 0 {
			break
		}
		path = path[:i]
	}
	return root.Range
}

// friendlyMessage rewrites gojsonschema's technical descriptions into
// messages that read well in an editor.
func friendlyMessage(err gojsonschema.ResultError) string {
	switch err.Type() {
	case "additional_property_not_allowed":
		if name := propertyFromDescription(err.Description()); name != "" {
			return fmt.Sprintf("Unknown property '%s' is not allowed", name)
		}
		return err.Description()
	case "required":
		return fmt.Sprintf("Missing required property '%s'", err.Field())
	case "invalid_type":
		return fmt.Sprintf("Property '%s' has wrong type (expected %s)", lastFieldName(err.Field()), err.Details()["expected"])
	case "enum":
		return fmt.Sprintf("Property '%s' must be one of: %v", lastFieldName(err.Field()), err.Details()["allowed"])
	case "string_gte":
		return fmt.Sprintf("Property '%s' is too short (minimum %v characters)", lastFieldName(err.Field()), err.Details()["min"])
	case "string_lte":
		return fmt.Sprintf("Property '%s' is too long (maximum %v characters)", lastFieldName(err.Field()), err.Details()["max"])
	case "array_min_items":
		return fmt.Sprintf("Array '%s' needs at least %v items", lastFieldName(err.Field()), err.Details()["min"])
	case "array_max_items":
		return fmt.Sprintf("Array '%s' can have at most %v items", lastFieldName(err.Field()), err.Details()["max"])
	default:
		return err.Description()
	}
}

// lastFieldName returns the last non-numeric segment of a dotted field
// path, skipping array indices.
func lastFieldName(field string) string {
	parts := strings.Split(field, ".")
	for i := len(parts) - 1; i >= 0; i-- {
		if !isNumeric(parts[i]) {
			return parts[i]
		}
	}
	return field
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func propertyFromDescription(desc string) string {
	const prefix, suffix = "Additional property ", " is not allowed"
	if strings.HasPrefix(desc, prefix) && strings.HasSuffix(desc, suffix) {
		return desc[len(prefix) : len(desc)-len(suffix)]
	}
	return ""
}
