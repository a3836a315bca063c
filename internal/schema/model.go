package schema

import (
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// defaultStepTypes is the fallback discriminator set used when the schema
// is unavailable or carries no step alternatives.
var defaultStepTypes = []string{
	"block", "command", "commands", "group", "input", "trigger", "wait",
}

// Model is the queryable form of a schema document: documentation strings
// and structural constraints keyed by path, using the same addressing
// scheme as parsed nodes (mapping keys by name, array slots as "items").
// A Model is immutable after construction and shared across sessions; the
// nil Model answers every query emptily so a missing schema degrades
// rather than crashes.
type Model struct {
	docs        map[string]string
	props       map[string][]string
	required    map[string][]string
	kinds       map[string]string
	minItems    map[string]int
	definitions map[string]json.RawMessage
	stepTypes   []string
}

type schemaNode struct {
	Type        any                    `json:"type"`
	Description string                 `json:"description"`
	Properties  map[string]*schemaNode `json:"properties"`
	Items       *schemaNode            `json:"items"`
	Required    []string               `json:"required"`
	MinItems    *int                   `json:"minItems"`
	AnyOf       []*schemaNode          `json:"anyOf"`
	OneOf       []*schemaNode          `json:"oneOf"`
	Ref         string                 `json:"$ref"`
}

type schemaRoot struct {
	schemaNode
	Definitions map[string]json.RawMessage `json:"definitions"`
	Defs        map[string]json.RawMessage `json:"$defs"`
}

// FromDocument builds a Model from schema JSON.
func FromDocument(data []byte) (*Model, error) {
	var root schemaRoot
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, &ParseError{Err: err}
	}

	m := &Model{
		docs:        make(map[string]string),
		props:       make(map[string][]string),
		required:    make(map[string][]string),
		kinds:       make(map[string]string),
		minItems:    make(map[string]int),
		definitions: root.Definitions,
	}
	if m.definitions == nil {
		m.definitions = root.Defs
	}

	m.walk("", &root.schemaNode)
	m.stepTypes = stepTypesFrom(&root.schemaNode)
	return m, nil
}

// walk accumulates documentation and constraints along the path. anyOf
// and oneOf branches contribute in place at the same path; $ref targets
// are not resolved, so refs simply contribute nothing here.
func (m *Model) walk(path string, node *schemaNode) {
	if node == nil {
		return
	}
	if node.Description != "" {
		if _, seen := m.docs[path]; !seen {
			m.docs[path] = node.Description
		}
	}
	if t, ok := node.Type.(string); ok && t != "" {
		if _, seen := m.kinds[path]; !seen {
			m.kinds[path] = t
		}
	}
	if len(node.Required) > 0 {
		m.required[path] = append(m.required[path], node.Required...)
	}
	if node.MinItems != nil {
		m.minItems[path] = *node.MinItems
	}
	if len(node.Properties) > 0 {
		names := m.props[path]
		for name := range node.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		m.props[path] = dedupe(names)
		for name, child := range node.Properties {
			m.walk(joinPath(path, name), child)
		}
	}
	if node.Items != nil {
		m.walk(joinPath(path, "items"), node.Items)
	}
	for _, alt := range node.AnyOf {
		m.walk(path, alt)
	}
	for _, alt := range node.OneOf {
		m.walk(path, alt)
	}
}

// Documentation returns the description recorded at an exact path.
func (m *Model) Documentation(path string) (string, bool) {
	if m == nil {
		return "", false
	}
	doc, ok := m.docs[path]
	return doc, ok
}

// PropertiesAt returns candidate child key names for completion. The root
// yields the top-level property names; any path ending in "steps" yields
// the step-type discriminator keys.
func (m *Model) PropertiesAt(path string) []string {
	if m == nil {
		return nil
	}
	if path == "steps" || strings.HasSuffix(path, "/steps") {
		return m.StepTypeKeys()
	}
	return m.props[path]
}

// RequiredAt returns the keys a mapping at the given path must carry.
func (m *Model) RequiredAt(path string) []string {
	if m == nil {
		return nil
	}
	return m.required[path]
}

// ExpectedKind returns the schema "type" recorded at a path.
func (m *Model) ExpectedKind(path string) (string, bool) {
	if m == nil {
		return "", false
	}
	kind, ok := m.kinds[path]
	return kind, ok
}

// MinItemsAt returns the minimum element count for an array path.
func (m *Model) MinItemsAt(path string) (int, bool) {
	if m == nil {
		return 0, false
	}
	n, ok := m.minItems[path]
	return n, ok
}

// Definitions returns the schema's definitions table verbatim.
func (m *Model) Definitions() map[string]json.RawMessage {
	if m == nil {
		return nil
	}
	return m.definitions
}

// StepTypeKeys returns the discriminator keys identifying a step's
// variant. Derived from the schema's step alternatives; the fixed
// fallback set applies when none can be derived (including the nil
// Model).
func (m *Model) StepTypeKeys() []string {
	if m == nil || len(m.stepTypes) == 0 {
		return defaultStepTypes
	}
	return m.stepTypes
}

// stepTypesFrom derives discriminator keys from the $ref targets of the
// steps array's alternatives, e.g. "#/definitions/commandStep" yields
// "command".
func stepTypesFrom(root *schemaNode) []string {
	steps, ok := root.Properties["steps"]
	if !ok || steps.Items == nil {
		return nil
	}
	var keys []string
	alts := append(append([]*schemaNode{}, steps.Items.AnyOf...), steps.Items.OneOf...)
	for _, alt := range alts {
		if alt == nil || alt.Ref == "" {
			continue
		}
		name := alt.Ref
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		name = strings.TrimSuffix(name, "Step")
		if name != "" {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return dedupe(keys)
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}

func joinPath(parent, step string) string {
	if parent == "" {
		return step
	}
	return parent + "/" + step
}
