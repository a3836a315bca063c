package lsp

import (
	"context"
	"fmt"
	"strings"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/kestrelci/pipeline-ls/internal/parser"
	"github.com/kestrelci/pipeline-ls/internal/plugins"
)

// Completion offers candidate keys for the mapping enclosing the cursor,
// driven by the schema model, with plugin-aware suggestions inside a
// step's plugins block.
func (s *Server) Completion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error) {
	doc, ok := s.docs.Get(params.TextDocument.URI)
	if !ok || doc.Index == nil {
		return &protocol.CompletionList{Items: []protocol.CompletionItem{}}, nil
	}

	line := int(params.Position.Line)
	col := int(params.Position.Character)
	chain := doc.Index.AncestorChain(line, col)

	if items := s.pluginCompletions(ctx, chain); items != nil {
		return &protocol.CompletionList{Items: items}, nil
	}

	model, _ := s.currentModel()
	containerPath := containerPathFor(chain)
	schemaPath := schemaPathFor(containerPath)

	labels := model.PropertiesAt(schemaPath)
	if len(labels) == 0 && insideStepElement(containerPath) {
		labels = model.StepTypeKeys()
	}

	items := make([]protocol.CompletionItem, 0, len(labels))
	for _, label := range labels {
		item := protocol.CompletionItem{
			Label: label,
			Kind:  protocol.CompletionItemKindProperty,
		}
		if text, found := model.Documentation(joinSchemaPath(schemaPath, label)); found {
			item.Detail = firstSentence(text)
			item.Documentation = &protocol.MarkupContent{
				Kind:  protocol.Markdown,
				Value: text,
			}
		}
		if snippet, ok := blockSnippets[label]; ok && containerPath == "" {
			item.InsertText = snippet
			item.InsertTextFormat = protocol.InsertTextFormatSnippet
		}
		items = append(items, item)
	}
	return &protocol.CompletionList{Items: items}, nil
}

// blockSnippets expand block-valued top-level keys into a ready skeleton.
var blockSnippets = map[string]string{
	"steps":  "steps:\n  - $0",
	"env":    "env:\n  $0",
	"agents": "agents:\n  $0",
}

// containerPathFor picks the mapping (or sequence) the cursor completes
// into: the deepest containing container node, or the parent of a scalar
// entry being edited. Empty chain means top level.
func containerPathFor(chain []*parser.Node) string {
	if len(chain) == 0 {
		return ""
	}
	last := chain[len(chain)-1]
	if last.Kind == parser.Scalar {
		return parentPath(last.Path)
	}
	return last.Path
}

// insideStepElement reports whether the path addresses an element of a
// steps array, where step-type keys are the candidates.
func insideStepElement(docPath string) bool {
	i := strings.LastIndex(docPath, "/")
	if i < 0 {
		return false
	}
	return strings.HasSuffix(docPath[:i], "steps")
}

// pluginCompletions answers inside a plugins block: plugin names at the
// list level, configuration keys once a specific plugin entry encloses
// the cursor. Nil when the cursor is not under a plugins block.
func (s *Server) pluginCompletions(ctx context.Context, chain []*parser.Node) []protocol.CompletionItem {
	pluginsIdx := -1
	for i, n := range chain {
		if n.Key == "plugins" {
			pluginsIdx = i
			break
		}
	}
	if pluginsIdx < 0 {
		return nil
	}

	// A keyed descendant of the plugins list is a plugin entry; complete
	// its configuration.
	for _, n := range chain[pluginsIdx+1:] {
		if n.Key != "" {
			return s.pluginConfigCompletions(ctx, n.Key)
		}
	}

	popular := plugins.Popular()
	items := make([]protocol.CompletionItem, 0, len(popular))
	for _, p := range popular {
		full := p.Name + "#" + p.Version
		items = append(items, protocol.CompletionItem{
			Label:  full,
			Kind:   protocol.CompletionItemKindModule,
			Detail: p.Description,
			Documentation: &protocol.MarkupContent{
				Kind:  protocol.Markdown,
				Value: fmt.Sprintf("**%s plugin**\n\n%s", p.Name, p.Description),
			},
			InsertText:       fmt.Sprintf("%s:\n    ${1:property}: \"${2:value}\"", full),
			InsertTextFormat: protocol.InsertTextFormatSnippet,
			FilterText:       p.Name,
			SortText:         fmt.Sprintf("%02d-%s", len(p.Name), p.Name),
		})
	}
	return items
}

func (s *Server) pluginConfigCompletions(ctx context.Context, pluginRef string) []protocol.CompletionItem {
	pluginSchema, err := s.registry.GetSchema(ctx, pluginRef)
	if err != nil {
		s.logger.Debug("plugin schema unavailable", zap.Error(err))
		return genericPluginConfigCompletions()
	}

	props := pluginSchema.ConfigProperties()
	if len(props) == 0 {
		return genericPluginConfigCompletions()
	}

	items := make([]protocol.CompletionItem, 0, len(props))
	for name, desc := range props {
		item := protocol.CompletionItem{
			Label: name,
			Kind:  protocol.CompletionItemKindProperty,
		}
		if desc != "" {
			item.Detail = desc
			item.Documentation = &protocol.MarkupContent{
				Kind:  protocol.Markdown,
				Value: fmt.Sprintf("**%s - %s**\n\n%s", pluginRef, name, desc),
			}
		}
		items = append(items, item)
	}
	return items
}

func genericPluginConfigCompletions() []protocol.CompletionItem {
	return []protocol.CompletionItem{{
		Label:            "enabled",
		Kind:             protocol.CompletionItemKindProperty,
		Detail:           "Enable or disable this plugin",
		InsertText:       "enabled: ${1|true,false|}",
		InsertTextFormat: protocol.InsertTextFormatSnippet,
	}}
}

func parentPath(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

func joinSchemaPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "/" + key
}

func firstSentence(text string) string {
	if i := strings.IndexAny(text, ".\n"); i > 0 {
		return text[:i]
	}
	return text
}
