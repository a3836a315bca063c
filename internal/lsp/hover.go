package lsp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.lsp.dev/protocol"
)

// Hover resolves the node under the cursor and answers with the schema
// documentation for its path, plus a breadcrumb of the ancestor chain.
func (s *Server) Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc, ok := s.docs.Get(params.TextDocument.URI)
	if !ok || doc.Index == nil {
		return nil, nil
	}

	line := int(params.Position.Line)
	col := int(params.Position.Character)
	node := doc.Index.NodeAt(line, col)
	if node == nil {
		return nil, nil
	}

	model, _ := s.currentModel()
	text, found := model.Documentation(schemaPathFor(node.Path))
	if !found {
		return nil, nil
	}

	chain := doc.Index.AncestorChain(line, col)
	crumbs := make([]string, 0, len(chain))
	for _, n := range chain {
		if n.Key != "" {
			crumbs = append(crumbs, n.Key)
		} else if i := strings.LastIndex(n.Path, "/"); i >= 0 {
			crumbs = append(crumbs, n.Path[i+1:])
		}
	}

	value := fmt.Sprintf("**%s**\n\n%s", strings.Join(crumbs, " › "), text)
	rng := toProtocolRange(node.Range)
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.Markdown,
			Value: value,
		},
		Range: &rng,
	}, nil
}

// schemaPathFor translates a document path into schema addressing:
// numeric sequence steps become the literal "items".
func schemaPathFor(docPath string) string {
	if docPath == "" {
		return ""
	}
	segments := strings.Split(docPath, "/")
	for i, seg := range segments {
		if _, err := strconv.Atoi(seg); err == nil {
			segments[i] = "items"
		}
	}
	return strings.Join(segments, "/")
}
