package lsp

import (
	"context"

	"go.lsp.dev/protocol"

	"github.com/kestrelci/pipeline-ls/internal/parser"
	"github.com/kestrelci/pipeline-ls/internal/validate"
)

// publishDiagnostics recomputes and pushes diagnostics for a document
// snapshot. An empty set is still published so the client clears stale
// squiggles.
func (s *Server) publishDiagnostics(ctx context.Context, doc *Document) {
	if doc == nil || !s.isPipelineFile(string(doc.URI)) {
		return
	}
	s.sendDiagnostics(ctx, doc.URI, s.diagnosticsFor(doc))
}

// diagnosticsFor derives the diagnostics set: a parse error for the
// current text, else the structural validator's findings, else full
// schema validation when the schema is available.
func (s *Server) diagnosticsFor(doc *Document) []protocol.Diagnostic {
	if doc.ParseErr != nil {
		return []protocol.Diagnostic{{
			Range: protocol.Range{
				Start: toProtocolPosition(doc.ParseErr.Pos),
				End:   toProtocolPosition(doc.ParseErr.Pos),
			},
			Severity: protocol.DiagnosticSeverityError,
			Source:   serverName,
			Message:  "YAML parse error: " + doc.ParseErr.Reason,
		}}
	}
	if doc.Tree == nil {
		return []protocol.Diagnostic{}
	}

	model, schemaData := s.currentModel()
	found := validate.Pipeline(doc.Tree, model)
	if len(found) == 0 && schemaData != nil {
		found = validate.AgainstSchema([]byte(doc.Text), schemaData, doc.Tree, doc.Index.Lookup)
	}

	diagnostics := make([]protocol.Diagnostic, 0, len(found))
	for _, d := range found {
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    toProtocolRange(d.Range),
			Severity: protocol.DiagnosticSeverityError,
			Source:   serverName,
			Message:  d.Message,
		})
	}
	return diagnostics
}

func toProtocolPosition(p parser.Pos) protocol.Position {
	return protocol.Position{
		Line:      uint32(p.Line),
		Character: uint32(p.Col),
	}
}

func toProtocolRange(r parser.Range) protocol.Range {
	return protocol.Range{
		Start: toProtocolPosition(r.Start),
		End:   toProtocolPosition(r.End),
	}
}
