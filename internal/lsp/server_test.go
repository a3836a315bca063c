package lsp

import (
	"context"
	"strings"
	"testing"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/kestrelci/pipeline-ls/internal/plugins"
	"github.com/kestrelci/pipeline-ls/internal/schema"
)

const serverSchema = `{
  "type": "object",
  "description": "A pipeline definition",
  "required": ["steps"],
  "properties": {
    "steps": {
      "type": "array",
      "description": "The steps to run",
      "items": {
        "type": "object",
        "properties": {
          "command": {"type": "string", "description": "The shell command to run"},
          "label": {"type": "string", "description": "The label shown in the UI"},
          "agents": {
            "type": "object",
            "description": "Agent targeting rules",
            "properties": {
              "queue": {"type": "string", "description": "The agent queue to target"}
            }
          }
        },
        "anyOf": [{"$ref": "#/definitions/commandStep"}]
      }
    },
    "env": {"type": "object", "description": "Environment variables"}
  },
  "definitions": {"commandStep": {"type": "object"}}
}`

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	s := NewServer(zap.NewNop(), opts...)
	model, err := schema.FromDocument([]byte(serverSchema))
	if err != nil {
		t.Fatalf("FromDocument failed: %v", err)
	}
	s.setModel(model, []byte(serverSchema))
	return s
}

func openDoc(t *testing.T, s *Server, text string) {
	t.Helper()
	err := s.DidOpen(context.Background(), &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:     testURI,
			Version: 1,
			Text:    text,
		},
	})
	if err != nil {
		t.Fatalf("DidOpen failed: %v", err)
	}
}

func TestInitialize(t *testing.T) {
	s := newTestServer(t)

	result, err := s.Initialize(context.Background(), &protocol.InitializeParams{})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if result.ServerInfo == nil || result.ServerInfo.Name != serverName {
		t.Errorf("server info = %+v", result.ServerInfo)
	}
	sync, ok := result.Capabilities.TextDocumentSync.(*protocol.TextDocumentSyncOptions)
	if !ok {
		t.Fatalf("TextDocumentSync type = %T", result.Capabilities.TextDocumentSync)
	}
	if sync.Change != protocol.TextDocumentSyncKindFull {
		t.Errorf("sync kind = %v, want full", sync.Change)
	}
	if result.Capabilities.HoverProvider != true {
		t.Error("hover capability missing")
	}
	if result.Capabilities.CompletionProvider == nil {
		t.Error("completion capability missing")
	}
}

func TestHover(t *testing.T) {
	s := newTestServer(t)
	openDoc(t, s, `steps:
  - label: "Deploy"
    command: "deploy.sh"
    agents:
      queue: "deploy"
`)

	hover, err := s.Hover(context.Background(), &protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
			Position:     protocol.Position{Line: 4, Character: 8},
		},
	})
	if err != nil {
		t.Fatalf("Hover failed: %v", err)
	}
	if hover == nil {
		t.Fatal("expected hover content")
	}
	if !strings.Contains(hover.Contents.Value, "The agent queue to target") {
		t.Errorf("hover = %q, want queue documentation", hover.Contents.Value)
	}
	if !strings.Contains(hover.Contents.Value, "steps › 0 › agents › queue") {
		t.Errorf("hover = %q, want breadcrumb of the ancestor chain", hover.Contents.Value)
	}
	if hover.Range == nil {
		t.Fatal("hover must carry the node range")
	}
	if hover.Range.Start.Line != 4 || hover.Range.Start.Character != 6 {
		t.Errorf("range start = %v, want 4:6", hover.Range.Start)
	}
}

func TestHover_NoDocumentation(t *testing.T) {
	s := newTestServer(t)
	openDoc(t, s, "steps:\n  - command: \"x\"\n")

	hover, err := s.Hover(context.Background(), &protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
			Position:     protocol.Position{Line: 10, Character: 0},
		},
	})
	if err != nil {
		t.Fatalf("Hover failed: %v", err)
	}
	if hover != nil {
		t.Errorf("hover = %+v, want nil outside any node", hover)
	}
}

func TestHover_UnknownDocument(t *testing.T) {
	s := newTestServer(t)

	hover, err := s.Hover(context.Background(), &protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: "file:///nope.yml"},
		},
	})
	if err != nil || hover != nil {
		t.Errorf("hover = %+v, %v; want nil, nil", hover, err)
	}
}

func completionLabels(list *protocol.CompletionList) []string {
	labels := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		labels = append(labels, item.Label)
	}
	return labels
}

func TestCompletion_TopLevel(t *testing.T) {
	s := newTestServer(t)
	openDoc(t, s, "steps:\n  - command: \"x\"\n")

	list, err := s.Completion(context.Background(), &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
			Position:     protocol.Position{Line: 2, Character: 0},
		},
	})
	if err != nil {
		t.Fatalf("Completion failed: %v", err)
	}

	labels := completionLabels(list)
	for _, want := range []string{"env", "steps"} {
		found := false
		for _, l := range labels {
			if l == want {
				found = true
			}
		}
		if !found {
			t.Errorf("labels = %v, want %q included", labels, want)
		}
	}
}

func TestCompletion_StepProperties(t *testing.T) {
	s := newTestServer(t)
	openDoc(t, s, "steps:\n  - command: \"x\"\n")

	list, err := s.Completion(context.Background(), &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
			Position:     protocol.Position{Line: 1, Character: 6},
		},
	})
	if err != nil {
		t.Fatalf("Completion failed: %v", err)
	}

	labels := completionLabels(list)
	for _, want := range []string{"agents", "command", "label"} {
		found := false
		for _, l := range labels {
			if l == want {
				found = true
			}
		}
		if !found {
			t.Errorf("labels = %v, want %q included", labels, want)
		}
	}
}

func TestCompletion_StepTypeFallback(t *testing.T) {
	s := NewServer(zap.NewNop())
	openDoc(t, s, "steps:\n  - command: \"x\"\n")

	// Without a schema model the step element falls back to the
	// discriminator keys.
	list, err := s.Completion(context.Background(), &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
			Position:     protocol.Position{Line: 1, Character: 6},
		},
	})
	if err != nil {
		t.Fatalf("Completion failed: %v", err)
	}

	labels := completionLabels(list)
	found := false
	for _, l := range labels {
		if l == "command" {
			found = true
		}
	}
	if !found {
		t.Errorf("labels = %v, want step type keys", labels)
	}
}

func TestCompletion_PluginNames(t *testing.T) {
	s := newTestServer(t)
	openDoc(t, s, `steps:
  - command: "x"
    plugins:
      - docker#v5.13.0
`)

	list, err := s.Completion(context.Background(), &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
			Position:     protocol.Position{Line: 2, Character: 6},
		},
	})
	if err != nil {
		t.Fatalf("Completion failed: %v", err)
	}

	labels := completionLabels(list)
	found := false
	for _, l := range labels {
		if strings.HasPrefix(l, "docker#") {
			found = true
		}
	}
	if !found {
		t.Errorf("labels = %v, want popular plugin references", labels)
	}
}

func TestCompletion_PluginConfig(t *testing.T) {
	registry := plugins.NewRegistry(plugins.WithFetch(
		func(ctx context.Context, ref *plugins.Reference) (*plugins.Schema, error) {
			return &plugins.Schema{
				Name: "Docker",
				Configuration: map[string]any{
					"properties": map[string]any{
						"image": map[string]any{"type": "string", "description": "The Docker image to run"},
					},
				},
			}, nil
		}))
	s := newTestServer(t, WithPluginRegistry(registry))
	openDoc(t, s, `steps:
  - command: "x"
    plugins:
      - docker#v5.13.0:
          image: "alpine"
`)

	list, err := s.Completion(context.Background(), &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
			Position:     protocol.Position{Line: 4, Character: 12},
		},
	})
	if err != nil {
		t.Fatalf("Completion failed: %v", err)
	}

	labels := completionLabels(list)
	if len(labels) != 1 || labels[0] != "image" {
		t.Errorf("labels = %v, want [image]", labels)
	}
}

func TestDiagnostics_ParseError(t *testing.T) {
	s := newTestServer(t)
	doc := s.docs.Apply(testURI, 1, "steps:\n  - command: \"unclosed\n bad:\n")

	diags := s.diagnosticsFor(doc)
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(diags))
	}
	if !strings.HasPrefix(diags[0].Message, "YAML parse error:") {
		t.Errorf("message = %q", diags[0].Message)
	}
	if diags[0].Severity != protocol.DiagnosticSeverityError {
		t.Errorf("severity = %v, want error", diags[0].Severity)
	}
	if diags[0].Source != serverName {
		t.Errorf("source = %q, want %q", diags[0].Source, serverName)
	}
}

func TestDiagnostics_EmptySteps(t *testing.T) {
	s := newTestServer(t)
	doc := s.docs.Apply(testURI, 1, "steps: []\n")

	diags := s.diagnosticsFor(doc)
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(diags))
	}
	if diags[0].Message != "steps must contain at least one step" {
		t.Errorf("message = %q", diags[0].Message)
	}
	if diags[0].Range.Start.Line != 0 || diags[0].Range.End.Character != 9 {
		t.Errorf("range = %v, want the steps entry span", diags[0].Range)
	}
}

func TestDiagnostics_ValidDocument(t *testing.T) {
	s := newTestServer(t)
	doc := s.docs.Apply(testURI, 1, "steps:\n  - command: \"x\"\n")

	diags := s.diagnosticsFor(doc)
	if len(diags) != 0 {
		t.Errorf("diagnostics = %v, want none", diags)
	}
}

func TestDidChange_UsesLastContentChange(t *testing.T) {
	s := newTestServer(t)
	openDoc(t, s, "steps:\n  - command: \"old\"\n")

	err := s.DidChange(context.Background(), &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: testURI},
			Version:                2,
		},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{
			{Text: "steps:\n  - command: \"mid\"\n"},
			{Text: "steps:\n  - command: \"new\"\n"},
		},
	})
	if err != nil {
		t.Fatalf("DidChange failed: %v", err)
	}

	doc, _ := s.docs.Get(testURI)
	if got := doc.Index.Lookup("steps/0/command").Value; got != "new" {
		t.Errorf("command = %q, want the last change applied", got)
	}
}

func TestDidClose_RemovesDocument(t *testing.T) {
	s := newTestServer(t)
	openDoc(t, s, "steps:\n  - wait\n")

	err := s.DidClose(context.Background(), &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
	})
	if err != nil {
		t.Fatalf("DidClose failed: %v", err)
	}
	if s.docs.Len() != 0 {
		t.Error("document must be removed on close")
	}
}

func TestIsPipelineFile(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		uri  string
		want bool
	}{
		{"file:///work/.buildkite/pipeline.yml", true},
		{"file:///work/pipeline.yaml", true},
		{"file:///work/.buildkite/deploy.yml", true},
		{"file:///work/docker-compose.yml", false},
		{"file:///work/README.md", false},
	}
	for _, tc := range cases {
		if got := s.isPipelineFile(tc.uri); got != tc.want {
			t.Errorf("isPipelineFile(%q) = %v, want %v", tc.uri, got, tc.want)
		}
	}
}
