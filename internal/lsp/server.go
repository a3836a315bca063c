package lsp

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/kestrelci/pipeline-ls/internal/plugins"
	"github.com/kestrelci/pipeline-ls/internal/schema"
)

const serverName = "pipeline-ls"

// Server is the protocol front end. It owns the document store and the
// shared schema model; handlers may run concurrently, so all shared state
// is behind the store's locks or the model mutex.
type Server struct {
	conn     jsonrpc2.Conn
	logger   *zap.Logger
	docs     *DocumentManager
	loader   *schema.Loader
	registry *plugins.Registry

	modelMu    sync.RWMutex
	model      *schema.Model
	schemaData []byte
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSchemaLoader overrides the schema loader.
func WithSchemaLoader(loader *schema.Loader) ServerOption {
	return func(s *Server) { s.loader = loader }
}

// WithPluginRegistry overrides the plugin registry.
func WithPluginRegistry(registry *plugins.Registry) ServerOption {
	return func(s *Server) { s.registry = registry }
}

func NewServer(logger *zap.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:   logger,
		docs:     NewDocumentManager(),
		loader:   schema.NewLoader(),
		registry: plugins.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetConnection attaches the jsonrpc2 connection used for notifications.
func (s *Server) SetConnection(conn jsonrpc2.Conn) {
	s.conn = conn
}

func (s *Server) Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	s.logger.Info("initializing")

	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.TextDocumentSyncKindFull,
				Save:      &protocol.SaveOptions{IncludeText: true},
			},
			HoverProvider: true,
			CompletionProvider: &protocol.CompletionOptions{
				TriggerCharacters: []string{" ", ":", "-"},
			},
		},
		ServerInfo: &protocol.ServerInfo{
			Name:    serverName,
			Version: "0.1.0",
		},
	}, nil
}

func (s *Server) Initialized(ctx context.Context, params *protocol.InitializedParams) error {
	s.logger.Info("initialized, loading schema")
	go s.loadSchema()
	return nil
}

// loadSchema fetches and installs the shared schema model. Failure is a
// one-time warning; the server keeps running with documentation and
// validation degraded to no-ops.
func (s *Server) loadSchema() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	model, err := s.loader.Load(ctx)
	if err != nil {
		s.logger.Warn("schema unavailable, documentation and validation disabled", zap.Error(err))
		s.notifyShowMessage(ctx, protocol.MessageTypeWarning, "pipeline schema unavailable: "+err.Error())
		return
	}
	data, _ := s.loader.SchemaData(ctx)

	s.modelMu.Lock()
	s.model = model
	s.schemaData = data
	s.modelMu.Unlock()
	s.logger.Info("schema loaded")
}

// currentModel returns the shared model; nil until the load completes.
func (s *Server) currentModel() (*schema.Model, []byte) {
	s.modelMu.RLock()
	defer s.modelMu.RUnlock()
	return s.model, s.schemaData
}

// setModel installs a model directly. Used by tests.
func (s *Server) setModel(model *schema.Model, data []byte) {
	s.modelMu.Lock()
	s.model = model
	s.schemaData = data
	s.modelMu.Unlock()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	return nil
}

func (s *Server) Exit(ctx context.Context) error {
	s.logger.Info("exiting")
	return nil
}

func (s *Server) DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.logger.Debug("document opened", zap.String("uri", string(uri)))

	doc := s.docs.Apply(uri, params.TextDocument.Version, params.TextDocument.Text)
	s.publishDiagnostics(ctx, doc)
	return nil
}

func (s *Server) DidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.logger.Debug("document changed", zap.String("uri", string(uri)))

	if len(params.ContentChanges) == 0 {
		return nil
	}
	last := params.ContentChanges[len(params.ContentChanges)-1]
	doc := s.docs.Apply(uri, params.TextDocument.Version, last.Text)
	s.publishDiagnostics(ctx, doc)
	return nil
}

func (s *Server) DidSave(ctx context.Context, params *protocol.DidSaveTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.logger.Debug("document saved", zap.String("uri", string(uri)))

	doc, ok := s.docs.Get(uri)
	if !ok {
		return nil
	}
	if params.Text != "" {
		doc = s.docs.Apply(uri, doc.Version, params.Text)
	}
	s.publishDiagnostics(ctx, doc)
	return nil
}

func (s *Server) DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.logger.Debug("document closed", zap.String("uri", string(uri)))

	s.docs.Close(uri)
	s.sendDiagnostics(ctx, uri, []protocol.Diagnostic{})
	return nil
}

// isPipelineFile limits validation to pipeline definitions; other YAML
// opened in the workspace is left alone.
func (s *Server) isPipelineFile(uri string) bool {
	return strings.Contains(uri, "pipeline.yml") ||
		strings.Contains(uri, "pipeline.yaml") ||
		strings.Contains(uri, ".buildkite/")
}

func (s *Server) notifyShowMessage(ctx context.Context, mt protocol.MessageType, message string) {
	if s.conn == nil {
		return
	}
	_ = s.conn.Notify(ctx, protocol.MethodWindowShowMessage, &protocol.ShowMessageParams{
		Type:    mt,
		Message: message,
	})
}

func (s *Server) sendDiagnostics(ctx context.Context, uri protocol.DocumentURI, diagnostics []protocol.Diagnostic) {
	s.logger.Debug("publishing diagnostics",
		zap.String("uri", string(uri)),
		zap.Int("count", len(diagnostics)))
	if s.conn == nil {
		return
	}
	_ = s.conn.Notify(ctx, protocol.MethodTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// Handler dispatches incoming protocol requests.
func (s *Server) Handler() jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		s.logger.Debug("request", zap.String("method", req.Method()))
		switch req.Method() {
		case protocol.MethodInitialize:
			var params protocol.InitializeParams
			if err := json.Unmarshal(req.Params(), &params); err != nil {
				return reply(ctx, nil, err)
			}
			result, err := s.Initialize(ctx, &params)
			return reply(ctx, result, err)

		case protocol.MethodInitialized:
			var params protocol.InitializedParams
			if err := json.Unmarshal(req.Params(), &params); err != nil {
				return reply(ctx, nil, err)
			}
			return reply(ctx, nil, s.Initialized(ctx, &params))

		case protocol.MethodShutdown:
			return reply(ctx, nil, s.Shutdown(ctx))

		case protocol.MethodExit:
			_ = s.Exit(ctx)
			return nil

		case protocol.MethodTextDocumentDidOpen:
			var params protocol.DidOpenTextDocumentParams
			if err := json.Unmarshal(req.Params(), &params); err != nil {
				return reply(ctx, nil, err)
			}
			return reply(ctx, nil, s.DidOpen(ctx, &params))

		case protocol.MethodTextDocumentDidChange:
			var params protocol.DidChangeTextDocumentParams
			if err := json.Unmarshal(req.Params(), &params); err != nil {
				return reply(ctx, nil, err)
			}
			return reply(ctx, nil, s.DidChange(ctx, &params))

		case protocol.MethodTextDocumentDidSave:
			var params protocol.DidSaveTextDocumentParams
			if err := json.Unmarshal(req.Params(), &params); err != nil {
				return reply(ctx, nil, err)
			}
			return reply(ctx, nil, s.DidSave(ctx, &params))

		case protocol.MethodTextDocumentDidClose:
			var params protocol.DidCloseTextDocumentParams
			if err := json.Unmarshal(req.Params(), &params); err != nil {
				return reply(ctx, nil, err)
			}
			return reply(ctx, nil, s.DidClose(ctx, &params))

		case protocol.MethodTextDocumentHover:
			var params protocol.HoverParams
			if err := json.Unmarshal(req.Params(), &params); err != nil {
				return reply(ctx, nil, err)
			}
			result, err := s.Hover(ctx, &params)
			return reply(ctx, result, err)

		case protocol.MethodTextDocumentCompletion:
			var params protocol.CompletionParams
			if err := json.Unmarshal(req.Params(), &params); err != nil {
				return reply(ctx, nil, err)
			}
			result, err := s.Completion(ctx, &params)
			return reply(ctx, result, err)

		default:
			return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
		}
	}
}
