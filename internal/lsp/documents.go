package lsp

import (
	"errors"
	"sync"

	"go.lsp.dev/protocol"

	"github.com/kestrelci/pipeline-ls/internal/parser"
	"github.com/kestrelci/pipeline-ls/internal/position"
)

// Document is one open editable unit: its current text plus the last
// successfully parsed tree and position index. After a failed parse the
// previous tree and index are retained so hover and completion keep
// answering from the last good state; ParseErr records why the current
// text has no tree of its own.
type Document struct {
	URI      protocol.DocumentURI
	Version  int32
	Text     string
	Tree     *parser.Node
	Index    *position.Index
	ParseErr *parser.ParseError
}

// DocumentManager owns the open documents. Readers take the shared lock;
// writers hold the exclusive lock only for the map mutation itself, never
// for a parse.
type DocumentManager struct {
	mu        sync.RWMutex
	documents map[protocol.DocumentURI]*Document
}

func NewDocumentManager() *DocumentManager {
	return &DocumentManager{
		documents: make(map[protocol.DocumentURI]*Document),
	}
}

// Apply installs new text for a document, parsing outside the lock so
// concurrent readers are never blocked behind a large re-parse. Versions
// serialize edits per URI: a result arriving after a newer edit has
// already landed is discarded (last write wins). The returned snapshot
// reflects whatever state is current after the call.
func (dm *DocumentManager) Apply(uri protocol.DocumentURI, version int32, text string) *Document {
	tree, err := parser.Build([]byte(text))
	var idx *position.Index
	if err == nil {
		idx = position.New(tree)
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	doc, ok := dm.documents[uri]
	if !ok {
		doc = &Document{URI: uri}
		dm.documents[uri] = doc
	} else if version < doc.Version {
		snap := *doc
		return &snap
	}

	doc.Version = version
	doc.Text = text
	if err != nil {
		var pe *parser.ParseError
		if !errors.As(err, &pe) {
			pe = &parser.ParseError{Reason: err.Error()}
		}
		doc.ParseErr = pe
	} else {
		doc.ParseErr = nil
		doc.Tree = tree
		doc.Index = idx
	}

	snap := *doc
	return &snap
}

// Get returns a read-only snapshot of a document. The tree and index it
// points to are immutable, so no deep copy is needed.
func (dm *DocumentManager) Get(uri protocol.DocumentURI) (*Document, bool) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	doc, ok := dm.documents[uri]
	if !ok {
		return nil, false
	}
	snap := *doc
	return &snap, true
}

// Close removes a document from the store.
func (dm *DocumentManager) Close(uri protocol.DocumentURI) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	delete(dm.documents, uri)
}

// Len reports how many documents are open.
func (dm *DocumentManager) Len() int {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return len(dm.documents)
}
