// Package position resolves cursor coordinates against a parsed node
// tree. The tree's containment relation is the source of truth; a sorted
// scan over document-ordered children keeps point queries cheap without a
// coordinate-keyed table that could drop colliding siblings.
package position

import (
	"sort"
	"strings"

	"github.com/kestrelci/pipeline-ls/internal/parser"
)

// Index answers point and path queries for one successful parse. It is
// immutable once built and safe for concurrent readers.
type Index struct {
	root   *parser.Node
	byPath map[string]*parser.Node
}

// New builds an index over the given root node.
func New(root *parser.Node) *Index {
	ix := &Index{
		root:   root,
		byPath: make(map[string]*parser.Node),
	}
	root.Walk(func(n *parser.Node) bool {
		ix.byPath[n.Path] = n
		return true
	})
	return ix
}

// Root returns the document root node.
func (ix *Index) Root() *parser.Node {
	if ix == nil {
		return nil
	}
	return ix.root
}

// Lookup returns the node at an exact path, or nil.
func (ix *Index) Lookup(path string) *parser.Node {
	if ix == nil {
		return nil
	}
	return ix.byPath[path]
}

// NodeAt returns the most specific node containing the point, or nil when
// the point lies outside every node (a blank line, trailing whitespace).
// Among all containing nodes the one with the smallest range area wins;
// remaining ties go to the deepest node (longest path). The document root
// itself is never returned.
func (ix *Index) NodeAt(line, col int) *parser.Node {
	if ix == nil || ix.root == nil {
		return nil
	}
	p := parser.Pos{Line: line, Col: col}
	var best *parser.Node
	collectContaining(ix.root, p, func(n *parser.Node) {
		if n == ix.root {
			return
		}
		if best == nil || morePrecise(n, best) {
			best = n
		}
	})
	return best
}

// AncestorChain returns every node containing the point, root-first,
// ending at the node NodeAt would return. The document root (path "") is
// excluded. Empty when nothing contains the point.
func (ix *Index) AncestorChain(line, col int) []*parser.Node {
	best := ix.NodeAt(line, col)
	if best == nil {
		return nil
	}
	segments := strings.Split(best.Path, "/")
	chain := make([]*parser.Node, 0, len(segments))
	path := ""
	for _, seg := range segments {
		path = join(path, seg)
		if n := ix.byPath[path]; n != nil {
			chain = append(chain, n)
		}
	}
	return chain
}

// collectContaining walks from n into every child containing p. Children
// are in document order with non-overlapping ranges, so a binary search
// narrows the candidates; inclusive end bounds mean a boundary point can
// sit in two adjacent siblings, hence the extra neighbour checks.
func collectContaining(n *parser.Node, p parser.Pos, emit func(*parser.Node)) {
	if !n.Range.ContainsPoint(p) {
		return
	}
	emit(n)
	kids := n.Children
	i := sort.Search(len(kids), func(i int) bool {
		return p.Before(kids[i].Range.Start)
	})
	for _, j := range []int{i - 2, i - 1, i} {
		if j >= 0 && j < len(kids) {
			collectContaining(kids[j], p, emit)
		}
	}
}

func morePrecise(a, b *parser.Node) bool {
	aa, ba := a.Range.Area(), b.Range.Area()
	if aa != ba {
		return aa < ba
	}
	return len(a.Path) > len(b.Path)
}

func join(parent, seg string) string {
	if parent == "" {
		return seg
	}
	return parent + "/" + seg
}
