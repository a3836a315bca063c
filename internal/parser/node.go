package parser

import "fmt"

// Kind classifies a structural element of a parsed pipeline document.
type Kind int

const (
	Scalar Kind = iota
	Mapping
	Sequence
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Mapping:
		return "mapping"
	case Sequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Pos is a zero-based line/column position. Columns count runes, matching
// the YAML parser's own position accounting.
type Pos struct {
	Line int
	Col  int
}

// Before reports whether p comes strictly before o in document order.
func (p Pos) Before(o Pos) bool {
	return p.Line < o.Line || (p.Line == o.Line && p.Col < o.Col)
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line+1, p.Col+1)
}

// Range is a half-open [Start, End) span in the source text.
type Range struct {
	Start Pos
	End   Pos
}

// ContainsPoint reports whether the point lies within the range. End
// coordinates are treated as inclusive here so that a cursor sitting just
// past the last rune of a node still resolves to it.
func (r Range) ContainsPoint(p Pos) bool {
	if p.Before(r.Start) {
		return false
	}
	return !r.End.Before(p)
}

// Encloses reports whether o lies fully inside r, using the stored
// half-open bounds.
func (r Range) Encloses(o Range) bool {
	if o.Start.Before(r.Start) {
		return false
	}
	return !r.End.Before(o.End)
}

// Area is the width x height measure used to rank competing nodes at a
// point: smaller means more specific. Height counts lines inclusively.
func (r Range) Area() int {
	width := r.End.Col - r.Start.Col
	if width < 1 {
		width = 1
	}
	return width * (r.End.Line - r.Start.Line + 1)
}

func (r Range) String() string {
	return fmt.Sprintf("%s-%s", r.Start, r.End)
}

// Node is a structural element of a parsed document. Mapping entries are
// represented as a single node carrying the entry key, whose range spans
// from the key token through the end of the value; sequence items carry no
// key and are addressed by index.
type Node struct {
	Kind     Kind
	Key      string // set when the node is a mapping entry
	Value    string // literal text for scalars
	Range    Range
	Children []*Node
	Path     string // "/"-joined address from the root; root is ""
}

// Child returns the mapping entry with the given key, or nil.
func (n *Node) Child(key string) *Node {
	if n == nil || n.Kind != Mapping {
		return nil
	}
	for _, c := range n.Children {
		if c.Key == key {
			return c
		}
	}
	return nil
}

// Walk visits n and every descendant in document order. The visit
// function returns false to prune a subtree.
func (n *Node) Walk(visit func(*Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(visit)
	}
}

func joinPath(parent, step string) string {
	if parent == "" {
		return step
	}
	return parent + "/" + step
}
