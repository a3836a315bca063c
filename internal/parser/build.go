package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// ParseError reports syntactically invalid input. Pos carries the
// grammar-reported position when the YAML parser supplies one, else the
// document start.
type ParseError struct {
	Pos    Pos
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Reason)
}

var yamlErrLine = regexp.MustCompile(`line (\d+):`)

func newParseError(err error) *ParseError {
	msg := strings.TrimPrefix(err.Error(), "yaml: ")
	pe := &ParseError{Reason: msg}
	if m := yamlErrLine.FindStringSubmatch(msg); m != nil {
		if line, convErr := strconv.Atoi(m[1]); convErr == nil && line > 0 {
			pe.Pos = Pos{Line: line - 1}
		}
	}
	return pe
}

// Build parses pipeline text into a node tree annotated with source
// ranges. It descends the YAML parser's native node structure rather than
// scanning lines, so nested mappings and sequences at any depth receive
// distinct paths. No partial tree is returned on failure.
func Build(content []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, newParseError(err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, &ParseError{Reason: "empty document"}
	}

	b := &builder{lines: splitRuneLines(string(content))}
	return b.node(doc.Content[0], "", nil, ""), nil
}

type builder struct {
	lines [][]rune
}

// node converts a yaml.Node into a Node. keyPos is the start of the entry
// key when the node is a mapping entry's value.
func (b *builder) node(y *yaml.Node, key string, keyPos *Pos, path string) *Node {
	n := &Node{Key: key, Path: path}
	start := Pos{Line: y.Line - 1, Col: y.Column - 1}
	if keyPos != nil {
		n.Range.Start = *keyPos
	} else {
		n.Range.Start = start
	}

	switch y.Kind {
	case yaml.MappingNode:
		n.Kind = Mapping
		for i := 0; i+1 < len(y.Content); i += 2 {
			k, v := y.Content[i], y.Content[i+1]
			n.Children = append(n.Children, b.entry(k, v, joinPath(path, k.Value)))
		}
		n.Range.End = b.collectionEnd(n, start, y)
	case yaml.SequenceNode:
		n.Kind = Sequence
		for i, item := range y.Content {
			n.Children = append(n.Children, b.node(item, "", nil, joinPath(path, strconv.Itoa(i))))
		}
		n.Range.End = b.collectionEnd(n, start, y)
	case yaml.AliasNode:
		n.Kind = Scalar
		n.Value = "*" + y.Value
		n.Range.End = Pos{Line: start.Line, Col: start.Col + 1 + len([]rune(y.Value))}
	default:
		n.Kind = Scalar
		n.Value = y.Value
		n.Range.End = b.scalarEnd(start, y)
	}
	return n
}

// entry builds the node for one mapping entry, spanning the key token
// through the value end.
func (b *builder) entry(k, v *yaml.Node, path string) *Node {
	kp := Pos{Line: k.Line - 1, Col: k.Column - 1}
	if v.Kind == yaml.ScalarNode && v.Tag == "!!null" && v.Value == "" {
		// Key with no value token: the entry covers "key:".
		kend := b.scalarEnd(kp, k)
		return &Node{
			Kind:  Scalar,
			Key:   k.Value,
			Path:  path,
			Range: Range{Start: kp, End: Pos{Line: kend.Line, Col: kend.Col + 1}},
		}
	}
	return b.node(v, k.Value, &kp, path)
}

func (b *builder) collectionEnd(n *Node, start Pos, y *yaml.Node) Pos {
	if len(n.Children) == 0 {
		if y.Style&yaml.FlowStyle != 0 {
			return Pos{Line: start.Line, Col: start.Col + 2} // {} or []
		}
		return start
	}
	end := n.Children[len(n.Children)-1].Range.End
	if y.Style&yaml.FlowStyle != 0 {
		end = b.pastClosing(end)
	}
	return end
}

// pastClosing extends a flow collection's end past its closing bracket,
// skipping separators. Nested flows have already consumed their own
// closers during the recursive walk.
func (b *builder) pastClosing(p Pos) Pos {
	line, col := p.Line, p.Col
	for line < len(b.lines) {
		row := b.lines[line]
		if col >= len(row) {
			line++
			col = 0
			continue
		}
		switch row[col] {
		case ' ', '\t', ',':
			col++
		case ']', '}':
			return Pos{Line: line, Col: col + 1}
		default:
			return p
		}
	}
	return p
}

// scalarEnd computes the one-past-the-end position of a scalar from the
// source text itself, per style, so that quoting, multi-byte runes, and
// trailing comments do not skew ranges.
func (b *builder) scalarEnd(start Pos, y *yaml.Node) Pos {
	if start.Line >= len(b.lines) {
		return start
	}
	switch {
	case y.Style&yaml.DoubleQuotedStyle != 0:
		return b.quotedEnd(start, '"')
	case y.Style&yaml.SingleQuotedStyle != 0:
		return b.quotedEnd(start, '\'')
	case y.Style&(yaml.LiteralStyle|yaml.FoldedStyle) != 0:
		return b.blockEnd(start)
	default:
		return b.plainEnd(start, y.Value)
	}
}

func (b *builder) quotedEnd(start Pos, quote rune) Pos {
	line, col := start.Line, start.Col+1
	for line < len(b.lines) {
		row := b.lines[line]
		for col < len(row) {
			r := row[col]
			if quote == '"' && r == '\\' {
				col += 2
				continue
			}
			if r == quote {
				if quote == '\'' && col+1 < len(row) && row[col+1] == '\'' {
					col += 2 // '' escape
					continue
				}
				return Pos{Line: line, Col: col + 1}
			}
			col++
		}
		line++
		col = 0
	}
	return Pos{Line: start.Line, Col: start.Col + 1}
}

// blockEnd finds the extent of a literal or folded block scalar. The
// content indentation is fixed by the first non-blank line after the
// header; the block runs while lines are blank or at least that deep,
// minus trailing blank lines.
func (b *builder) blockEnd(start Pos) Pos {
	contentIndent := -1
	last := -1
	for l := start.Line + 1; l < len(b.lines); l++ {
		row := b.lines[l]
		if isBlank(row) {
			continue
		}
		indent := indentOf(row)
		if contentIndent < 0 {
			if indent <= indentOf(b.lines[start.Line]) {
				break
			}
			contentIndent = indent
		}
		if indent < contentIndent {
			break
		}
		last = l
	}
	if last < 0 {
		header := trimRightWS(b.lines[start.Line])
		return Pos{Line: start.Line, Col: len(header)}
	}
	return Pos{Line: last, Col: len(trimRightWS(b.lines[last]))}
}

// plainEnd locates the end of a plain scalar. Single-line scalars appear
// verbatim in the source and match directly; multi-line plain scalars are
// matched by replaying YAML line folding against the parser-reported
// value.
func (b *builder) plainEnd(start Pos, value string) Pos {
	row := b.lines[start.Line]
	col := start.Col
	if col > len(row) {
		col = len(row)
	}
	rest := row[col:]
	want := []rune(value)
	if hasRunePrefix(rest, want) {
		return Pos{Line: start.Line, Col: col + len(want)}
	}

	first := trimRightWS(clipComment(rest))
	acc := string(first)
	fallback := Pos{Line: start.Line, Col: col + len(first)}
	if acc == value {
		return fallback
	}
	end := fallback
	for l := start.Line + 1; l < len(b.lines); l++ {
		seg := trimRightWS(clipComment(b.lines[l]))
		t := trimLeftWS(seg)
		if len(t) == 0 {
			acc += "\n"
			continue
		}
		if strings.HasSuffix(acc, "\n") {
			acc += string(t)
		} else {
			acc += " " + string(t)
		}
		end = Pos{Line: l, Col: indentOf(b.lines[l]) + len(t)}
		if acc == value {
			return end
		}
		if len(acc) > len(value) {
			break
		}
	}
	return fallback
}

func splitRuneLines(text string) [][]rune {
	raw := strings.Split(text, "\n")
	lines := make([][]rune, len(raw))
	for i, l := range raw {
		lines[i] = []rune(strings.TrimSuffix(l, "\r"))
	}
	return lines
}

// clipComment cuts a trailing "# ..." comment; a '#' only starts a
// comment at the beginning of the segment or after whitespace.
func clipComment(row []rune) []rune {
	for i, r := range row {
		if r != '#' {
			continue
		}
		if i == 0 || row[i-1] == ' ' || row[i-1] == '\t' {
			return row[:i]
		}
	}
	return row
}

func indentOf(row []rune) int {
	for i, r := range row {
		if r != ' ' {
			return i
		}
	}
	return len(row)
}

func isBlank(row []rune) bool {
	for _, r := range row {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func trimRightWS(row []rune) []rune {
	end := len(row)
	for end > 0 && unicode.IsSpace(row[end-1]) {
		end--
	}
	return row[:end]
}

func trimLeftWS(row []rune) []rune {
	start := 0
	for start < len(row) && unicode.IsSpace(row[start]) {
		start++
	}
	return row[start:]
}

func hasRunePrefix(row, prefix []rune) bool {
	if len(prefix) == 0 || len(row) < len(prefix) {
		return false
	}
	for i := range prefix {
		if row[i] != prefix[i] {
			return false
		}
	}
	return true
}
