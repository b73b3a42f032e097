// Package selector maps render-tree nodes to stable, human-legible CSS
// paths and resolves such paths back to nodes.
//
// A selector is "#id" when the node carries an id attribute. Otherwise it is
// the chain of at most Depth element levels ending at the node, each level
// written as tag[.class1.class2.class3], joined with " > ". Class tokens that
// mark editor-injected state are never part of a selector.
//
// Selectors are not guaranteed to be unique. Two structurally identical
// siblings (same tag, same filtered classes, same ancestor chain) produce the
// same selector and Resolve returns whichever comes first in document order.
// Callers must tolerate first-match semantics, or enable
// DisambiguateSiblings to append :nth-of-type(n) to colliding levels.
package selector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

const (
	// DefaultDepth bounds the number of levels in a path selector.
	DefaultDepth = 5
	// DefaultMaxClasses bounds the class tokens kept per level.
	DefaultMaxClasses = 3
	// EditorMarker is the substring that identifies editor-owned class tokens.
	EditorMarker = "ve-editor"
	// Separator joins path levels, parent first.
	Separator = " > "
	// RootSelector is returned for the document node itself.
	RootSelector = ":root"
)

var (
	ErrInvalidSelector = errors.New("selector: invalid selector")
	ErrNotFound        = errors.New("selector: no matching node")
)

// Options tunes selector generation.
type Options struct {
	Depth                int
	MaxClasses           int
	DisambiguateSiblings bool
}

// Engine builds selectors. The zero value is not usable; call New.
type Engine struct {
	opts Options
}

// Option mutates Options.
type Option func(*Options)

// WithDepth overrides DefaultDepth.
func WithDepth(depth int) Option {
	return func(o *Options) {
		if depth > 0 {
			o.Depth = depth
		}
	}
}

// WithMaxClasses overrides DefaultMaxClasses.
func WithMaxClasses(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.MaxClasses = n
		}
	}
}

// WithSiblingDisambiguation appends :nth-of-type(n) to levels whose
// segment collides with a sibling's.
func WithSiblingDisambiguation(on bool) Option {
	return func(o *Options) { o.DisambiguateSiblings = on }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	o := Options{Depth: DefaultDepth, MaxClasses: DefaultMaxClasses}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{opts: o}
}

var defaultEngine = New()

// For returns the selector for n using the default engine.
func For(n *html.Node) string { return defaultEngine.For(n) }

// For returns the selector for n. It never fails: non-element nodes are
// described by their nearest element ancestor and the document node by
// RootSelector.
func (e *Engine) For(n *html.Node) string {
	n = nearestElement(n)
	if n == nil {
		return RootSelector
	}

	if id := Attr(n, "id"); strings.TrimSpace(id) != "" {
		return "#" + EscapeIdent(id)
	}

	levels := make([]string, 0, e.opts.Depth)
	for cur := n; cur != nil && cur.Type == html.ElementNode && len(levels) < e.opts.Depth; cur = cur.Parent {
		seg := e.segment(cur)
		if e.opts.DisambiguateSiblings && e.hasLookalikeSibling(cur, seg) {
			seg += ":nth-of-type(" + strconv.Itoa(typeIndex(cur)) + ")"
		}
		levels = append(levels, seg)
	}

	for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
		levels[i], levels[j] = levels[j], levels[i]
	}
	return strings.Join(levels, Separator)
}

// segment renders tag[.c1.c2.c3] for one element.
func (e *Engine) segment(n *html.Node) string {
	var b strings.Builder
	b.WriteString(EscapeIdent(strings.ToLower(n.Data)))
	for _, class := range FilteredClasses(n, e.opts.MaxClasses) {
		b.WriteByte('.')
		b.WriteString(EscapeIdent(class))
	}
	return b.String()
}

func (e *Engine) hasLookalikeSibling(n *html.Node, seg string) bool {
	if n.Parent == nil {
		return false
	}
	for sib := n.Parent.FirstChild; sib != nil; sib = sib.NextSibling {
		if sib == n || sib.Type != html.ElementNode || sib.Data != n.Data {
			continue
		}
		if e.segment(sib) == seg {
			return true
		}
	}
	return false
}

// typeIndex is the 1-based position of n among its siblings of the same tag.
func typeIndex(n *html.Node) int {
	idx := 1
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && sib.Data == n.Data {
			idx++
		}
	}
	return idx
}

// FilteredClasses returns up to limit class tokens of n, skipping editor
// state tokens and duplicates. A negative limit keeps every token.
func FilteredClasses(n *html.Node, limit int) []string {
	fields := strings.Fields(Attr(n, "class"))
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, class := range fields {
		if IsEditorClass(class) {
			continue
		}
		if _, dup := seen[class]; dup {
			continue
		}
		seen[class] = struct{}{}
		out = append(out, class)
		if limit >= 0 && len(out) == limit {
			break
		}
	}
	return out
}

// IsEditorClass reports whether a class token marks editor-injected state.
func IsEditorClass(class string) bool {
	return strings.Contains(class, EditorMarker)
}

// Attr returns the value of attribute key on n, or "".
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nearestElement(n *html.Node) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode {
			return cur
		}
	}
	return nil
}

// Resolve returns the first node under root, in document order, that
// matches sel.
func Resolve(root *html.Node, sel string) (*html.Node, error) {
	compiled, err := compile(sel)
	if err != nil {
		return nil, err
	}
	if n := compiled.MatchFirst(root); n != nil {
		return n, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, sel)
}

// ResolveAll returns every node under root matching sel, in document
// order.
func ResolveAll(root *html.Node, sel string) ([]*html.Node, error) {
	compiled, err := compile(sel)
	if err != nil {
		return nil, err
	}
	return compiled.MatchAll(root), nil
}

// Count returns how many nodes under root match sel.
func Count(root *html.Node, sel string) (int, error) {
	all, err := ResolveAll(root, sel)
	return len(all), err
}

func compile(sel string) (cascadia.Selector, error) {
	if strings.TrimSpace(sel) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSelector)
	}
	compiled, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSelector, sel, err)
	}
	return compiled, nil
}
