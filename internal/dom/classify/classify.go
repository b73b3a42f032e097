// Package classify maps render-tree nodes to semantic element roles.
package classify

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/dom/selector"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/model"
)

// Result is the classification of one node.
type Result struct {
	Type    model.ElementType
	Content string
}

// Classify returns the role and display content of n. The lookup is keyed
// on tag name; the first matching rule wins:
//
//	h1-h6                         heading
//	p                             paragraph
//	img                           image (content = src, else alt)
//	button, or inside a button    button
//	a                             link
//	non-empty trimmed text        text
//	anything else                 section
func Classify(n *html.Node) Result {
	return Result{Type: TypeOf(n), Content: Content(n)}
}

// TypeOf returns only the role of n.
func TypeOf(n *html.Node) model.ElementType {
	if n == nil || n.Type != html.ElementNode {
		return model.TypeSection
	}
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return model.TypeHeading
	case atom.P:
		return model.TypeParagraph
	case atom.Img:
		return model.TypeImage
	}
	if n.DataAtom == atom.Button || hasAncestor(n, atom.Button) {
		return model.TypeButton
	}
	if n.DataAtom == atom.A {
		return model.TypeLink
	}
	if TextContent(n) != "" {
		return model.TypeText
	}
	return model.TypeSection
}

// Content extracts the display value of n: src or alt for images, trimmed
// text content otherwise.
func Content(n *html.Node) string {
	if n == nil {
		return ""
	}
	if IsImage(n) {
		if src := selector.Attr(n, "src"); src != "" {
			return src
		}
		return selector.Attr(n, "alt")
	}
	return TextContent(n)
}

// IsImage reports whether n is an image element.
func IsImage(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && n.DataAtom == atom.Img
}

// TextContent returns the trimmed concatenation of the text descendants of
// n. Text inside script, style, noscript and template is not rendered and is
// skipped.
func TextContent(n *html.Node) string {
	var b strings.Builder
	collectText(n, &b)
	return strings.TrimSpace(b.String())
}

func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if IsNonContent(n) {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// IsNonContent reports whether n is a tag that never carries editable
// content.
func IsNonContent(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Meta, atom.Link,
		atom.Template, atom.Head, atom.Title, atom.Base:
		return true
	}
	return false
}

func hasAncestor(n *html.Node, a atom.Atom) bool {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && cur.DataAtom == a {
			return true
		}
	}
	return false
}
