package agent

import (
	"strings"
	"unicode/utf8"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/document"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/dom/classify"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/dom/selector"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/model"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/shared/id"
)

// Budget bounds one scan.
type Budget struct {
	MaxElements  int // elements reported; traversal continues past it
	MaxDepth     int // levels below body
	MaxNodes     int // element nodes visited
	ContentLimit int // runes of content
	HTMLLimit    int // runes of the html preview
	LabelLimit   int // runes of the label
}

// DefaultBudget returns the limits used when none are configured.
func DefaultBudget() Budget {
	return Budget{
		MaxElements:  500,
		MaxDepth:     32,
		MaxNodes:     10000,
		ContentLimit: 200,
		HTMLLimit:    200,
		LabelLimit:   50,
	}
}

func (b Budget) normalized() Budget {
	d := DefaultBudget()
	if b.MaxElements <= 0 {
		b.MaxElements = d.MaxElements
	}
	if b.MaxDepth <= 0 {
		b.MaxDepth = d.MaxDepth
	}
	if b.MaxNodes <= 0 {
		b.MaxNodes = d.MaxNodes
	}
	if b.ContentLimit <= 0 {
		b.ContentLimit = d.ContentLimit
	}
	if b.HTMLLimit <= 0 {
		b.HTMLLimit = d.HTMLLimit
	}
	if b.LabelLimit <= 0 {
		b.LabelLimit = d.LabelLimit
	}
	return b
}

// structural containers are reported even without content so they stay
// selectable and can group their children.
var structural = map[atom.Atom]bool{
	atom.Section: true,
	atom.Div:     true,
	atom.Article: true,
	atom.Header:  true,
	atom.Footer:  true,
	atom.Main:    true,
	atom.Nav:     true,
	atom.Aside:   true,
}

type scan struct {
	agent   *Agent
	budget  Budget
	visited map[*html.Node]struct{}
	index   map[string]int
	nodes   int
	capped  bool
	out     []model.EditableElement
}

// Scan walks the document body depth-first and returns its editable
// elements in document order. It never fails: a document without a body
// yields an empty list.
func (a *Agent) Scan() []model.EditableElement {
	s := &scan{
		agent:   a,
		budget:  a.budget,
		visited: make(map[*html.Node]struct{}),
		index:   make(map[string]int),
		out:     []model.EditableElement{},
	}

	a.doc.Do(func(root *html.Node) {
		body := document.Body(root)
		if body == nil {
			return
		}
		s.visited[body] = struct{}{}
		for c := body.FirstChild; c != nil; c = c.NextSibling {
			s.visit(c, "", 1)
		}
	})

	a.mu.Lock()
	a.elements = s.out
	a.mu.Unlock()

	a.metrics.RecordScan(len(s.out))
	a.log.Debug("Scan complete",
		zap.Int("elements", len(s.out)),
		zap.Int("visited", s.nodes),
		zap.Bool("capped", s.capped))
	return a.Elements()
}

func (s *scan) visit(n *html.Node, parentID string, depth int) {
	if n.Type != html.ElementNode || depth > s.budget.MaxDepth {
		return
	}
	if _, seen := s.visited[n]; seen {
		return
	}
	if s.nodes >= s.budget.MaxNodes {
		s.capped = true
		return
	}
	s.visited[n] = struct{}{}
	s.nodes++

	if classify.IsNonContent(n) || isOverlay(n) {
		return
	}

	groupID := parentID
	res := classify.Classify(n)
	if res.Content != "" || structural[n.DataAtom] {
		if len(s.out) < s.budget.MaxElements {
			el := s.agent.describe(n, res)
			el.Parent = parentID
			s.add(el)
			groupID = el.ID
		} else {
			s.capped = true
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.visit(c, groupID, depth+1)
	}
}

func (s *scan) add(el model.EditableElement) {
	s.index[el.ID] = len(s.out)
	s.out = append(s.out, el)
	if el.Parent == "" {
		return
	}
	if i, ok := s.index[el.Parent]; ok {
		s.out[i].Children = append(s.out[i].Children, el.ID)
	}
}

// describe builds the element record for n. It runs on the document
// thread.
func (a *Agent) describe(n *html.Node, res classify.Result) model.EditableElement {
	b := a.budget
	label := truncate(res.Content, b.LabelLimit)
	if label == "" {
		label = n.Data
	}
	return model.EditableElement{
		ID:         id.NewElementID().String(),
		Type:       res.Type,
		Selector:   a.engine.For(n),
		Content:    truncate(res.Content, b.ContentLimit),
		HTML:       truncate(a.policy.Sanitize(htmlquery.OutputHTML(withoutEditorClasses(n), true)), b.HTMLLimit),
		Attributes: attributes(n),
		Label:      label,
	}
}

// attributes captures n's attributes with editor class tokens removed.
func attributes(n *html.Node) map[string]string {
	if len(n.Attr) == 0 {
		return nil
	}
	out := make(map[string]string, len(n.Attr))
	for _, attr := range n.Attr {
		if attr.Key == "class" {
			classes := selector.FilteredClasses(n, -1)
			if len(classes) == 0 {
				continue
			}
			out["class"] = strings.Join(classes, " ")
			continue
		}
		out[attr.Key] = attr.Val
	}
	return out
}

// withoutEditorClasses deep-copies n with editor class tokens removed from
// every element, so previews never carry highlight state.
func withoutEditorClasses(n *html.Node) *html.Node {
	c := &html.Node{Type: n.Type, DataAtom: n.DataAtom, Data: n.Data, Namespace: n.Namespace}
	for _, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == "class" {
			classes := selector.FilteredClasses(n, -1)
			if len(classes) == 0 {
				continue
			}
			attr.Val = strings.Join(classes, " ")
		}
		c.Attr = append(c.Attr, attr)
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(withoutEditorClasses(ch))
	}
	return c
}

func isOverlay(n *html.Node) bool {
	return document.HasClass(n, OverlayClass) || document.HasClass(n, StyleMarker)
}

// truncate keeps at most limit runes of s.
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	i := 0
	for pos := range s {
		if i == limit {
			return s[:pos]
		}
		i++
	}
	return s
}
