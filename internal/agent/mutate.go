package agent

import (
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/document"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/dom/classify"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/dom/selector"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
)

// ApplyMutation replaces the content of the first node matching sel.
// Images get src and alt set to content; every other node has its text
// content replaced wholesale, dropping any markup it held. It reports
// false, without side effects, when sel does not resolve.
func (a *Agent) ApplyMutation(sel, content string) bool {
	var ok, ambiguous bool
	a.doc.Do(func(root *html.Node) {
		n, err := selector.Resolve(root, sel)
		if err != nil {
			a.log.Debug("Mutation target not found", zap.String("selector", sel), zap.Error(err))
			return
		}
		if count, _ := selector.Count(root, sel); count > 1 {
			ambiguous = true
			a.log.Warn("Selector matches several nodes, mutating the first",
				zap.String("selector", sel),
				zap.Int("matches", count))
		}

		if classify.IsImage(n) {
			document.SetAttr(n, "src", content)
			document.SetAttr(n, "alt", content)
		} else {
			document.SetTextContent(n, content)
		}
		ok = true
	})
	a.metrics.RecordMutation(ok, ambiguous)
	return ok
}

// Highlight moves the highlight marker to the first node matching sel. It
// does nothing when sel does not resolve.
func (a *Agent) Highlight(sel string) {
	a.doc.Do(func(root *html.Node) {
		n, err := selector.Resolve(root, sel)
		if err != nil {
			a.log.Debug("Highlight target not found", zap.String("selector", sel))
			return
		}
		a.highlight(root, n)
	})
}

// highlight runs on the document thread.
func (a *Agent) highlight(root, n *html.Node) {
	marked, _ := selector.ResolveAll(root, "."+HighlightClass)
	for _, m := range marked {
		document.RemoveClass(m, HighlightClass)
	}
	document.AddClass(n, HighlightClass)
	a.highlighted = n
}

// HandleClick is the agent's capturing click listener. In interactive mode
// it suppresses the click's default action and propagation, highlights the
// target and reports it as ELEMENT_SELECTED. It runs on the document
// thread.
func (a *Agent) HandleClick(ev *document.Event) {
	if a.closed.Load() || !a.interactive.Load() {
		return
	}
	target := ev.Target
	if target == nil || target.Type != html.ElementNode || isOverlay(target) || isRootElement(target) {
		return
	}

	ev.PreventDefault()
	ev.StopPropagation()

	var root *html.Node
	for root = target; root.Parent != nil; root = root.Parent {
	}
	a.highlight(root, target)

	el := a.describe(target, classify.Classify(target))
	a.post(protocol.ElementSelected{Element: el})
}

// isRootElement reports the body and html elements, which are never
// selectable.
func isRootElement(n *html.Node) bool {
	return n.DataAtom == atom.Body || n.DataAtom == atom.Html
}

// Highlighted returns the selector of the highlighted node, or "".
func (a *Agent) Highlighted() string {
	var sel string
	a.doc.Do(func(*html.Node) {
		if a.highlighted != nil && document.HasClass(a.highlighted, HighlightClass) {
			sel = a.engine.For(a.highlighted)
		}
	})
	return sel
}
