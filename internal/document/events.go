package document

import (
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/dom/selector"
)

// Event is a dispatched DOM event.
type Event struct {
	Type             string
	Target           *html.Node
	DefaultPrevented bool
	// Navigation is the href followed by a click's default action, empty
	// when the default was prevented or there was no link.
	Navigation string

	stopped bool
}

// PreventDefault suppresses the default action.
func (e *Event) PreventDefault() { e.DefaultPrevented = true }

// StopPropagation ends dispatch after the current listener.
func (e *Event) StopPropagation() { e.stopped = true }

// Listener handles an event. It runs on the document thread.
type Listener func(*Event)

type docListener struct {
	fn      Listener
	capture bool
}

type listenerTable struct {
	document map[string][]docListener
	nodes    map[*html.Node]map[string][]Listener
}

// AddEventListener registers fn on the document itself. Capturing
// listeners run before any listener on the target path. Call inside Do.
func (d *Document) AddEventListener(typ string, fn Listener, capture bool) {
	if d.listeners.document == nil {
		d.listeners.document = make(map[string][]docListener)
	}
	d.listeners.document[typ] = append(d.listeners.document[typ], docListener{fn: fn, capture: capture})
}

// AddNodeListener registers fn on n. Call inside Do.
func (d *Document) AddNodeListener(n *html.Node, typ string, fn Listener) {
	if d.listeners.nodes == nil {
		d.listeners.nodes = make(map[*html.Node]map[string][]Listener)
	}
	byType := d.listeners.nodes[n]
	if byType == nil {
		byType = make(map[string][]Listener)
		d.listeners.nodes[n] = byType
	}
	byType[typ] = append(byType[typ], fn)
}

// Dispatch fires an event at target: document capture listeners, then the
// target and its ancestors, then document bubble listeners. Call inside Do.
func (d *Document) Dispatch(typ string, target *html.Node) *Event {
	ev := &Event{Type: typ, Target: target}

	for _, l := range d.listeners.document[typ] {
		if l.capture {
			l.fn(ev)
			if ev.stopped {
				return d.finish(ev)
			}
		}
	}
	for n := target; n != nil; n = n.Parent {
		for _, fn := range d.listeners.nodes[n][typ] {
			fn(ev)
		}
		if ev.stopped {
			return d.finish(ev)
		}
	}
	for _, l := range d.listeners.document[typ] {
		if !l.capture {
			l.fn(ev)
			if ev.stopped {
				break
			}
		}
	}
	return d.finish(ev)
}

func (d *Document) finish(ev *Event) *Event {
	if ev.Type != "click" || ev.DefaultPrevented {
		return ev
	}
	for n := ev.Target; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if href := selector.Attr(n, "href"); href != "" {
				if u, err := d.url.Parse(href); err == nil {
					ev.Navigation = u.String()
				} else {
					ev.Navigation = href
				}
			}
			break
		}
	}
	return ev
}

// Click resolves sel and dispatches a click on the first match, the way an
// operator pointing at the rendered page would.
func (d *Document) Click(sel string) (*Event, error) {
	var (
		ev  *Event
		err error
	)
	d.Do(func(root *html.Node) {
		var target *html.Node
		target, err = selector.Resolve(root, sel)
		if err != nil {
			return
		}
		ev = d.Dispatch("click", target)
	})
	if err != nil {
		return nil, fmt.Errorf("document: click %q: %w", sel, err)
	}
	return ev, nil
}
