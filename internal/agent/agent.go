// Package agent is the editor code that runs inside the target document.
//
// An Agent scans the document's render tree into editable elements,
// applies content mutations by selector, highlights elements and captures
// clicks as selections. It talks to the controller only through a
// channel.Port and never returns scan or mutation failures as errors:
// a mutation that cannot resolve its selector is reported as
// ELEMENT_UPDATED{success:false}.
//
// Initialization is idempotent and owned by the Agent value: Init posts
// READY exactly once, and the agent scans only when asked to with
// REQUEST_ELEMENTS.
package agent

import (
	"sync"
	"sync/atomic"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/channel"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/document"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/dom/selector"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/model"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
)

const (
	// HighlightClass marks the currently highlighted node.
	HighlightClass = "ve-editor-highlight"
	// OverlayClass marks editor-owned nodes that are never scanned or
	// selected.
	OverlayClass = "ve-editor-overlay"
	// StyleMarker identifies the style element the agent installs.
	StyleMarker = "ve-editor-style"
)

const highlightCSS = `.ve-editor-highlight {
  outline: 2px solid #3b82f6 !important;
  outline-offset: 2px !important;
  background-color: rgba(59, 130, 246, 0.1) !important;
}`

// Agent is the in-document editor.
type Agent struct {
	doc     *document.Document
	port    channel.Port
	budget  Budget
	engine  *selector.Engine
	policy  *bluemonday.Policy
	origins *protocol.AllowList
	log     *zap.Logger
	metrics *monitoring.Metrics

	initOnce    sync.Once
	initialized atomic.Bool
	interactive atomic.Bool
	closed      atomic.Bool

	mu       sync.Mutex
	elements []model.EditableElement

	// highlighted is only touched on the document thread.
	highlighted *html.Node
}

// Option configures an Agent.
type Option func(*Agent)

// WithBudget overrides DefaultBudget.
func WithBudget(b Budget) Option {
	return func(a *Agent) { a.budget = b.normalized() }
}

// WithSelectorEngine sets the engine used to name scanned nodes.
func WithSelectorEngine(e *selector.Engine) Option {
	return func(a *Agent) {
		if e != nil {
			a.engine = e
		}
	}
}

// WithInteractive sets whether clicks are captured as selections.
func WithInteractive(on bool) Option {
	return func(a *Agent) { a.interactive.Store(on) }
}

// WithAllowList makes the agent drop commands from origins outside list.
// Without it every command on the port is accepted.
func WithAllowList(list *protocol.AllowList) Option {
	return func(a *Agent) { a.origins = list }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) { a.log = logging.OrNop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// New creates an agent for doc that talks over port. The agent does
// nothing until Init.
func New(doc *document.Document, port channel.Port, opts ...Option) *Agent {
	a := &Agent{
		doc:    doc,
		port:   port,
		budget: DefaultBudget(),
		engine: selector.New(),
		policy: bluemonday.UGCPolicy(),
		log:    zap.NewNop(),
	}
	a.interactive.Store(true)
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.Named("agent")
	return a
}

// Init installs the agent into its document: it starts listening for
// commands, captures clicks, adds the highlight style and announces READY.
// Only the first call has any effect.
func (a *Agent) Init() {
	a.initOnce.Do(func() {
		a.port.Listen(a.receive)
		a.doc.Do(func(root *html.Node) {
			a.doc.AddEventListener("click", a.HandleClick, true)
			installStyle(root)
		})
		a.initialized.Store(true)
		a.log.Debug("Agent initialized", zap.String("origin", a.doc.Origin()))
		a.post(protocol.Ready{})
	})
}

// Initialized reports whether Init has run.
func (a *Agent) Initialized() bool { return a.initialized.Load() }

// Interactive reports whether clicks are captured.
func (a *Agent) Interactive() bool { return a.interactive.Load() }

// SetInteractive switches click capture on or off.
func (a *Agent) SetInteractive(on bool) { a.interactive.Store(on) }

// Elements returns a copy of the last scan result.
func (a *Agent) Elements() []model.EditableElement {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.EditableElement, len(a.elements))
	for i, el := range a.elements {
		out[i] = el.Clone()
	}
	return out
}

// Detach stops the agent from handling further commands and clicks.
func (a *Agent) Detach() { a.closed.Store(true) }

func (a *Agent) receive(env protocol.Envelope) {
	if a.closed.Load() {
		return
	}
	if a.origins != nil && !a.origins.Allowed(env.Origin) {
		a.log.Debug("Ignoring command from untrusted origin", zap.String("origin", env.Origin))
		return
	}
	cmd, ok := env.Message.(protocol.Command)
	if !ok {
		a.log.Debug("Ignoring non-command message", zap.String("type", string(env.Message.Type())))
		return
	}
	protocol.DispatchCommand(cmd, a)
}

// OnRequestElements rescans and reports.
func (a *Agent) OnRequestElements(m protocol.RequestElements) {
	elements := a.Scan()
	a.post(protocol.ElementsLoaded{Elements: elements, CorrelationID: m.CorrelationID})
}

// OnUpdateElement applies the mutation and reports its outcome.
func (a *Agent) OnUpdateElement(m protocol.UpdateElement) {
	ok := a.ApplyMutation(m.Selector, m.Content)
	a.post(protocol.ElementUpdated{Selector: m.Selector, Success: ok, CorrelationID: m.CorrelationID})
}

// OnHighlightElement marks the requested node.
func (a *Agent) OnHighlightElement(m protocol.HighlightElement) {
	a.Highlight(m.Selector)
}

func (a *Agent) post(m protocol.Message) {
	if err := a.port.Post(m); err != nil {
		a.log.Debug("Post failed", zap.String("type", string(m.Type())), zap.Error(err))
	}
}

func installStyle(root *html.Node) {
	head := findElement(root, atom.Head)
	if head == nil {
		return
	}
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && document.HasClass(c, StyleMarker) {
			return
		}
	}
	style := &html.Node{
		Type:     html.ElementNode,
		Data:     "style",
		DataAtom: atom.Style,
		Attr:     []html.Attribute{{Key: "class", Val: StyleMarker}},
	}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: highlightCSS})
	head.AppendChild(style)
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

var _ protocol.CommandHandler = (*Agent)(nil)
