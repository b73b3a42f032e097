// Package document hosts a target document: its render tree, readiness
// state, load signal, page scripts and event dispatch.
//
// A Document behaves like a single-threaded browser document. All access
// to the tree goes through Do, which serializes callers the way a page's
// main thread would. Event listeners and script callbacks already run
// inside Do and must not call it again.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/shared/clock"
)

var (
	// ErrAccessDenied is returned when a cross-origin embedder reads state it
	// may not observe.
	ErrAccessDenied = errors.New("document: cross-origin access denied")
	ErrClosed       = errors.New("document: closed")
	ErrNoBody       = errors.New("document: no body element")
)

// ReadyState mirrors document.readyState.
type ReadyState string

const (
	Loading     ReadyState = "loading"
	Interactive ReadyState = "interactive"
	Complete    ReadyState = "complete"
)

// Document is a parsed target document.
type Document struct {
	url    *url.URL
	clock  clock.Clock
	log    *zap.Logger
	config ScriptConfig

	// mu is the document thread. It guards root, listeners and the script
	// host.
	mu        sync.Mutex
	root      *html.Node
	listeners listenerTable
	host      *scriptHost

	stateMu     sync.Mutex
	state       ReadyState
	loadFns     []func()
	timers      map[int]clock.Timer
	nextTimerID int
	closed      bool
}

// Option configures a Document.
type Option func(*Document)

// WithClock sets the clock driving script timers.
func WithClock(c clock.Clock) Option {
	return func(d *Document) { d.clock = c }
}

// WithLogger sets the logger. Page console output is logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(d *Document) { d.log = logging.OrNop(l) }
}

// WithScriptConfig overrides the page script limits.
func WithScriptConfig(cfg ScriptConfig) Option {
	return func(d *Document) { d.config = cfg }
}

// Parse reads an HTML document served from rawURL.
func Parse(r io.Reader, rawURL string, opts ...Option) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("document: parse url: %w", err)
	}
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("document: parse html: %w", err)
	}

	d := &Document{
		url:    u,
		clock:  clock.Real(),
		log:    zap.NewNop(),
		config: DefaultScriptConfig(),
		root:   root,
		state:  Loading,
		timers: make(map[int]clock.Timer),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.Named("document").With(zap.String("url", u.String()))
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s, rawURL string, opts ...Option) (*Document, error) {
	return Parse(bytes.NewBufferString(s), rawURL, opts...)
}

// URL returns the document address.
func (d *Document) URL() *url.URL { return d.url }

// Origin returns scheme://host of the document.
func (d *Document) Origin() string { return OriginOf(d.url) }

// OriginOf formats the origin of u, or "null" for opaque addresses.
func OriginOf(u *url.URL) string {
	if u == nil || u.Scheme == "" || u.Host == "" {
		return "null"
	}
	return u.Scheme + "://" + u.Host
}

// ReadyState returns the current readiness.
func (d *Document) ReadyState() ReadyState {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.state
}

// OnLoad registers fn for the next load signal. Like a load event listener
// it never fires for a load that already happened.
func (d *Document) OnLoad(fn func()) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.loadFns = append(d.loadFns, fn)
}

// Do runs fn with exclusive access to the tree.
func (d *Document) Do(fn func(root *html.Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.root)
}

// Load runs the page's inline scripts, marks the document complete and
// fires the load signal. Loading twice is a no-op.
func (d *Document) Load(ctx context.Context) error {
	d.stateMu.Lock()
	if d.closed {
		d.stateMu.Unlock()
		return ErrClosed
	}
	if d.state != Loading {
		d.stateMu.Unlock()
		return nil
	}
	d.state = Interactive
	d.stateMu.Unlock()

	d.mu.Lock()
	err := d.runScripts(ctx)
	d.mu.Unlock()
	if err != nil {
		return err
	}

	d.stateMu.Lock()
	d.state = Complete
	fns := d.loadFns
	d.loadFns = nil
	d.stateMu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

// Close discards pending script timers and refuses further loads.
func (d *Document) Close() {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
	d.loadFns = nil
}

// Body returns the body element. Call inside Do.
func Body(root *html.Node) *html.Node {
	return findAtom(root, atom.Body)
}

// Render serializes the whole tree.
func (d *Document) Render() (string, error) {
	var buf bytes.Buffer
	var err error
	d.Do(func(root *html.Node) {
		err = html.Render(&buf, root)
	})
	return buf.String(), err
}

func findAtom(n *html.Node, a atom.Atom) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findAtom(c, a); found != nil {
			return found
		}
	}
	return nil
}

// TextContent concatenates every descendant text node, untrimmed, like
// Node.textContent.
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var buf bytes.Buffer
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				buf.WriteString(c.Data)
			}
			walk(c)
		}
	}
	walk(n)
	return buf.String()
}

// SetTextContent replaces every child of n with a single text node.
func SetTextContent(n *html.Node, s string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	if s != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
	}
}

// SetAttr sets or adds attribute key on n.
func SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr drops attribute key from n.
func RemoveAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}
