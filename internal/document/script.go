package document

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/dom/selector"
)

// ScriptConfig bounds page script execution.
type ScriptConfig struct {
	Enabled      bool          // Run inline scripts on Load
	Timeout      time.Duration // Per-script execution timeout
	MaxCallStack int           // goja call stack ceiling
}

// DefaultScriptConfig returns the limits used when none are configured.
func DefaultScriptConfig() ScriptConfig {
	return ScriptConfig{
		Enabled:      true,
		Timeout:      5 * time.Second,
		MaxCallStack: 1024,
	}
}

// scriptHost is the goja runtime a page's scripts see. Every method runs on
// the document thread.
type scriptHost struct {
	doc   *Document
	vm    *goja.Runtime
	objs  map[*html.Node]*goja.Object
	nodes map[*goja.Object]*html.Node
}

func (d *Document) runScripts(ctx context.Context) error {
	if !d.config.Enabled {
		return nil
	}
	scripts := inlineScripts(d.root)
	if len(scripts) == 0 {
		return nil
	}
	if d.host == nil {
		d.host = newScriptHost(d)
	}

	for i, src := range scripts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.host.run(ctx, src); err != nil {
			// A failing page script does not stop the page from loading.
			d.log.Debug("Page script failed", zap.Int("script", i), zap.Error(err))
		}
	}
	return nil
}

func inlineScripts(root *html.Node) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script {
			if selector.Attr(n, "src") == "" && isClassicScript(selector.Attr(n, "type")) {
				if src := strings.TrimSpace(TextContent(n)); src != "" {
					out = append(out, src)
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func isClassicScript(typ string) bool {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", "text/javascript", "application/javascript":
		return true
	}
	return false
}

func newScriptHost(d *Document) *scriptHost {
	h := &scriptHost{
		doc:   d,
		vm:    goja.New(),
		objs:  make(map[*html.Node]*goja.Object),
		nodes: make(map[*goja.Object]*html.Node),
	}
	if d.config.MaxCallStack > 0 {
		h.vm.SetMaxCallStackSize(d.config.MaxCallStack)
	}
	h.setupGlobals()
	return h
}

// run executes one script with the configured timeout.
func (h *scriptHost) run(ctx context.Context, src string) error {
	timeout := h.doc.config.Timeout
	if timeout <= 0 {
		timeout = DefaultScriptConfig().Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	finished := make(chan struct{})
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		select {
		case <-timer.C:
			h.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			h.vm.Interrupt("context cancelled")
		case <-finished:
		}
	}()

	_, err := h.vm.RunString(src)
	close(finished)
	<-watcher
	h.vm.ClearInterrupt()
	return err
}

func (h *scriptHost) setupGlobals() {
	vm := h.vm
	_ = vm.Set("require", goja.Undefined())
	_ = vm.Set("process", goja.Undefined())
	_ = vm.Set("module", goja.Undefined())
	_ = vm.Set("exports", goja.Undefined())

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		_ = console.Set(level, h.consoleFunc(level))
	}
	_ = vm.Set("console", console)

	_ = vm.Set("setTimeout", h.setTimeout)
	_ = vm.Set("clearTimeout", h.clearTimeout)
	_ = vm.Set("setInterval", func(goja.FunctionCall) goja.Value { return goja.Undefined() })

	doc := vm.NewObject()
	_ = doc.Set("querySelector", func(sel string) goja.Value {
		return h.wrapOrNull(h.queryFirst(h.doc.root, sel))
	})
	_ = doc.Set("querySelectorAll", func(sel string) goja.Value {
		return h.wrapAll(h.queryAll(h.doc.root, sel))
	})
	_ = doc.Set("getElementById", func(id string) goja.Value {
		return h.wrapOrNull(h.queryFirst(h.doc.root, "#"+selector.EscapeIdent(id)))
	})
	_ = doc.Set("createElement", func(tag string) goja.Value {
		tag = strings.ToLower(tag)
		return h.wrap(&html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))})
	})
	_ = doc.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
			h.doc.AddEventListener(typ, h.jsListener(fn), call.Argument(2).ToBoolean())
		}
		return goja.Undefined()
	})
	h.accessor(doc, "body", func() goja.Value { return h.wrapOrNull(Body(h.doc.root)) }, nil)
	h.accessor(doc, "readyState", func() goja.Value { return vm.ToValue(string(h.doc.ReadyState())) }, nil)
	h.accessor(doc, "title",
		func() goja.Value { return vm.ToValue(strings.TrimSpace(TextContent(findAtom(h.doc.root, atom.Title)))) },
		func(v goja.Value) {
			if t := findAtom(h.doc.root, atom.Title); t != nil {
				SetTextContent(t, v.String())
			}
		})
	_ = vm.Set("document", doc)
}

func (h *scriptHost) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		h.doc.log.Debug("Page console",
			zap.String("level", level),
			zap.String("message", strings.Join(parts, " ")))
		return goja.Undefined()
	}
}

// setTimeout schedules fn on the document clock. Callbacks run on the
// document thread, after the caller that scheduled them has returned.
func (h *scriptHost) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return goja.Undefined()
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}

	d := h.doc
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if d.closed {
		return goja.Undefined()
	}
	d.nextTimerID++
	id := d.nextTimerID
	d.timers[id] = d.clock.AfterFunc(delay, func() {
		d.stateMu.Lock()
		_, live := d.timers[id]
		delete(d.timers, id)
		d.stateMu.Unlock()
		if !live {
			return
		}
		d.Do(func(*html.Node) {
			if _, err := fn(goja.Undefined()); err != nil {
				d.log.Debug("Timer callback failed", zap.Int("timer", id), zap.Error(err))
			}
		})
	})
	return h.vm.ToValue(id)
}

func (h *scriptHost) clearTimeout(call goja.FunctionCall) goja.Value {
	id := int(call.Argument(0).ToInteger())
	d := h.doc
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if t, ok := d.timers[id]; ok {
		t.Stop()
		delete(d.timers, id)
	}
	return goja.Undefined()
}

func (h *scriptHost) jsListener(fn goja.Callable) Listener {
	return func(ev *Event) {
		obj := h.vm.NewObject()
		_ = obj.Set("type", ev.Type)
		_ = obj.Set("target", h.wrapOrNull(ev.Target))
		_ = obj.Set("preventDefault", func() { ev.PreventDefault() })
		_ = obj.Set("stopPropagation", func() { ev.StopPropagation() })
		if _, err := fn(goja.Undefined(), obj); err != nil {
			h.doc.log.Debug("Event listener failed", zap.String("event", ev.Type), zap.Error(err))
		}
	}
}

func (h *scriptHost) queryFirst(root *html.Node, sel string) *html.Node {
	n, err := selector.Resolve(root, sel)
	if err != nil {
		return nil
	}
	return n
}

func (h *scriptHost) queryAll(root *html.Node, sel string) []*html.Node {
	compiled, err := cascadia.Compile(sel)
	if err != nil {
		panic(h.vm.NewTypeError(fmt.Sprintf("'%s' is not a valid selector", sel)))
	}
	return compiled.MatchAll(root)
}

func (h *scriptHost) wrapOrNull(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	return h.wrap(n)
}

func (h *scriptHost) wrapAll(ns []*html.Node) goja.Value {
	vals := make([]interface{}, len(ns))
	for i, n := range ns {
		vals[i] = h.wrap(n)
	}
	return h.vm.NewArray(vals...)
}

func (h *scriptHost) unwrap(v goja.Value) *html.Node {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return h.nodes[v.ToObject(h.vm)]
}

func (h *scriptHost) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getter := h.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	var setter goja.Value
	if set != nil {
		setter = h.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	_ = obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

// wrap returns the element proxy for n, creating it once so that identity
// comparisons in scripts hold.
func (h *scriptHost) wrap(n *html.Node) *goja.Object {
	if obj, ok := h.objs[n]; ok {
		return obj
	}
	vm := h.vm
	obj := vm.NewObject()
	h.objs[n] = obj
	h.nodes[obj] = n

	_ = obj.Set("tagName", strings.ToUpper(n.Data))
	h.accessor(obj, "id",
		func() goja.Value { return vm.ToValue(selector.Attr(n, "id")) },
		func(v goja.Value) { SetAttr(n, "id", v.String()) })
	h.accessor(obj, "className",
		func() goja.Value { return vm.ToValue(selector.Attr(n, "class")) },
		func(v goja.Value) { SetAttr(n, "class", v.String()) })
	text := func() goja.Value { return vm.ToValue(TextContent(n)) }
	setText := func(v goja.Value) { SetTextContent(n, v.String()) }
	h.accessor(obj, "textContent", text, setText)
	h.accessor(obj, "innerText", text, setText)
	h.accessor(obj, "parentElement", func() goja.Value {
		if n.Parent != nil && n.Parent.Type == html.ElementNode {
			return h.wrap(n.Parent)
		}
		return goja.Null()
	}, nil)

	_ = obj.Set("getAttribute", func(name string) goja.Value {
		for _, a := range n.Attr {
			if a.Key == name {
				return vm.ToValue(a.Val)
			}
		}
		return goja.Null()
	})
	_ = obj.Set("setAttribute", func(name, value string) { SetAttr(n, strings.ToLower(name), value) })
	_ = obj.Set("removeAttribute", func(name string) { RemoveAttr(n, strings.ToLower(name)) })
	_ = obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		child := h.unwrap(call.Argument(0))
		if child == nil {
			panic(vm.NewTypeError("appendChild: argument is not a node"))
		}
		if child.Parent != nil {
			child.Parent.RemoveChild(child)
		}
		n.AppendChild(child)
		return call.Argument(0)
	})
	_ = obj.Set("remove", func() {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	})
	_ = obj.Set("querySelector", func(sel string) goja.Value { return h.wrapOrNull(h.queryFirst(n, sel)) })
	_ = obj.Set("querySelectorAll", func(sel string) goja.Value { return h.wrapAll(h.queryAll(n, sel)) })
	_ = obj.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
			h.doc.AddNodeListener(n, call.Argument(0).String(), h.jsListener(fn))
		}
		return goja.Undefined()
	})

	classList := vm.NewObject()
	_ = classList.Set("add", func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			AddClass(n, arg.String())
		}
		return goja.Undefined()
	})
	_ = classList.Set("remove", func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			RemoveClass(n, arg.String())
		}
		return goja.Undefined()
	})
	_ = classList.Set("contains", func(c string) bool { return HasClass(n, c) })
	_ = obj.Set("classList", classList)

	return obj
}
