package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/agent"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/bootstrap"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/channel"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/document"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/proxy"
)

// BindingName is the page function the agent sends frames through.
const BindingName = "__veBinding"

const (
	startJS   = `() => window.__visualEditAgent.start({ send: (m) => window.` + BindingName + `(m) })`
	receiveJS = `(m) => window.__visualEditAgent && window.__visualEditAgent.receive(m)`
	originJS  = `() => location.origin`
	readyJS   = `() => document.readyState`
)

// Tab is one browser page the agent can be injected into.
type Tab struct {
	page *rod.Page
	log  *zap.Logger
	port *channel.Binding

	// Budget and Interactive are handed to the agent on Inject.
	Budget      agent.Budget
	Interactive bool

	listenOnce sync.Once
	stop       context.CancelFunc
}

func newTab(page *rod.Page, log *zap.Logger) *Tab {
	t := &Tab{page: page, log: log.Named("tab"), Budget: agent.DefaultBudget(), Interactive: true}
	t.port = channel.NewBinding("", t.send, log)
	return t
}

// Port is the controller's end of the agent channel.
func (t *Tab) Port() channel.Port { return t.port }

// Origin is the origin of the document the agent was injected into.
func (t *Tab) Origin() string { return t.port.Origin() }

// ReadyState reads document.readyState. The automation side is never
// subject to the same-origin policy.
func (t *Tab) ReadyState() (document.ReadyState, error) {
	res, err := t.page.Eval(readyJS)
	if err != nil {
		return "", fmt.Errorf("browser: read readiness: %w", err)
	}
	return document.ReadyState(res.Value.Str()), nil
}

// OnLoad runs fn once the page's load event has fired.
func (t *Tab) OnLoad(fn func()) {
	go func() {
		if err := t.page.WaitLoad(); err != nil {
			t.log.Warn("Waiting for load failed", zap.Error(err))
			return
		}
		fn()
	}()
}

// Inject installs the browser agent and starts it on the binding.
func (t *Tab) Inject(ctx context.Context) error {
	page := t.page.Context(ctx)

	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(page); err != nil {
		return fmt.Errorf("browser: add binding: %w", err)
	}
	t.listenOnce.Do(t.listen)

	if res, err := page.Eval(originJS); err == nil {
		t.port.SetOrigin(res.Value.Str())
	}

	cfg, err := proxy.ConfigScript(proxy.Options{Budget: t.Budget, Interactive: t.Interactive})
	if err != nil {
		return err
	}
	if _, err := page.Eval(asFunc(cfg)); err != nil {
		return fmt.Errorf("browser: install agent config: %w", err)
	}
	if _, err := page.Eval(asFunc(string(proxy.Script()))); err != nil {
		return fmt.Errorf("browser: install agent: %w", err)
	}
	if _, err := page.Eval(startJS); err != nil {
		return fmt.Errorf("browser: start agent: %w", err)
	}
	t.log.Debug("Agent injected", zap.String("origin", t.port.Origin()))
	return nil
}

// asFunc wraps statements in the function form Eval expects.
func asFunc(src string) string { return "() => {\n" + src + "\n}" }

func (t *Tab) listen() {
	ctx, cancel := context.WithCancel(context.Background())
	t.stop = cancel
	wait := t.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == BindingName {
			t.port.Receive([]byte(e.Payload))
		}
	})
	go wait()
}

func (t *Tab) send(data []byte) error {
	_, err := t.page.Eval(receiveJS, string(data))
	return err
}

// Close closes the page and its channel.
func (t *Tab) Close() error {
	if t.stop != nil {
		t.stop()
	}
	_ = t.port.Close()
	return t.page.Close()
}

var _ bootstrap.Target = (*Tab)(nil)
