package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/agent"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/bootstrap"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/channel"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/controller"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/document"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/shared/id"
)

// Mode selects where the target document is hosted.
type Mode string

const (
	// Local hosts a fetched copy of the target in-process.
	Local Mode = "local"
	// Browser hosts the target in a Chrome tab.
	Browser Mode = "browser"
	// Proxy serves the target, agent included, to the operator's browser.
	Proxy Mode = "proxy"
)

var (
	ErrNotFound    = errors.New("session: not found")
	ErrExists      = errors.New("session: page already has a session")
	ErrUnsupported = errors.New("session: operation not supported in this mode")
	ErrBadMode     = errors.New("session: unknown mode")
)

// ParseMode validates a mode name. Empty means Local.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return Local, nil
	case Local, Browser, Proxy:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrBadMode, s)
	}
}

// Info describes a session.
type Info struct {
	ID        id.SessionID `json:"id"`
	PageID    string       `json:"pageId"`
	URL       string       `json:"url"`
	Mode      Mode         `json:"mode"`
	Origin    string       `json:"origin,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	Injected  bool         `json:"injected"`
	Attached  bool         `json:"agentAttached"`
}

// Session is one editing session: a target document, its agent and the
// controller driving it.
type Session struct {
	info Info
	ctrl *controller.Controller
	bs   *bootstrap.Bootstrapper

	// Local
	doc   *document.Document
	agent *agent.Agent

	// Proxy
	relay  *channel.Relay
	served *servedTarget

	target bootstrap.Target

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	readiness *bootstrap.Readiness
	closers   []func() error
	closed    bool

	subMu  sync.RWMutex
	subs   map[int]func(controller.Event)
	nextID int
}

func newSession(info Info) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{info: info, ctx: ctx, cancel: cancel, subs: make(map[int]func(controller.Event))}
}

// ID returns the session id.
func (s *Session) ID() id.SessionID { return s.info.ID }

// Controller returns the session's controller.
func (s *Session) Controller() *controller.Controller { return s.ctrl }

// Info returns a description of the session.
func (s *Session) Info() Info {
	info := s.info
	s.mu.Lock()
	if s.readiness != nil {
		info.Injected = s.readiness.Injected()
	}
	s.mu.Unlock()
	if s.relay != nil {
		info.Attached = s.relay.Attached()
	} else {
		info.Attached = info.Injected
	}
	return info
}

// Readiness returns the current injection attempt, or nil before one.
func (s *Session) Readiness() *bootstrap.Readiness {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readiness
}

// Subscribe registers fn for controller events and returns its
// cancellation. fn runs on the goroutine that changed the state.
func (s *Session) Subscribe(fn func(controller.Event)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	key := s.nextID
	s.nextID++
	s.subs[key] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, key)
	}
}

func (s *Session) publish(ev controller.Event) {
	s.subMu.RLock()
	fns := make([]func(controller.Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// SetPreview switches the controller and, when hosted in-process, the
// agent's click capture.
func (s *Session) SetPreview(on bool) {
	s.ctrl.SetPreview(on)
	if s.agent != nil {
		s.agent.SetInteractive(!on)
	}
}

// Click dispatches a click on the hosted document, as if the operator
// pointed at the element matching sel. Only local sessions have a
// document to click.
func (s *Session) Click(sel string) (bool, error) {
	if s.doc == nil {
		return false, ErrUnsupported
	}
	ev, err := s.doc.Click(sel)
	if err != nil {
		return false, err
	}
	return ev.DefaultPrevented, nil
}

// Render serializes the hosted document as it stands after edits.
func (s *Session) Render() (string, error) {
	if s.doc == nil {
		return "", ErrUnsupported
	}
	return s.doc.Render()
}

// AttachAgent connects a browser-hosted agent to a proxy session. A
// previous agent connection is closed.
func (s *Session) AttachAgent(p channel.Port) error {
	if s.relay == nil {
		return ErrUnsupported
	}
	return s.relay.Attach(p)
}

// DetachAgent drops p if it is still the attached agent.
func (s *Session) DetachAgent(p channel.Port) {
	if s.relay != nil {
		s.relay.Detach(p)
	}
}

// Served restarts the injection schedule of a proxy session. The proxy
// calls it each time it hands the page out, since every load brings up a
// fresh agent.
func (s *Session) Served() error {
	if s.served == nil {
		return ErrUnsupported
	}
	s.bs.Forget(s.served)
	s.inject()
	return nil
}

func (s *Session) inject() {
	r := s.bs.Inject(s.ctx, s.target, s.ctrl)
	s.mu.Lock()
	s.readiness = r
	s.mu.Unlock()
}

func (s *Session) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close tears the session down. It is safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	s.cancel()
	if s.target != nil {
		s.bs.Forget(s.target)
	}
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// servedTarget stands for a page handed out by the proxy. The agent is in
// the page already, so injecting is a no-op; the bootstrapper only runs
// the probe schedule.
type servedTarget struct{}

func (*servedTarget) ReadyState() (document.ReadyState, error) { return document.Complete, nil }
func (*servedTarget) OnLoad(fn func())                         { fn() }
func (*servedTarget) Inject(context.Context) error             { return nil }
