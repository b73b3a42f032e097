// Package session turns a page id and a target URL into a wired editing
// session: a hosted document, an agent injected into it, and a controller
// talking to that agent.
package session

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/agent"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/bootstrap"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/browser"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/channel"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/controller"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/document"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/dom/selector"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/edits"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/fetch"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/shared/clock"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/shared/id"
)

// Fetcher retrieves target documents for local sessions.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Page, error)
}

// BrowserHost opens Chrome tabs for browser sessions.
type BrowserHost interface {
	Open(ctx context.Context, rawURL string) (*browser.Tab, error)
}

// Config holds the settings every session is created with.
type Config struct {
	// Origins are trusted in addition to each session's own target and
	// controller origins.
	Origins []string
	// ControllerOrigin is the origin the controller side posts from, e.g.
	// the server's public URL.
	ControllerOrigin     string
	Budget               agent.Budget
	Interactive          bool
	DisambiguateSiblings bool
	Scripts              document.ScriptConfig
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Origins:          protocol.DefaultTrustedOrigins,
		ControllerOrigin: "http://localhost:8000",
		Budget:           agent.DefaultBudget(),
		Interactive:      true,
		Scripts:          document.DefaultScriptConfig(),
	}
}

// Manager owns the live sessions.
type Manager struct {
	cfg          Config
	bootstrapper *bootstrap.Bootstrapper
	fetcher      Fetcher
	browser      BrowserHost
	syncer       edits.Syncer
	clock        clock.Clock
	log          *zap.Logger
	metrics      *monitoring.Metrics

	sessions sync.Map // id.SessionID -> *Session
	mu       sync.Mutex
	pages    map[string]id.SessionID
}

// Option configures a Manager.
type Option func(*Manager)

// WithFetcher enables local sessions.
func WithFetcher(f Fetcher) Option { return func(m *Manager) { m.fetcher = f } }

// WithBrowser enables browser sessions.
func WithBrowser(b BrowserHost) Option { return func(m *Manager) { m.browser = b } }

// WithSyncer sets the persistence collaborator handed to controllers.
func WithSyncer(s edits.Syncer) Option { return func(m *Manager) { m.syncer = s } }

// WithClock sets the clock for controllers and documents.
func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = logging.OrNop(l) } }

// WithMetrics sets the metrics sink.
func WithMetrics(mt *monitoring.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// NewManager creates a Manager. Sessions share bs.
func NewManager(cfg Config, bs *bootstrap.Bootstrapper, opts ...Option) *Manager {
	m := &Manager{
		cfg:          cfg,
		bootstrapper: bs,
		clock:        clock.Real(),
		log:          zap.NewNop(),
		pages:        make(map[string]id.SessionID),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.Named("session")
	return m
}

// Create starts a session for pageID hosted according to mode. A page has
// at most one live session.
func (m *Manager) Create(ctx context.Context, pageID, rawURL string, mode Mode) (*Session, error) {
	if pageID == "" {
		pageID = rawURL
	}
	target, err := fetch.ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.pages[pageID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (%s)", ErrExists, pageID, existing)
	}
	sid := id.NewSessionID()
	m.pages[pageID] = sid
	m.mu.Unlock()

	s := newSession(Info{
		ID:        sid,
		PageID:    pageID,
		URL:       target.String(),
		Mode:      mode,
		CreatedAt: m.clock.Now(),
	})
	s.bs = m.bootstrapper

	switch mode {
	case Local:
		err = m.startLocal(ctx, s)
	case Browser:
		err = m.startBrowser(ctx, s)
	case Proxy:
		err = m.startProxy(s)
	default:
		err = fmt.Errorf("%w: %q", ErrBadMode, mode)
	}
	if err != nil {
		_ = s.Close()
		m.mu.Lock()
		delete(m.pages, pageID)
		m.mu.Unlock()
		return nil, err
	}

	m.sessions.Store(sid, s)
	m.updateActive()
	m.log.Info("Session created",
		zap.String("session", sid.String()),
		zap.String("page", pageID),
		zap.String("url", s.info.URL),
		zap.String("mode", string(mode)))
	return s, nil
}

func (m *Manager) newController(s *Session, port channel.Port, trusted ...string) *controller.Controller {
	origins := append(append([]string{}, m.cfg.Origins...), trusted...)
	opts := []controller.Option{
		controller.WithAllowList(protocol.NewAllowList(origins...)),
		controller.WithPageID(s.info.PageID),
		controller.WithObserver(s.publish),
		controller.WithClock(m.clock),
		controller.WithLogger(m.log),
		controller.WithMetrics(m.metrics),
	}
	if m.syncer != nil {
		opts = append(opts, controller.WithSyncer(m.syncer))
	}
	if !m.cfg.Interactive {
		opts = append(opts, controller.WithMode(controller.ReadOnly))
	}
	return controller.New(port, opts...)
}

func (m *Manager) startLocal(ctx context.Context, s *Session) error {
	if m.fetcher == nil {
		return fmt.Errorf("%w: no fetcher for local sessions", ErrUnsupported)
	}
	page, err := m.fetcher.Fetch(ctx, s.info.URL)
	if err != nil {
		return err
	}
	doc, err := document.Parse(bytes.NewReader(page.Body), page.URL,
		document.WithClock(m.clock),
		document.WithLogger(m.log),
		document.WithScriptConfig(m.cfg.Scripts))
	if err != nil {
		return err
	}
	s.doc = doc
	s.info.URL = page.URL
	s.info.Origin = doc.Origin()
	s.onClose(func() error { doc.Close(); return nil })

	ctlEnd, docEnd := channel.NewPipe(m.cfg.ControllerOrigin, doc.Origin(), m.log)
	s.onClose(ctlEnd.Close)
	s.onClose(docEnd.Close)

	s.agent = agent.New(doc, docEnd,
		agent.WithBudget(m.cfg.Budget),
		agent.WithSelectorEngine(selector.New(selector.WithSiblingDisambiguation(m.cfg.DisambiguateSiblings))),
		agent.WithInteractive(m.cfg.Interactive),
		agent.WithAllowList(protocol.NewAllowList(append(append([]string{}, m.cfg.Origins...), m.cfg.ControllerOrigin)...)),
		agent.WithLogger(m.log),
		agent.WithMetrics(m.metrics))
	s.onClose(func() error { s.agent.Detach(); return nil })

	s.ctrl = m.newController(s, ctlEnd, doc.Origin())
	s.target = bootstrap.NewFrameTarget(document.NewFrame(doc, m.cfg.ControllerOrigin), s.agent)
	s.inject()

	go func() {
		if err := doc.Load(s.ctx); err != nil {
			m.log.Warn("Target document failed to load",
				zap.String("session", s.info.ID.String()), zap.Error(err))
		}
	}()
	return nil
}

func (m *Manager) startBrowser(ctx context.Context, s *Session) error {
	if m.browser == nil {
		return fmt.Errorf("%w: browser hosting is disabled", ErrUnsupported)
	}
	tab, err := m.browser.Open(ctx, s.info.URL)
	if err != nil {
		return err
	}
	tab.Budget = m.cfg.Budget
	tab.Interactive = m.cfg.Interactive
	s.onClose(tab.Close)

	u, _ := url.Parse(s.info.URL)
	s.info.Origin = document.OriginOf(u)
	s.ctrl = m.newController(s, tab.Port(), s.info.Origin)
	s.target = tab
	s.inject()
	return nil
}

func (m *Manager) startProxy(s *Session) error {
	s.relay = channel.NewRelay()
	s.onClose(s.relay.Close)
	s.served = &servedTarget{}
	s.target = s.served
	s.info.Origin = m.cfg.ControllerOrigin
	s.ctrl = m.newController(s, s.relay, m.cfg.ControllerOrigin)
	return nil
}

// Get returns a live session.
func (m *Manager) Get(sid id.SessionID) (*Session, error) {
	v, ok := m.sessions.Load(sid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sid)
	}
	return v.(*Session), nil
}

// List returns every live session, oldest first.
func (m *Manager) List() []*Session {
	var out []*Session
	m.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*Session))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].info.ID < out[j].info.ID })
	return out
}

// Close ends a session.
func (m *Manager) Close(sid id.SessionID) error {
	v, ok := m.sessions.LoadAndDelete(sid)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sid)
	}
	s := v.(*Session)
	m.mu.Lock()
	delete(m.pages, s.info.PageID)
	m.mu.Unlock()
	m.updateActive()

	m.log.Info("Session closed", zap.String("session", sid.String()))
	return s.Close()
}

// CloseAll ends every session, waiting at most until ctx is done.
func (m *Manager) CloseAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, s := range m.List() {
			if err := m.Close(s.ID()); err != nil {
				m.log.Warn("Closing session failed", zap.String("session", s.ID().String()), zap.Error(err))
			}
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (m *Manager) updateActive() {
	n := 0
	m.sessions.Range(func(_, _ any) bool { n++; return true })
	m.metrics.SetSessionsActive(n)
}

// Wait blocks until the session's injection attempt resolves or d
// elapses. It reports whether the agent was injected.
func Wait(s *Session, d time.Duration) bool {
	r := s.Readiness()
	if r == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		return false
	}
	return r.Injected()
}
