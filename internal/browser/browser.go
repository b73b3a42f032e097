// Package browser hosts target documents in a real Chrome instance driven
// over the DevTools protocol. A Tab is an injection target whose agent talks
// to the controller through a page binding instead of a websocket.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
)

// DefaultNavigateTimeout bounds Open's navigation.
const DefaultNavigateTimeout = 30 * time.Second

var ErrClosed = errors.New("browser: manager is closed")

// Config configures the Chrome connection.
type Config struct {
	// ControlURL is the DevTools websocket of an already running Chrome.
	// Empty launches a local headless instance.
	ControlURL      string
	Headless        bool
	NavigateTimeout time.Duration
}

// Manager owns one Chrome connection.
type Manager struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager creates a Manager. Chrome starts on first use.
func NewManager(cfg Config, log *zap.Logger) *Manager {
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = DefaultNavigateTimeout
	}
	return &Manager{cfg: cfg, log: logging.OrNop(log).Named("browser")}
}

// Available reports whether a Chrome binary or remote endpoint is usable.
func Available(cfg Config) bool {
	if cfg.ControlURL != "" {
		return true
	}
	_, ok := launcher.LookPath()
	return ok
}

func (m *Manager) connect() (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.browser != nil {
		return m.browser, nil
	}

	wsURL := m.cfg.ControlURL
	if wsURL == "" {
		l := launcher.New().Headless(m.cfg.Headless)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		m.log.Info("Launched local chrome", zap.String("url", wsURL))
	} else {
		m.log.Info("Connecting to remote chrome", zap.String("url", wsURL))
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if m.lnch != nil {
			m.lnch.Cleanup()
			m.lnch = nil
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	m.browser = b
	return b, nil
}

// Open creates a tab showing rawURL. It returns once navigation has been
// committed; the load may still be in flight.
func (m *Manager) Open(ctx context.Context, rawURL string) (*Tab, error) {
	b, err := m.connect()
	if err != nil {
		return nil, err
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(rawURL); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", rawURL, err)
	}
	return newTab(page, m.log), nil
}

// Close shuts Chrome down. Open tabs die with it.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return err
}
