package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/bootstrap"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/browser"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/channel"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/controller"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/fetch"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/model"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
)

const target = `<!doctype html><html><head><title>Landing</title></head><body>
<h1 id="title">Hello</h1>
<section class="hero"><p class="lead">Welcome aboard</p></section>
</body></html>`

var _ BrowserHost = (*browser.Manager)(nil)

type pageFetcher struct{ body string }

func (f pageFetcher) Fetch(_ context.Context, rawURL string) (*fetch.Page, error) {
	return &fetch.Page{URL: rawURL, Status: 200, Body: []byte(f.body)}, nil
}

type syncRecorder struct {
	mu      sync.Mutex
	pageID  string
	records []model.EditRecord
}

func (s *syncRecorder) SyncEdits(_ context.Context, pageID string, records []model.EditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageID, s.records = pageID, records
	return nil
}

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	bs := bootstrap.New(bootstrap.Config{ProbeDelays: []time.Duration{200 * time.Millisecond}})
	opts = append([]Option{WithFetcher(pageFetcher{body: target})}, opts...)
	m := NewManager(DefaultConfig(), bs, opts...)
	t.Cleanup(func() { m.CloseAll(context.Background()) })
	return m
}

func waitLoaded(t *testing.T, c *controller.Controller) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Snapshot().State == controller.Idle },
		2*time.Second, 10*time.Millisecond)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": Local, "local": Local, "browser": Browser, "proxy": Proxy} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("iframe")
	assert.ErrorIs(t, err, ErrBadMode)
}

func TestLocalSessionEndToEnd(t *testing.T) {
	rec := &syncRecorder{}
	m := newManager(t, WithSyncer(rec))

	s, err := m.Create(context.Background(), "landing", "https://site.example/", Local)
	require.NoError(t, err)
	assert.True(t, Wait(s, 2*time.Second), "agent injected after load")
	assert.Equal(t, "https://site.example", s.Info().Origin)

	ctrl := s.Controller()
	waitLoaded(t, ctrl)

	snap := ctrl.Snapshot()
	require.NotEmpty(t, snap.Elements)
	var heading model.EditableElement
	for _, el := range snap.Elements {
		if el.Selector == "#title" {
			heading = el
		}
	}
	require.Equal(t, model.TypeHeading, heading.Type)

	require.NoError(t, ctrl.Select(heading.ID))
	require.NoError(t, ctrl.SetValue("Goodbye"))
	_, err = ctrl.Apply()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(ctrl.Edits()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.EditRecord{Selector: "#title", Content: "Goodbye", Type: model.TypeHeading}, ctrl.Edits()[0])

	html, err := s.Render()
	require.NoError(t, err)
	assert.Contains(t, html, "Goodbye")
	assert.NotContains(t, html, ">Hello<")

	n, err := ctrl.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "landing", rec.pageID)
}

func TestLocalClickSelects(t *testing.T) {
	m := newManager(t)
	s, err := m.Create(context.Background(), "", "https://site.example/", Local)
	require.NoError(t, err)
	waitLoaded(t, s.Controller())

	var (
		mu     sync.Mutex
		events []controller.Event
	)
	cancel := s.Subscribe(func(ev controller.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	defer cancel()

	captured, err := s.Click("p.lead")
	require.NoError(t, err)
	assert.True(t, captured)

	require.Eventually(t, func() bool {
		sel := s.Controller().Snapshot().Selected
		return sel != nil && sel.Content == "Welcome aboard"
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.NotEmpty(t, events)
	mu.Unlock()

	s.SetPreview(true)
	captured, err = s.Click("#title")
	require.NoError(t, err)
	assert.False(t, captured, "preview leaves clicks to the page")
	assert.Equal(t, controller.ReadOnly, s.Controller().Snapshot().Mode)
}

func TestOnePagePerSession(t *testing.T) {
	m := newManager(t)
	s, err := m.Create(context.Background(), "p1", "https://site.example/", Local)
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "p1", "https://site.example/other", Local)
	assert.ErrorIs(t, err, ErrExists)

	require.NoError(t, m.Close(s.ID()))
	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Close(s.ID()), ErrNotFound)

	_, err = m.Create(context.Background(), "p1", "https://site.example/", Local)
	assert.NoError(t, err, "page id is free again once closed")
}

func TestCreateRejectsBadInput(t *testing.T) {
	m := newManager(t)

	_, err := m.Create(context.Background(), "p", "ftp://site.example/", Local)
	assert.ErrorIs(t, err, fetch.ErrInvalidURL)

	_, err = m.Create(context.Background(), "p", "https://site.example/", Browser)
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.Empty(t, m.List(), "failed creations leave nothing behind")
}

func TestProxySessionOverRelay(t *testing.T) {
	m := newManager(t)
	s, err := m.Create(context.Background(), "p", "https://site.example/", Proxy)
	require.NoError(t, err)

	_, err = s.Click("#title")
	assert.ErrorIs(t, err, ErrUnsupported)

	require.NoError(t, s.Served())
	assert.False(t, s.Info().Attached)

	near, far := channel.NewPipe("http://localhost:8000", "http://localhost:8000", nil)
	defer far.Close()
	far.Listen(func(env protocol.Envelope) {
		if req, ok := env.Message.(protocol.RequestElements); ok {
			_ = far.Post(protocol.ElementsLoaded{
				CorrelationID: req.CorrelationID,
				Elements: []model.EditableElement{{
					ID: "elem_1", Type: model.TypeHeading, Selector: "#title", Content: "Hello", Label: "Hello",
				}},
			})
		}
	})
	require.NoError(t, s.AttachAgent(near))
	assert.True(t, s.Info().Attached)
	require.NoError(t, far.Post(protocol.Ready{}))

	waitLoaded(t, s.Controller())
	assert.Len(t, s.Controller().Snapshot().Elements, 1)
}

func TestProxySessionNotLoadedWithoutAgent(t *testing.T) {
	m := newManager(t)
	s, err := m.Create(context.Background(), "p", "https://site.example/", Proxy)
	require.NoError(t, err)
	require.NoError(t, s.Served())

	require.Eventually(t, func() bool { return s.Controller().Snapshot().NotLoaded },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, controller.Loading, s.Controller().Snapshot().State)
}

func TestListOrdersByCreation(t *testing.T) {
	m := newManager(t)
	a, err := m.Create(context.Background(), "a", "https://site.example/a", Proxy)
	require.NoError(t, err)
	b, err := m.Create(context.Background(), "b", "https://site.example/b", Proxy)
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID(), list[0].ID())
	assert.Equal(t, b.ID(), list[1].ID())
}
