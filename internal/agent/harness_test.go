package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/channel"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/document"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/dom/selector"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
)

const controllerOrigin = "http://localhost:4000"

type received struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *received) add(env protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, env.Message)
}

func (r *received) all() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.msgs...)
}

func (r *received) ofType(t protocol.Type) []protocol.Message {
	var out []protocol.Message
	for _, m := range r.all() {
		if m.Type() == t {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	doc   *document.Document
	agent *Agent
	ctl   *channel.PipeEnd
	got   *received
}

func newHarness(t *testing.T, src string, opts ...Option) *harness {
	t.Helper()
	doc, err := document.ParseString(src, "http://localhost:3000/")
	require.NoError(t, err)
	require.NoError(t, doc.Load(context.Background()))

	ctl, docEnd := channel.NewPipe(controllerOrigin, doc.Origin(), nil)
	t.Cleanup(func() {
		_ = ctl.Close()
		_ = docEnd.Close()
	})

	h := &harness{
		doc:   doc,
		agent: New(doc, docEnd, opts...),
		ctl:   ctl,
		got:   &received{},
	}
	ctl.Listen(h.got.add)
	return h
}

// send posts a command and waits until n messages of type want arrived.
func (h *harness) send(t *testing.T, cmd protocol.Command, want protocol.Type, n int) []protocol.Message {
	t.Helper()
	require.NoError(t, h.ctl.Post(cmd))
	return h.await(t, want, n)
}

func (h *harness) await(t *testing.T, want protocol.Type, n int) []protocol.Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.got.ofType(want)) >= n },
		time.Second, 5*time.Millisecond, "waiting for %d %s", n, want)
	return h.got.ofType(want)
}

func (h *harness) text(t *testing.T, sel string) string {
	t.Helper()
	var out string
	h.doc.Do(func(root *html.Node) {
		n, err := selector.Resolve(root, sel)
		require.NoError(t, err)
		out = document.TextContent(n)
	})
	return out
}

func (h *harness) attr(t *testing.T, sel, key string) string {
	t.Helper()
	var out string
	h.doc.Do(func(root *html.Node) {
		n, err := selector.Resolve(root, sel)
		require.NoError(t, err)
		out = selector.Attr(n, key)
	})
	return out
}
