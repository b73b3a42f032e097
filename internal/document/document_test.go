package document

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/dom/selector"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/shared/clock"
)

const page = `<!doctype html><html><head><title>Shop</title></head><body>
<h1 id="t">Hello</h1>
<a id="go" href="/next"><span>Next</span></a>
<p class="lead">Intro</p>
</body></html>`

func textOf(t *testing.T, d *Document, sel string) string {
	t.Helper()
	var out string
	d.Do(func(root *html.Node) {
		n, err := selector.Resolve(root, sel)
		require.NoError(t, err)
		out = TextContent(n)
	})
	return out
}

func TestLoadLifecycle(t *testing.T) {
	d, err := ParseString(page, "http://localhost:3000/")
	require.NoError(t, err)
	assert.Equal(t, Loading, d.ReadyState())
	assert.Equal(t, "http://localhost:3000", d.Origin())

	loads := 0
	d.OnLoad(func() {
		loads++
		assert.Equal(t, Complete, d.ReadyState())
	})

	require.NoError(t, d.Load(context.Background()))
	require.NoError(t, d.Load(context.Background()))
	assert.Equal(t, 1, loads)

	// Registered after the fact: never fires.
	d.OnLoad(func() { loads++ })
	require.NoError(t, d.Load(context.Background()))
	assert.Equal(t, 1, loads)
}

func TestPageScriptsMutateTree(t *testing.T) {
	src := `<html><body><h1 id="t">Hello</h1><ul id="list"></ul>
<script>
  document.getElementById('t').textContent = 'Rendered';
  var li = document.createElement('li');
  li.textContent = 'one';
  li.classList.add('item');
  document.querySelector('#list').appendChild(li);
  document.title = 'ignored without title';
</script>
<script type="application/ld+json">{"not": "javascript"}</script>
<script>throw new Error('broken page script')</script>
<script>document.body.setAttribute('data-ready', 'yes')</script>
</body></html>`

	d, err := ParseString(src, "http://localhost:3000/")
	require.NoError(t, err)
	require.NoError(t, d.Load(context.Background()))

	assert.Equal(t, "Rendered", textOf(t, d, "#t"))
	assert.Equal(t, "one", textOf(t, d, "#list > li.item"))
	d.Do(func(root *html.Node) {
		assert.Equal(t, "yes", selector.Attr(Body(root), "data-ready"))
	})
}

func TestScriptTimersFollowClock(t *testing.T) {
	fake := clock.NewFake()
	src := `<html><body><h1 id="t">Hello</h1><script>
  setTimeout(function () { document.querySelector('#t').textContent = 'Late'; }, 500);
  var cancelled = setTimeout(function () { document.body.setAttribute('data-x', '1'); }, 100);
  clearTimeout(cancelled);
</script></body></html>`

	d, err := ParseString(src, "http://localhost:3000/", WithClock(fake))
	require.NoError(t, err)
	require.NoError(t, d.Load(context.Background()))

	assert.Equal(t, "Hello", textOf(t, d, "#t"))
	fake.Advance(499 * time.Millisecond)
	assert.Equal(t, "Hello", textOf(t, d, "#t"))
	fake.Advance(time.Millisecond)
	assert.Equal(t, "Late", textOf(t, d, "#t"))

	d.Do(func(root *html.Node) {
		assert.Empty(t, selector.Attr(Body(root), "data-x"))
	})
}

func TestCloseDiscardsTimers(t *testing.T) {
	fake := clock.NewFake()
	src := `<html><body><h1 id="t">Hello</h1><script>
  setTimeout(function () { document.querySelector('#t').textContent = 'Late'; }, 10);
</script></body></html>`

	d, err := ParseString(src, "http://localhost:3000/", WithClock(fake))
	require.NoError(t, err)
	require.NoError(t, d.Load(context.Background()))

	d.Close()
	fake.Advance(time.Second)
	assert.Equal(t, "Hello", textOf(t, d, "#t"))
	assert.ErrorIs(t, d.Load(context.Background()), ErrClosed)
}

func TestRunawayScriptIsInterrupted(t *testing.T) {
	cfg := DefaultScriptConfig()
	cfg.Timeout = 50 * time.Millisecond
	src := `<html><body><p id="p">x</p><script>while (true) {}</script>
<script>document.querySelector('#p').textContent = 'after';</script></body></html>`

	d, err := ParseString(src, "http://localhost:3000/", WithScriptConfig(cfg))
	require.NoError(t, err)
	require.NoError(t, d.Load(context.Background()))
	assert.Equal(t, "after", textOf(t, d, "#p"))
}

func TestClickDispatch(t *testing.T) {
	d, err := ParseString(page, "http://localhost:3000/shop/")
	require.NoError(t, err)

	ev, err := d.Click("#go span")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/next", ev.Navigation)

	var order []string
	d.Do(func(root *html.Node) {
		link, err := selector.Resolve(root, "#go")
		require.NoError(t, err)
		d.AddNodeListener(link, "click", func(*Event) { order = append(order, "link") })
		d.AddEventListener("click", func(e *Event) {
			order = append(order, "capture")
			e.PreventDefault()
		}, true)
		d.AddEventListener("click", func(*Event) { order = append(order, "bubble") }, false)
	})

	ev, err = d.Click("#go span")
	require.NoError(t, err)
	assert.Equal(t, []string{"capture", "link", "bubble"}, order)
	assert.True(t, ev.DefaultPrevented)
	assert.Empty(t, ev.Navigation)

	_, err = d.Click("#nope")
	assert.ErrorIs(t, err, selector.ErrNotFound)
}

func TestStopPropagationInCapture(t *testing.T) {
	d, err := ParseString(page, "http://localhost:3000/")
	require.NoError(t, err)

	reached := false
	d.Do(func(root *html.Node) {
		h1, err := selector.Resolve(root, "#t")
		require.NoError(t, err)
		d.AddNodeListener(h1, "click", func(*Event) { reached = true })
		d.AddEventListener("click", func(e *Event) { e.StopPropagation() }, true)
	})

	_, err = d.Click("#t")
	require.NoError(t, err)
	assert.False(t, reached)
}

func TestScriptListenersSeeClicks(t *testing.T) {
	src := `<html><body><button id="b">Buy</button><script>
  document.getElementById('b').addEventListener('click', function (e) {
    e.target.textContent = 'Bought';
  });
</script></body></html>`
	d, err := ParseString(src, "http://localhost:3000/")
	require.NoError(t, err)
	require.NoError(t, d.Load(context.Background()))

	_, err = d.Click("#b")
	require.NoError(t, err)
	assert.Equal(t, "Bought", textOf(t, d, "#b"))
}

func TestFrameOriginPolicy(t *testing.T) {
	d, err := ParseString(page, "http://localhost:3000/")
	require.NoError(t, err)

	same := NewFrame(d, "http://localhost:3000")
	state, err := same.ReadyState()
	require.NoError(t, err)
	assert.Equal(t, Loading, state)

	cross := NewFrame(d, "http://localhost:4000")
	_, err = cross.ReadyState()
	assert.ErrorIs(t, err, ErrAccessDenied)

	fired := false
	cross.OnLoad(func() { fired = true })
	require.NoError(t, d.Load(context.Background()))
	assert.True(t, fired)
}

func TestClassHelpers(t *testing.T) {
	n := &html.Node{Type: html.ElementNode, Data: "p"}
	AddClass(n, "a")
	AddClass(n, "b")
	AddClass(n, "a")
	assert.Equal(t, "a b", selector.Attr(n, "class"))
	assert.True(t, HasClass(n, "b"))

	RemoveClass(n, "a")
	assert.Equal(t, "b", selector.Attr(n, "class"))
	RemoveClass(n, "b")
	assert.Empty(t, n.Attr)
}

func TestRenderAndText(t *testing.T) {
	d, err := ParseString(page, "http://localhost:3000/")
	require.NoError(t, err)

	d.Do(func(root *html.Node) {
		h1, err := selector.Resolve(root, "#t")
		require.NoError(t, err)
		SetTextContent(h1, "Bye")
	})
	out, err := d.Render()
	require.NoError(t, err)
	assert.Contains(t, out, `<h1 id="t">Bye</h1>`)
}
