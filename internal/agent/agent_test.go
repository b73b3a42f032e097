package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/document"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/dom/selector"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/model"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
)

const scenarioPage = `<html><head></head><body><h1 id="t">Hello</h1><img src="/a.png"></body></html>`

func TestScanScenario(t *testing.T) {
	h := newHarness(t, scenarioPage)
	h.agent.Init()

	msgs := h.send(t, protocol.RequestElements{CorrelationID: "c1"}, protocol.TypeElementsLoaded, 1)
	loaded := msgs[0].(protocol.ElementsLoaded)
	assert.Equal(t, "c1", loaded.CorrelationID)
	require.Len(t, loaded.Elements, 2)

	heading, image := loaded.Elements[0], loaded.Elements[1]
	assert.Equal(t, model.TypeHeading, heading.Type)
	assert.Equal(t, "#t", heading.Selector)
	assert.Equal(t, "Hello", heading.Content)

	assert.Equal(t, model.TypeImage, image.Type)
	assert.Equal(t, "/a.png", image.Content)
	assert.Regexp(t, `(^|> )img$`, image.Selector)
	assert.NotEqual(t, heading.ID, image.ID)
}

func TestUpdateScenario(t *testing.T) {
	h := newHarness(t, scenarioPage)
	h.agent.Init()

	msgs := h.send(t, protocol.UpdateElement{Selector: "#t", Content: "Bye", CorrelationID: "u1"}, protocol.TypeElementUpdated, 1)
	assert.Equal(t, protocol.ElementUpdated{Selector: "#t", Success: true, CorrelationID: "u1"}, msgs[0])
	assert.Equal(t, "Bye", h.text(t, "#t"))
}

func TestUpdateMissingLeavesDocumentUnchanged(t *testing.T) {
	h := newHarness(t, scenarioPage)
	h.agent.Init()
	before, err := h.doc.Render()
	require.NoError(t, err)

	msgs := h.send(t, protocol.UpdateElement{Selector: "#missing", Content: "X"}, protocol.TypeElementUpdated, 1)
	assert.Equal(t, protocol.ElementUpdated{Selector: "#missing", Success: false}, msgs[0])

	after, err := h.doc.Render()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMutationIsIdempotent(t *testing.T) {
	h := newHarness(t, `<html><body><h1>Title</h1></body></html>`)
	h.agent.Init()

	cmd := protocol.UpdateElement{Selector: "h1", Content: "X"}
	require.NoError(t, h.ctl.Post(cmd))
	msgs := h.send(t, cmd, protocol.TypeElementUpdated, 2)

	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, protocol.ElementUpdated{Selector: "h1", Success: true}, m)
	}
	assert.Equal(t, "X", h.text(t, "h1"))
}

func TestInitIsIdempotent(t *testing.T) {
	h := newHarness(t, scenarioPage)
	assert.False(t, h.agent.Initialized())

	h.agent.Init()
	h.agent.Init()
	assert.True(t, h.agent.Initialized())

	h.await(t, protocol.TypeReady, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.got.ofType(protocol.TypeReady), 1)
	// The agent never scans on its own.
	assert.Empty(t, h.got.ofType(protocol.TypeElementsLoaded))

	// Commands are handled once, not once per Init call.
	h.send(t, protocol.RequestElements{}, protocol.TypeElementsLoaded, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.got.ofType(protocol.TypeElementsLoaded), 1)
}

func TestInitInstallsStyleOnce(t *testing.T) {
	h := newHarness(t, scenarioPage)
	h.agent.Init()
	h.agent.Init()

	h.doc.Do(func(root *html.Node) {
		n, err := selector.Count(root, "style."+StyleMarker)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestHighlight(t *testing.T) {
	h := newHarness(t, `<html><body><p id="a">A</p><p id="b">B</p></body></html>`)
	h.agent.Init()

	h.agent.Highlight("#a")
	assert.Equal(t, "#a", h.agent.Highlighted())

	require.NoError(t, h.ctl.Post(protocol.HighlightElement{Selector: "#b"}))
	require.Eventually(t, func() bool { return h.agent.Highlighted() == "#b" }, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.attr(t, "#a", "class"))

	h.agent.Highlight("#missing")
	h.agent.Highlight("[[")
	assert.Equal(t, "#b", h.agent.Highlighted())
	assert.Equal(t, HighlightClass, h.attr(t, "#b", "class"))
}

func TestClickCaptureSelects(t *testing.T) {
	h := newHarness(t, `<html><body><a id="go" href="/next">Next page</a></body></html>`)
	h.agent.Init()

	ev, err := h.doc.Click("#go")
	require.NoError(t, err)
	assert.True(t, ev.DefaultPrevented)
	assert.Empty(t, ev.Navigation)

	msgs := h.await(t, protocol.TypeElementSelected, 1)
	el := msgs[0].(protocol.ElementSelected).Element
	assert.Equal(t, "#go", el.Selector)
	assert.Equal(t, model.TypeLink, el.Type)
	assert.Equal(t, "Next page", el.Content)
	assert.Equal(t, "/next", el.Attributes["href"])
	assert.NotContains(t, el.Attributes, "class")
	assert.Equal(t, "#go", h.agent.Highlighted())
}

func TestClickPassesThroughWhenReadOnly(t *testing.T) {
	h := newHarness(t, `<html><body><a id="go" href="/next">Next</a></body></html>`, WithInteractive(false))
	h.agent.Init()

	ev, err := h.doc.Click("#go")
	require.NoError(t, err)
	assert.False(t, ev.DefaultPrevented)
	assert.Equal(t, "http://localhost:3000/next", ev.Navigation)

	h.agent.SetInteractive(true)
	ev, err = h.doc.Click("#go")
	require.NoError(t, err)
	assert.True(t, ev.DefaultPrevented)

	h.await(t, protocol.TypeElementSelected, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.got.ofType(protocol.TypeElementSelected), 1)
}

func TestClicksOnOverlayAreIgnored(t *testing.T) {
	h := newHarness(t, `<html><body><div id="o" class="ve-editor-overlay">x</div></body></html>`)
	h.agent.Init()

	ev, err := h.doc.Click("#o")
	require.NoError(t, err)
	assert.False(t, ev.DefaultPrevented)
}

func TestClicksOnBodyAndHTMLAreIgnored(t *testing.T) {
	h := newHarness(t, `<html><body><p id="p">Text</p></body></html>`)
	h.agent.Init()

	for _, sel := range []string{"body", "html"} {
		ev, err := h.doc.Click(sel)
		require.NoError(t, err)
		assert.False(t, ev.DefaultPrevented, sel)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.got.ofType(protocol.TypeElementSelected))
	assert.Empty(t, h.agent.Highlighted())
}

func TestSelectedHTMLOmitsEditorClasses(t *testing.T) {
	h := newHarness(t, `<html><body><p id="p" class="lead">Text <b class="ve-editor-overlay-x">x</b></p></body></html>`)
	h.agent.Init()

	_, err := h.doc.Click("#p")
	require.NoError(t, err)
	el := h.await(t, protocol.TypeElementSelected, 1)[0].(protocol.ElementSelected).Element
	assert.NotContains(t, el.HTML, "ve-editor")
	assert.Contains(t, el.HTML, "Text")

	// The live node keeps its highlight.
	assert.Contains(t, h.attr(t, "#p", "class"), HighlightClass)

	loaded := h.send(t, protocol.RequestElements{}, protocol.TypeElementsLoaded, 1)[0].(protocol.ElementsLoaded)
	require.NotEmpty(t, loaded.Elements)
	for _, e := range loaded.Elements {
		assert.NotContains(t, e.HTML, "ve-editor", e.Selector)
	}
}

func TestAgentIgnoresEventsAndForeignOrigins(t *testing.T) {
	h := newHarness(t, scenarioPage, WithAllowList(protocol.NewAllowList("example.org")))
	h.agent.Init()

	require.NoError(t, h.ctl.Post(protocol.RequestElements{}))
	require.NoError(t, h.ctl.Post(protocol.Ready{}))
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, h.got.ofType(protocol.TypeElementsLoaded))
}

func TestDetach(t *testing.T) {
	h := newHarness(t, scenarioPage)
	h.agent.Init()
	h.agent.Detach()

	require.NoError(t, h.ctl.Post(protocol.UpdateElement{Selector: "#t", Content: "Bye"}))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, "Hello", h.text(t, "#t"))

	ev, err := h.doc.Click("#t")
	require.NoError(t, err)
	assert.False(t, ev.DefaultPrevented)
}

func TestImageMutation(t *testing.T) {
	h := newHarness(t, `<html><body><img id="hero" src="/a.png" alt="a"></body></html>`)

	assert.True(t, h.agent.ApplyMutation("#hero", "/b.png"))
	assert.Equal(t, "/b.png", h.attr(t, "#hero", "src"))
	assert.Equal(t, "/b.png", h.attr(t, "#hero", "alt"))
}

func TestMutationReplacesMarkup(t *testing.T) {
	h := newHarness(t, `<html><body><p id="p">Hello <b>bold</b> world</p></body></html>`)

	assert.True(t, h.agent.ApplyMutation("#p", "<i>plain</i>"))
	h.doc.Do(func(root *html.Node) {
		p, err := selector.Resolve(root, "#p")
		require.NoError(t, err)
		require.NotNil(t, p.FirstChild)
		assert.Equal(t, html.TextNode, p.FirstChild.Type)
		assert.Nil(t, p.FirstChild.NextSibling)
		assert.Equal(t, "<i>plain</i>", document.TextContent(p))
	})
}

func TestMutationWithInvalidSelector(t *testing.T) {
	h := newHarness(t, scenarioPage)
	assert.NotPanics(t, func() {
		assert.False(t, h.agent.ApplyMutation("##", "x"))
		assert.False(t, h.agent.ApplyMutation("", "x"))
	})
}

func TestAmbiguousMutationTargetsFirstMatch(t *testing.T) {
	h := newHarness(t, `<html><body><ul><li>one</li><li>two</li></ul></body></html>`)

	assert.True(t, h.agent.ApplyMutation("html > body > ul > li", "changed"))
	h.doc.Do(func(root *html.Node) {
		items, err := selector.ResolveAll(root, "li")
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "changed", document.TextContent(items[0]))
		assert.Equal(t, "two", document.TextContent(items[1]))
	})
}
