// Package proxy serves target documents with the browser agent inserted,
// so a page rendered by a real browser can run the agent and reach the
// controller over a websocket.
package proxy

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/agent"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/fetch"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
)

// AgentAttr marks script elements inserted by Rewrite.
const AgentAttr = "data-ve-editor-agent"

//go:embed assets/agent.js
var agentJS []byte

// Script returns the browser agent source.
func Script() []byte { return agentJS }

// Options controls one rewrite.
type Options struct {
	// BaseURL resolves the page's relative references. Usually the final
	// URL of the fetch.
	BaseURL string
	// SocketURL is where the agent dials the controller. Empty leaves the
	// agent waiting for a host to call start itself.
	SocketURL   string
	Budget      agent.Budget
	Interactive bool
}

type scriptBudget struct {
	MaxElements  int `json:"maxElements"`
	MaxDepth     int `json:"maxDepth"`
	MaxNodes     int `json:"maxNodes"`
	ContentLimit int `json:"contentLimit"`
	HTMLLimit    int `json:"htmlLimit"`
	LabelLimit   int `json:"labelLimit"`
}

type scriptConfig struct {
	SocketURL   string       `json:"socketURL,omitempty"`
	Interactive bool         `json:"interactive"`
	Budget      scriptBudget `json:"budget"`
}

// ConfigScript renders the assignment the agent reads its settings from.
func ConfigScript(opts Options) (string, error) {
	b := opts.Budget
	data, err := sonic.Marshal(scriptConfig{
		SocketURL:   opts.SocketURL,
		Interactive: opts.Interactive,
		Budget: scriptBudget{
			MaxElements:  b.MaxElements,
			MaxDepth:     b.MaxDepth,
			MaxNodes:     b.MaxNodes,
			ContentLimit: b.ContentLimit,
			HTMLLimit:    b.HTMLLimit,
			LabelLimit:   b.LabelLimit,
		},
	})
	if err != nil {
		return "", fmt.Errorf("proxy: encode agent config: %w", err)
	}
	// Keep the payload from closing the script element early.
	js := strings.ReplaceAll(string(data), "</", `<\/`)
	return "window.__VE_CONFIG = " + js + ";", nil
}

// Rewrite inserts a base element when the page has none, then the agent
// config and the agent itself at the top of head. Agent scripts from an
// earlier rewrite are replaced, not duplicated.
func Rewrite(page []byte, opts Options) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("proxy: parse page: %w", err)
	}
	// The parser always synthesizes a head.
	head := doc.Find("head").First()

	doc.Find("script[" + AgentAttr + "]").Remove()

	cfg, err := ConfigScript(opts)
	if err != nil {
		return nil, err
	}
	head.PrependHtml(fmt.Sprintf(`<script %s="config">%s</script><script %s="agent">%s</script>`,
		AgentAttr, cfg, AgentAttr, agentJS))

	if opts.BaseURL != "" && doc.Find("base[href]").Length() == 0 {
		if _, err := url.Parse(opts.BaseURL); err != nil {
			return nil, fmt.Errorf("proxy: base url: %w", err)
		}
		head.PrependHtml(fmt.Sprintf(`<base href="%s">`, escapeAttr(opts.BaseURL)))
	}

	out, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("proxy: render page: %w", err)
	}
	return []byte(out), nil
}

func escapeAttr(s string) string {
	return strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;").Replace(s)
}

// Fetcher retrieves target documents.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Page, error)
}

// Proxy fetches and rewrites target documents.
type Proxy struct {
	fetcher Fetcher
	log     *zap.Logger
}

// New creates a Proxy.
func New(f Fetcher, log *zap.Logger) *Proxy {
	return &Proxy{fetcher: f, log: logging.OrNop(log).Named("proxy")}
}

// Serve fetches rawURL and returns it rewritten. opts.BaseURL defaults to
// the final URL of the fetch.
func (p *Proxy) Serve(ctx context.Context, rawURL string, opts Options) ([]byte, error) {
	page, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if opts.BaseURL == "" {
		opts.BaseURL = page.URL
	}
	out, err := Rewrite(page.Body, opts)
	if err != nil {
		return nil, err
	}
	p.log.Debug("Serving rewritten page",
		zap.String("url", page.URL),
		zap.Int("bytes", len(out)),
		zap.Bool("socket", opts.SocketURL != ""))
	return out, nil
}
