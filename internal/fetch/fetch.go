// Package fetch downloads target documents for editing sessions and the
// agent-injecting proxy. Bodies are size-limited, checked to be HTML and
// transcoded to UTF-8.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/monitoring"
)

// DefaultMaxBytes bounds a fetched body.
const DefaultMaxBytes = 5 << 20

var (
	ErrInvalidURL = errors.New("fetch: invalid target url")
	ErrNotHTML    = errors.New("fetch: target is not an HTML document")
	ErrTooLarge   = errors.New("fetch: target exceeds size limit")
	ErrStatus     = errors.New("fetch: target returned an error status")
)

// Page is a fetched document.
type Page struct {
	// URL is the final URL after redirects.
	URL         string
	Status      int
	ContentType string
	// Charset is the source encoding; Body is always UTF-8.
	Charset string
	Body    []byte
}

// Config configures a Fetcher.
type Config struct {
	HTTP     httpclient.Config
	MaxBytes int64
}

// Fetcher retrieves target documents.
type Fetcher struct {
	http     *httpclient.Client
	maxBytes int64
	log      *zap.Logger
	metrics  *monitoring.Metrics
}

// New creates a Fetcher.
func New(cfg Config, log *zap.Logger, metrics *monitoring.Metrics) *Fetcher {
	log = logging.OrNop(log).Named("fetch")
	if cfg.HTTP.Name == "" {
		cfg.HTTP.Name = "fetch"
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Fetcher{
		http:     httpclient.New(cfg.HTTP, log, metrics),
		maxBytes: cfg.MaxBytes,
		log:      log,
		metrics:  metrics,
	}
}

// Fetch downloads rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	target, err := ValidateURL(rawURL)
	if err != nil {
		f.metrics.RecordFetch("invalid")
		return nil, err
	}

	var body []byte
	resp, err := f.http.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		resp, err := req.
			SetDoNotParseResponse(true).
			SetHeader("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5").
			SetHeader("Accept-Language", "en-US,en;q=0.9").
			Get(target.String())
		if err != nil {
			return resp, err
		}
		raw := resp.RawBody()
		defer raw.Close()
		body, err = io.ReadAll(io.LimitReader(raw, f.maxBytes+1))
		return resp, err
	})
	if err != nil {
		f.metrics.RecordFetch("error")
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		f.metrics.RecordFetch("status")
		return nil, fmt.Errorf("%w: %d from %s", ErrStatus, resp.StatusCode(), target)
	}
	if int64(len(body)) > f.maxBytes {
		f.metrics.RecordFetch("too_large")
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}

	contentType := resp.Header().Get("Content-Type")
	if !IsHTML(body, contentType) {
		f.metrics.RecordFetch("not_html")
		return nil, fmt.Errorf("%w: %s", ErrNotHTML, mimetype.Detect(body).String())
	}

	utf8Body, name, err := ToUTF8(body, contentType)
	if err != nil {
		f.metrics.RecordFetch("charset")
		return nil, err
	}

	final := target.String()
	if r := resp.RawResponse; r != nil && r.Request != nil && r.Request.URL != nil {
		final = r.Request.URL.String()
	}

	f.metrics.RecordFetch("ok")
	f.log.Debug("Fetched target",
		zap.String("url", final),
		zap.Int("status", resp.StatusCode()),
		zap.Int("bytes", len(body)),
		zap.String("charset", name))

	return &Page{
		URL:         final,
		Status:      resp.StatusCode(),
		ContentType: contentType,
		Charset:     name,
		Body:        utf8Body,
	}, nil
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// IsHTML reports whether body is an HTML document. Sniffing decides; a
// declared HTML content type rescues fragments that sniff as plain text.
func IsHTML(body []byte, contentType string) bool {
	detected := mimetype.Detect(body)
	if detected.Is("text/html") || detected.Is("application/xhtml+xml") {
		return true
	}
	declared, _, _ := mime.ParseMediaType(contentType)
	return detected.Is("text/plain") && (declared == "text/html" || declared == "application/xhtml+xml")
}

// ToUTF8 transcodes body. A BOM, header charset or meta declaration wins;
// chardet only replaces the windows-1252 fallback.
func ToUTF8(body []byte, contentType string) ([]byte, string, error) {
	_, name, certain := charset.DetermineEncoding(body, contentType)
	if !certain && name == "windows-1252" && !declaresCharset(body) {
		if guess := DetectCharset(body); guess != "" {
			name = guess
		}
	}
	if name == "" || strings.EqualFold(name, "utf-8") {
		return body, "utf-8", nil
	}

	r, err := charset.NewReaderLabel(name, bytes.NewReader(body))
	if err != nil {
		return body, "utf-8", nil
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, name, fmt.Errorf("fetch: transcode from %s: %w", name, err)
	}
	return out, strings.ToLower(name), nil
}

func declaresCharset(body []byte) bool {
	head := body
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(bytes.ToLower(head), []byte("charset"))
}

// DetectCharset returns chardet's best guess, or "".
func DetectCharset(data []byte) string {
	result, err := chardet.NewHtmlDetector().DetectBest(data)
	if err != nil || result == nil {
		return ""
	}
	return strings.ToLower(result.Charset)
}
