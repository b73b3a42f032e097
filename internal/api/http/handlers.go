package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/controller"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/dom/selector"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/edits"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/fetch"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/proxy"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/session"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/shared/id"
)

// Version is reported by Root.
const Version = "1.0.0"

// Proxier fetches and rewrites target pages.
type Proxier interface {
	Serve(ctx context.Context, rawURL string, opts proxy.Options) ([]byte, error)
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	sessions  *session.Manager
	proxy     Proxier
	publicURL string
	opts      proxy.Options
	log       *zap.Logger
	started   time.Time
}

// NewHandlers creates a handler set. publicURL is the server's externally
// reachable base, used to build agent socket URLs; opts carries the agent
// settings written into proxied pages.
func NewHandlers(sessions *session.Manager, p Proxier, publicURL string, opts proxy.Options, log *zap.Logger) *Handlers {
	return &Handlers{
		sessions:  sessions,
		proxy:     p,
		publicURL: strings.TrimRight(publicURL, "/"),
		opts:      opts,
		log:       logging.OrNop(log).Named("http"),
		started:   time.Now(),
	}
}

// Root handles the service banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "VisualEdit",
		"version": Version,
	})
}

// Health handles detailed health check.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": len(h.sessions.List()),
		"uptime":   time.Since(h.started).Round(time.Second).String(),
	})
}

// CreateSessionRequest starts an editing session.
type CreateSessionRequest struct {
	PageID string `json:"pageId"`
	URL    string `json:"url" binding:"required"`
	Mode   string `json:"mode"`
}

// SessionResponse describes a session and, for proxy sessions, where the
// operator should load the page.
type SessionResponse struct {
	session.Info
	ProxyURL string              `json:"proxyUrl,omitempty"`
	Snapshot controller.Snapshot `json:"snapshot"`
}

func (h *Handlers) describe(s *session.Session) SessionResponse {
	info := s.Info()
	resp := SessionResponse{Info: info, Snapshot: s.Controller().Snapshot()}
	if info.Mode == session.Proxy {
		resp.ProxyURL = h.publicURL + "/proxy?" + url.Values{
			"url":     {info.URL},
			"session": {info.ID.String()},
		}.Encode()
	}
	return resp
}

// CreateSession handles POST /sessions.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session request"})
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		h.fail(c, err)
		return
	}
	s, err := h.sessions.Create(c.Request.Context(), req.PageID, req.URL, mode)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.describe(s))
}

// ListSessions handles GET /sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	list := h.sessions.List()
	out := make([]session.Info, len(list))
	for i, s := range list {
		out[i] = s.Info()
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out, "count": len(out)})
}

// GetSession handles GET /sessions/:id.
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.describe(s))
}

// DeleteSession handles DELETE /sessions/:id.
func (h *Handlers) DeleteSession(c *gin.Context) {
	if err := h.sessions.Close(id.SessionID(c.Param("id"))); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Elements handles GET /sessions/:id/elements.
func (h *Handlers) Elements(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	snap := s.Controller().Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"state":     snap.State,
		"notLoaded": snap.NotLoaded,
		"elements":  snap.Elements,
	})
}

// SelectRequest picks an element from the list.
type SelectRequest struct {
	ElementID string `json:"elementId" binding:"required"`
}

// Select handles POST /sessions/:id/select.
func (h *Handlers) Select(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "elementId is required"})
		return
	}
	if err := s.Controller().Select(req.ElementID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Controller().Snapshot())
}

// Deselect handles POST /sessions/:id/deselect.
func (h *Handlers) Deselect(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.Controller().Deselect()
	c.JSON(http.StatusOK, s.Controller().Snapshot())
}

// ValueRequest replaces the value being edited.
type ValueRequest struct {
	Value string `json:"value"`
}

// SetValue handles PUT /sessions/:id/value.
func (h *Handlers) SetValue(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req ValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid value request"})
		return
	}
	if err := s.Controller().SetValue(req.Value); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Controller().Snapshot())
}

// Apply handles POST /sessions/:id/apply. The edit is sent, not confirmed;
// the outcome arrives on the event stream.
func (h *Handlers) Apply(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	cid, err := s.Controller().Apply()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"correlationId": cid})
}

// Rescan handles POST /sessions/:id/rescan.
func (h *Handlers) Rescan(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.Controller().Rescan()
	c.JSON(http.StatusAccepted, s.Controller().Snapshot())
}

// PreviewRequest toggles read-only preview.
type PreviewRequest struct {
	Preview bool `json:"preview"`
}

// Preview handles POST /sessions/:id/preview.
func (h *Handlers) Preview(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid preview request"})
		return
	}
	s.SetPreview(req.Preview)
	c.JSON(http.StatusOK, s.Controller().Snapshot())
}

// ClickRequest points at an element of the hosted page.
type ClickRequest struct {
	Selector string `json:"selector" binding:"required"`
}

// Click handles POST /sessions/:id/click.
func (h *Handlers) Click(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req ClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "selector is required"})
		return
	}
	captured, err := s.Click(req.Selector)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"captured": captured})
}

// Sync handles POST /sessions/:id/sync.
func (h *Handlers) Sync(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	n, err := s.Controller().Sync(c.Request.Context())
	switch {
	case errors.Is(err, edits.ErrNothingToSync):
		c.JSON(http.StatusOK, gin.H{"synced": 0})
	case errors.Is(err, controller.ErrNoSyncer):
		h.fail(c, err)
	case err != nil:
		h.log.Warn("Sync failed", zap.String("session", s.ID().String()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "pending": n})
	default:
		c.JSON(http.StatusOK, gin.H{"synced": n})
	}
}

// Edits handles GET /sessions/:id/edits.
func (h *Handlers) Edits(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	records := s.Controller().Edits()
	c.JSON(http.StatusOK, gin.H{"pageId": s.Info().PageID, "edits": records, "count": len(records)})
}

// Document handles GET /sessions/:id/document, the hosted page as it
// stands after edits.
func (h *Handlers) Document(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	out, err := s.Render()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(out))
}

// Proxy handles GET /proxy?url=...&session=.... With a proxy session the
// served page's agent dials that session's agent socket.
func (h *Handlers) Proxy(c *gin.Context) {
	target := c.Query("url")
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	opts := h.opts
	var s *session.Session
	if sid := c.Query("session"); sid != "" {
		var err error
		if s, err = h.sessions.Get(id.SessionID(sid)); err != nil {
			h.fail(c, err)
			return
		}
		opts.SocketURL = h.socketURL(c, s.ID())
	}

	page, err := h.proxy.Serve(c.Request.Context(), target, opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	if s != nil {
		if err := s.Served(); err != nil {
			h.fail(c, err)
			return
		}
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

// socketURL is the agent socket of sid, on the public URL when one is
// configured and on the request's host otherwise.
func (h *Handlers) socketURL(c *gin.Context, sid id.SessionID) string {
	base := h.publicURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + c.Request.Host
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/sessions/" + sid.String() + "/agent"
}

func (h *Handlers) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(id.SessionID(c.Param("id")))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return s, true
}

// fail maps domain errors onto status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, controller.ErrUnknownElement):
		return http.StatusNotFound
	case errors.Is(err, session.ErrExists),
		errors.Is(err, controller.ErrReadOnly),
		errors.Is(err, controller.ErrNoSelection):
		return http.StatusConflict
	case errors.Is(err, selector.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBadMode),
		errors.Is(err, fetch.ErrInvalidURL),
		errors.Is(err, selector.ErrInvalidSelector):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnsupported), errors.Is(err, controller.ErrNoSyncer):
		return http.StatusNotImplemented
	case errors.Is(err, fetch.ErrNotHTML), errors.Is(err, fetch.ErrTooLarge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fetch.ErrStatus):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
