// Package ws serves the two websocket surfaces of a session: the operator
// event stream and the socket a browser-hosted agent dials.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/channel"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/controller"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/session"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/shared/id"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// eventBuffer is how many events a slow operator may fall behind
	// before the stream is cut.
	eventBuffer = 64
)

// Origins are checked per message by the controller's allow-list, not at
// upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler manages WebSocket connections.
type Handler struct {
	sessions *session.Manager
	log      *zap.Logger
	metrics  *monitoring.Metrics
}

// NewHandler creates a new WebSocket handler.
func NewHandler(sessions *session.Manager, log *zap.Logger, metrics *monitoring.Metrics) *Handler {
	return &Handler{sessions: sessions, log: logging.OrNop(log).Named("ws"), metrics: metrics}
}

// Events streams controller events of one session as JSON text frames,
// starting with the current state.
func (h *Handler) Events(c *gin.Context) {
	s, err := h.sessions.Get(id.SessionID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections("events")
	defer h.metrics.DecWSConnections("events")
	log := h.log.With(zap.String("session", s.ID().String()))

	events := make(chan controller.Event, eventBuffer)
	overflow := make(chan struct{})
	var cut sync.Once
	unsubscribe := s.Subscribe(func(ev controller.Event) {
		select {
		case events <- ev:
		default:
			cut.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	snap := s.Controller().Snapshot()
	select {
	case events <- controller.Event{Kind: controller.EventState, Snapshot: &snap}:
	default:
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev := <-events:
			data, err := sonic.Marshal(ev)
			if err != nil {
				log.Error("Encoding event failed", zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("Event stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-overflow:
			log.Warn("Operator fell behind, closing event stream")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"),
				time.Now().Add(writeWait))
			return
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// Agent attaches a browser-hosted agent to a proxy session. The peer's
// Origin header becomes the origin of every frame it sends.
func (h *Handler) Agent(c *gin.Context) {
	s, err := h.sessions.Get(id.SessionID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if s.Info().Mode != session.Proxy {
		c.JSON(http.StatusConflict, gin.H{"error": "session does not accept agent connections"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	origin := c.GetHeader("Origin")
	sock := channel.NewSocket(conn, origin, h.log)
	if err := s.AttachAgent(sock); err != nil {
		_ = sock.Close()
		return
	}
	h.metrics.IncWSConnections("agent")
	defer h.metrics.DecWSConnections("agent")
	defer s.DetachAgent(sock)

	log := h.log.With(zap.String("session", s.ID().String()), zap.String("origin", origin))
	log.Info("Agent connected")
	if err := sock.Run(c.Request.Context()); err != nil {
		log.Debug("Agent connection ended", zap.Error(err))
	}
	_ = sock.Close()
	log.Info("Agent disconnected")
}
