package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 4 << 20
)

// Socket is a Port over a websocket connection to a browser-hosted peer.
// The origin stamped on inbound frames is the one captured at upgrade
// time, not anything the peer claims in-band.
type Socket struct {
	conn   *websocket.Conn
	origin string
	log    *zap.Logger
	ls     listeners

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// NewSocket wraps conn. origin is the peer's Origin header.
func NewSocket(conn *websocket.Conn, origin string, log *zap.Logger) *Socket {
	return &Socket{
		conn:   conn,
		origin: origin,
		log:    logging.OrNop(log).Named("socket").With(zap.String("origin", origin)),
		done:   make(chan struct{}),
	}
}

// Origin returns the peer origin captured at upgrade.
func (s *Socket) Origin() string { return s.origin }

// Run reads frames until the connection fails, ctx ends, or Close is
// called. It also keeps the connection alive with pings.
func (s *Socket) Run(ctx context.Context) error {
	s.conn.SetReadLimit(maxFrame)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.keepAlive(ctx)

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		deliver(s.log, &s.ls, s.origin, data)
	}
}

func (s *Socket) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.log.Debug("Ping failed", zap.Error(err))
				return
			}
		}
	}
}

// Post encodes m and writes it as a text frame.
func (s *Socket) Post(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, data)
}

func (s *Socket) write(kind int, data []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(kind, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Listen registers fn for inbound frames.
func (s *Socket) Listen(fn func(protocol.Envelope)) { s.ls.add(fn) }

// Close sends a close frame and closes the connection.
func (s *Socket) Close() error {
	var err error
	s.once.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.writeMu.Unlock()
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

var _ Port = (*Socket)(nil)
