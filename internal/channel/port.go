// Package channel carries protocol messages across the document boundary.
//
// Every frame crosses the boundary encoded, is decoded on the receiving
// side, and is delivered together with the sender's origin. Delivery is
// asynchronous: Post never runs the receiver's listeners on the caller's
// goroutine, so a listener may Post back without re-entering itself.
// Undecodable frames are dropped at debug level.
package channel

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
)

// ErrClosed is returned by Post on a closed port.
var ErrClosed = errors.New("channel: port closed")

// Port is one end of a cross-document channel.
type Port interface {
	// Post sends m to the peer. Delivery is fire-and-forget.
	Post(m protocol.Message) error
	// Listen registers fn for every inbound, decodable envelope.
	Listen(fn func(protocol.Envelope))
	// Close tears the port down. Pending frames are discarded.
	Close() error
}

// Listener is an envelope callback.
type Listener func(protocol.Envelope)

// listeners is a copy-on-write listener set shared by port implementations.
type listeners struct {
	mu  sync.RWMutex
	fns []Listener
}

func (l *listeners) add(fn Listener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make([]Listener, len(l.fns), len(l.fns)+1)
	copy(next, l.fns)
	l.fns = append(next, fn)
}

func (l *listeners) emit(env protocol.Envelope) {
	l.mu.RLock()
	fns := l.fns
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(env)
	}
}

// deliver decodes one frame and fans it out. Frames that fail to decode
// are traced and discarded.
func deliver(log *zap.Logger, ls *listeners, origin string, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Debug("Dropping undecodable frame",
			zap.String("origin", origin),
			zap.Int("bytes", len(data)),
			zap.Error(err))
		return
	}
	ls.emit(protocol.Envelope{Origin: origin, Message: msg})
}
