package channel

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
)

// Binding is a Port over an arbitrary transport: outbound frames go to a
// send function, inbound frames are pushed in with Receive. Browser
// automation bindings and other callback-style bridges use it.
type Binding struct {
	origin atomic.Value
	send   func([]byte) error
	log    *zap.Logger
	ls     listeners
	closed atomic.Bool
}

// NewBinding creates a Binding. origin is stamped on inbound frames.
func NewBinding(origin string, send func([]byte) error, log *zap.Logger) *Binding {
	b := &Binding{send: send, log: logging.OrNop(log).Named("binding")}
	b.origin.Store(origin)
	return b
}

// SetOrigin changes the origin stamped on later inbound frames, e.g. after
// the peer navigated.
func (b *Binding) SetOrigin(origin string) { b.origin.Store(origin) }

// Origin returns the current peer origin.
func (b *Binding) Origin() string { return b.origin.Load().(string) }

// Receive delivers one inbound frame to the listeners on the caller's
// goroutine.
func (b *Binding) Receive(data []byte) {
	if b.closed.Load() {
		return
	}
	deliver(b.log, &b.ls, b.Origin(), data)
}

// Post encodes m and hands it to the send function.
func (b *Binding) Post(m protocol.Message) error {
	if b.closed.Load() {
		return ErrClosed
	}
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return b.send(data)
}

// Listen registers fn for inbound frames.
func (b *Binding) Listen(fn func(protocol.Envelope)) { b.ls.add(fn) }

// Close stops delivery in both directions.
func (b *Binding) Close() error {
	b.closed.Store(true)
	return nil
}

var _ Port = (*Binding)(nil)
