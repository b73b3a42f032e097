package channel

import (
	"errors"
	"sync"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
)

// ErrNoPeer is returned by Relay.Post while no peer is attached.
var ErrNoPeer = errors.New("channel: no peer attached")

// Relay is a stable Port for a controller whose peer connection comes and
// goes, such as a browser tab that reloads and reconnects. Only the most
// recently attached peer is heard; frames from a replaced peer are dropped.
type Relay struct {
	ls listeners

	mu     sync.Mutex
	peer   Port
	gen    uint64
	closed bool
}

// NewRelay creates a Relay with no peer.
func NewRelay() *Relay { return &Relay{} }

// Attach makes p the peer, closing the previous one.
func (r *Relay) Attach(p Port) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	old := r.peer
	r.gen++
	gen := r.gen
	r.peer = p
	r.mu.Unlock()

	p.Listen(func(env protocol.Envelope) {
		if r.current(gen) {
			r.ls.emit(env)
		}
	})
	if old != nil && old != p {
		_ = old.Close()
	}
	return nil
}

// Detach drops p if it is still the peer. It does not close p.
func (r *Relay) Detach(p Port) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peer == p {
		r.peer = nil
		r.gen++
	}
}

// Attached reports whether a peer is attached.
func (r *Relay) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peer != nil
}

func (r *Relay) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.gen == gen
}

// Post forwards m to the peer.
func (r *Relay) Post(m protocol.Message) error {
	r.mu.Lock()
	peer, closed := r.peer, r.closed
	r.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case peer == nil:
		return ErrNoPeer
	}
	return peer.Post(m)
}

// Listen registers fn for frames from whichever peer is attached.
func (r *Relay) Listen(fn func(protocol.Envelope)) { r.ls.add(fn) }

// Close closes the relay and its peer.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	peer := r.peer
	r.peer = nil
	r.mu.Unlock()
	if peer != nil {
		return peer.Close()
	}
	return nil
}

var _ Port = (*Relay)(nil)
