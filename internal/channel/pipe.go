package channel

import (
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
)

type frame struct {
	origin string
	data   []byte
}

// PipeEnd is one side of an in-process channel. Each end owns a delivery
// goroutine that drains its inbox in arrival order.
type PipeEnd struct {
	origin string
	peer   *PipeEnd
	log    *zap.Logger
	ls     listeners

	mu     sync.Mutex
	queue  []frame
	notify chan struct{}
	done   chan struct{}
	closed bool
}

// NewPipe connects two ends. Messages posted on a are delivered to b's
// listeners stamped with aOrigin, and vice versa.
func NewPipe(aOrigin, bOrigin string, log *zap.Logger) (*PipeEnd, *PipeEnd) {
	log = logging.OrNop(log).Named("pipe")
	a := newEnd(aOrigin, log)
	b := newEnd(bOrigin, log)
	a.peer, b.peer = b, a
	go a.loop()
	go b.loop()
	return a, b
}

func newEnd(origin string, log *zap.Logger) *PipeEnd {
	return &PipeEnd{
		origin: origin,
		log:    log.With(zap.String("end", origin)),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Origin is the origin stamped on frames posted from this end.
func (e *PipeEnd) Origin() string { return e.origin }

// Post encodes m and queues it for the peer.
func (e *PipeEnd) Post(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return e.PostRaw(data)
}

// PostRaw queues an already-encoded frame for the peer. The frame is not
// validated here; the receiving end decodes it.
func (e *PipeEnd) PostRaw(data []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	e.peer.enqueue(frame{origin: e.origin, data: data})
	return nil
}

// Listen registers fn for frames arriving at this end.
func (e *PipeEnd) Listen(fn func(protocol.Envelope)) { e.ls.add(fn) }

// Close stops this end. Frames already queued here are discarded and the
// peer's later posts to it are dropped silently.
func (e *PipeEnd) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.queue = nil
	close(e.done)
	return nil
}

func (e *PipeEnd) enqueue(f frame) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, f)
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *PipeEnd) loop() {
	for {
		select {
		case <-e.done:
			return
		case <-e.notify:
		}

		for {
			e.mu.Lock()
			if e.closed || len(e.queue) == 0 {
				e.mu.Unlock()
				break
			}
			f := e.queue[0]
			e.queue = e.queue[1:]
			e.mu.Unlock()

			deliver(e.log, &e.ls, f.origin, f.data)
		}
	}
}

var _ Port = (*PipeEnd)(nil)
