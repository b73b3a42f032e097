package bootstrap

import (
	"context"
	"sync"
	"sync/atomic"
)

// Readiness is the single "ready" transition of one injection. It
// resolves exactly once and never carries an error.
type Readiness struct {
	done     chan struct{}
	once     sync.Once
	injected atomic.Bool
}

func newReadiness() *Readiness {
	return &Readiness{done: make(chan struct{})}
}

func (r *Readiness) resolve(injected bool) {
	r.once.Do(func() {
		r.injected.Store(injected)
		close(r.done)
	})
}

// Done is closed once the injection attempt finished.
func (r *Readiness) Done() <-chan struct{} { return r.done }

// Resolved reports whether Done is closed.
func (r *Readiness) Resolved() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Injected reports whether the agent was installed. It is meaningful once
// resolved.
func (r *Readiness) Injected() bool { return r.injected.Load() }

// Wait blocks until resolution or until ctx ends. Only the latter returns
// an error.
func (r *Readiness) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
