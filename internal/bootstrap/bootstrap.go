// Package bootstrap gets the agent running inside a target document exactly
// once, whatever the document's readiness timing.
//
// Inject returns a Readiness that resolves once when the injection attempt
// has finished. It never resolves with an error: failures are logged and
// metered, and the editing session carries on. After injecting, a bounded
// number of re-probes ask for a rescan if no elements have arrived; when
// the last one still finds nothing, the prober is told to show a
// not-loaded state.
package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/document"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/shared/clock"
)

// Target is a document the agent can be injected into. Implementations
// must be comparable; pointer types are.
type Target interface {
	// ReadyState reads the document's readiness. It fails with
	// document.ErrAccessDenied when the embedder may not look.
	ReadyState() (document.ReadyState, error)
	// OnLoad registers fn for the document's load signal.
	OnLoad(fn func())
	// Inject installs and initializes the agent.
	Inject(ctx context.Context) error
}

// Prober is the controller side of the re-probe schedule.
type Prober interface {
	// Loaded reports whether an element report has arrived.
	Loaded() bool
	// RequestElements asks the agent to rescan.
	RequestElements()
	// MarkNotLoaded surfaces that no report arrived within the schedule.
	MarkNotLoaded()
}

// Config holds the injection schedule.
type Config struct {
	// GracePeriod follows the load signal before injecting, so the page's
	// own startup code can finish changing the tree.
	GracePeriod time.Duration
	// ProbeDelays are measured from injection. Each probe requests a
	// rescan unless elements already arrived.
	ProbeDelays []time.Duration
}

// DefaultConfig returns a one second grace period and probes at two and
// five seconds.
func DefaultConfig() Config {
	return Config{
		GracePeriod: time.Second,
		ProbeDelays: []time.Duration{2 * time.Second, 5 * time.Second},
	}
}

// Bootstrapper injects agents into targets.
type Bootstrapper struct {
	cfg     Config
	clock   clock.Clock
	log     *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	attempts map[Target]*attempt
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithClock sets the clock driving the grace period and probes.
func WithClock(c clock.Clock) Option {
	return func(b *Bootstrapper) { b.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bootstrapper) { b.log = logging.OrNop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(b *Bootstrapper) { b.metrics = m }
}

// New creates a Bootstrapper. Negative durations are treated as zero.
func New(cfg Config, opts ...Option) *Bootstrapper {
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	b := &Bootstrapper{
		cfg:      cfg,
		clock:    clock.Real(),
		log:      zap.NewNop(),
		attempts: make(map[Target]*attempt),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.Named("bootstrap")
	return b
}

// attempt is the state of one target's injection.
type attempt struct {
	target    Target
	prober    Prober
	readiness *Readiness

	mu     sync.Mutex
	timers []clock.Timer
	done   bool
}

func (a *attempt) schedule(c clock.Clock, d time.Duration, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return
	}
	a.timers = append(a.timers, c.AfterFunc(d, fn))
}

func (a *attempt) cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.done = true
	for _, t := range a.timers {
		t.Stop()
	}
	a.timers = nil
}

func (a *attempt) cancelled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Inject starts injecting into t and returns its readiness. Calling Inject
// again for the same target returns the first call's readiness and does
// nothing else. Cancelling ctx discards pending timers and resolves the
// readiness if it had not resolved yet.
func (b *Bootstrapper) Inject(ctx context.Context, t Target, p Prober) *Readiness {
	b.mu.Lock()
	if existing, ok := b.attempts[t]; ok {
		b.mu.Unlock()
		b.log.Debug("Injection already in progress or done")
		return existing.readiness
	}
	a := &attempt{target: t, prober: p, readiness: newReadiness()}
	b.attempts[t] = a
	b.mu.Unlock()

	context.AfterFunc(ctx, func() {
		a.cancel()
		a.readiness.resolve(false)
	})

	state, err := t.ReadyState()
	switch {
	case errors.Is(err, document.ErrAccessDenied):
		b.log.Debug("Readiness not observable, waiting for load signal")
		t.OnLoad(func() { b.afterLoad(ctx, a) })
	case err != nil:
		b.log.Warn("Reading readiness failed, waiting for load signal", zap.Error(err))
		t.OnLoad(func() { b.afterLoad(ctx, a) })
	case state == document.Complete:
		b.inject(ctx, a)
	default:
		t.OnLoad(func() { b.afterLoad(ctx, a) })
	}
	return a.readiness
}

// Forget drops t so a later Inject starts over, e.g. after the target
// navigated to a new document.
func (b *Bootstrapper) Forget(t Target) {
	b.mu.Lock()
	a, ok := b.attempts[t]
	delete(b.attempts, t)
	b.mu.Unlock()
	if ok {
		a.cancel()
		a.readiness.resolve(false)
	}
}

func (b *Bootstrapper) afterLoad(ctx context.Context, a *attempt) {
	if b.cfg.GracePeriod == 0 {
		b.inject(ctx, a)
		return
	}
	a.schedule(b.clock, b.cfg.GracePeriod, func() { b.inject(ctx, a) })
}

func (b *Bootstrapper) inject(ctx context.Context, a *attempt) {
	if a.cancelled() || ctx.Err() != nil {
		return
	}
	if err := a.target.Inject(ctx); err != nil {
		b.metrics.RecordInjectionFailure()
		b.log.Warn("Agent injection failed", zap.Error(err))
		a.readiness.resolve(false)
	} else {
		b.log.Debug("Agent injected")
		a.readiness.resolve(true)
	}

	if a.prober == nil {
		return
	}
	last := len(b.cfg.ProbeDelays) - 1
	for i, delay := range b.cfg.ProbeDelays {
		final := i == last
		a.schedule(b.clock, delay, func() { b.probe(ctx, a, final) })
	}
}

func (b *Bootstrapper) probe(ctx context.Context, a *attempt, final bool) {
	if a.cancelled() || ctx.Err() != nil {
		return
	}
	if a.prober.Loaded() {
		b.metrics.RecordProbe("skipped")
		return
	}
	b.metrics.RecordProbe("requested")
	b.log.Debug("No elements yet, requesting rescan", zap.Bool("final", final))
	a.prober.RequestElements()
	if final {
		a.prober.MarkNotLoaded()
	}
}
