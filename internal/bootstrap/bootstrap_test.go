package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/document"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/shared/clock"
)

type fakeTarget struct {
	mu        sync.Mutex
	state     document.ReadyState
	stateErr  error
	injectErr error
	onLoad    []func()
	injects   int
}

func (f *fakeTarget) ReadyState() (document.ReadyState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.stateErr
}

func (f *fakeTarget) OnLoad(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onLoad = append(f.onLoad, fn)
}

func (f *fakeTarget) Inject(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injects++
	return f.injectErr
}

func (f *fakeTarget) load() {
	f.mu.Lock()
	f.state = document.Complete
	fns := f.onLoad
	f.onLoad = nil
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeTarget) injections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.injects
}

type fakeProber struct {
	mu        sync.Mutex
	loaded    bool
	requests  int
	notLoaded bool
}

func (p *fakeProber) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

func (p *fakeProber) RequestElements() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
}

func (p *fakeProber) MarkNotLoaded() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notLoaded = true
}

func (p *fakeProber) setLoaded() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = true
}

func newTestBootstrapper(fake *clock.Fake) *Bootstrapper {
	return New(DefaultConfig(), WithClock(fake))
}

func TestInjectAfterLoadAndGracePeriod(t *testing.T) {
	fake := clock.NewFake()
	b := newTestBootstrapper(fake)
	target := &fakeTarget{state: document.Loading}

	r := b.Inject(context.Background(), target, &fakeProber{})
	assert.False(t, r.Resolved())

	fake.Advance(10 * time.Second)
	assert.Zero(t, target.injections(), "nothing happens before the load signal")

	target.load()
	fake.Advance(999 * time.Millisecond)
	assert.Zero(t, target.injections())
	assert.False(t, r.Resolved())

	fake.Advance(time.Millisecond)
	assert.Equal(t, 1, target.injections())
	require.True(t, r.Resolved())
	assert.True(t, r.Injected())
	assert.NoError(t, r.Wait(context.Background()))
}

func TestAccessDeniedFallsBackToLoadSignal(t *testing.T) {
	fake := clock.NewFake()
	b := newTestBootstrapper(fake)
	target := &fakeTarget{stateErr: document.ErrAccessDenied}

	r := b.Inject(context.Background(), target, nil)
	assert.Len(t, target.onLoad, 1)

	target.load()
	fake.Advance(time.Second)
	assert.Equal(t, 1, target.injections())
	assert.True(t, r.Injected())
}

func TestAlreadyCompleteInjectsImmediately(t *testing.T) {
	fake := clock.NewFake()
	b := newTestBootstrapper(fake)
	target := &fakeTarget{state: document.Complete}

	r := b.Inject(context.Background(), target, nil)
	assert.Equal(t, 1, target.injections())
	assert.True(t, r.Resolved())
}

func TestBoundedRetry(t *testing.T) {
	fake := clock.NewFake()
	b := newTestBootstrapper(fake)
	target := &fakeTarget{state: document.Complete}
	prober := &fakeProber{}

	b.Inject(context.Background(), target, prober)

	fake.Advance(1999 * time.Millisecond)
	assert.Zero(t, prober.requests)
	fake.Advance(time.Millisecond)
	assert.Equal(t, 1, prober.requests)
	assert.False(t, prober.notLoaded)

	fake.Advance(3 * time.Second)
	assert.Equal(t, 2, prober.requests)
	assert.True(t, prober.notLoaded)

	fake.Advance(time.Hour)
	assert.Equal(t, 2, prober.requests, "no retries after the final probe")
	assert.Zero(t, fake.Pending())
}

func TestProbesSkippedOnceLoaded(t *testing.T) {
	fake := clock.NewFake()
	b := newTestBootstrapper(fake)
	prober := &fakeProber{}

	b.Inject(context.Background(), &fakeTarget{state: document.Complete}, prober)
	fake.Advance(2 * time.Second)
	assert.Equal(t, 1, prober.requests)

	prober.setLoaded()
	fake.Advance(3 * time.Second)
	assert.Equal(t, 1, prober.requests)
	assert.False(t, prober.notLoaded)
}

func TestReinjectionIsNoop(t *testing.T) {
	fake := clock.NewFake()
	b := newTestBootstrapper(fake)
	target := &fakeTarget{state: document.Loading}
	prober := &fakeProber{}

	first := b.Inject(context.Background(), target, prober)
	second := b.Inject(context.Background(), target, prober)
	assert.Same(t, first, second)
	assert.Len(t, target.onLoad, 1)

	target.load()
	fake.Advance(10 * time.Second)
	assert.Equal(t, 1, target.injections())
	assert.Equal(t, 2, prober.requests)
}

func TestInjectionFailureStillResolves(t *testing.T) {
	fake := clock.NewFake()
	b := newTestBootstrapper(fake)
	target := &fakeTarget{state: document.Complete, injectErr: errors.New("boom")}
	prober := &fakeProber{}

	r := b.Inject(context.Background(), target, prober)
	require.True(t, r.Resolved())
	assert.False(t, r.Injected())

	fake.Advance(5 * time.Second)
	assert.Equal(t, 2, prober.requests)
}

func TestCancellationDiscardsTimers(t *testing.T) {
	fake := clock.NewFake()
	b := newTestBootstrapper(fake)
	target := &fakeTarget{state: document.Loading}
	prober := &fakeProber{}

	ctx, cancel := context.WithCancel(context.Background())
	r := b.Inject(ctx, target, prober)
	target.load()

	cancel()
	require.NoError(t, r.Wait(context.Background()))
	assert.False(t, r.Injected())

	fake.Advance(time.Hour)
	assert.Zero(t, target.injections())
	assert.Zero(t, prober.requests)
}

func TestForgetAllowsFreshInjection(t *testing.T) {
	fake := clock.NewFake()
	b := newTestBootstrapper(fake)
	target := &fakeTarget{state: document.Complete}

	first := b.Inject(context.Background(), target, nil)
	b.Forget(target)
	second := b.Inject(context.Background(), target, nil)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, target.injections())
}

func TestWaitHonoursContext(t *testing.T) {
	r := newReadiness()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)
}
