// Package controller is the embedding side of an editing session.
//
// A Controller owns the element model, the current selection and the
// value being edited. It reacts to agent events arriving over a
// channel.Port, after filtering them by origin, and sends commands back.
// Every outbound command is fire-and-forget; the only acknowledgement is
// the agent's own reply.
//
// State machine:
//
//	Loading --ELEMENTS_LOADED--> Idle
//	Idle --select--> Selected --edit--> Editing --ELEMENT_UPDATED ok--> Selected
//	Selected/Editing --deselect--> Idle
//	any --rescan--> Loading
//
// The preview mode (Interactive or ReadOnly) is independent of the state.
// In ReadOnly, selection and highlight are suppressed and ELEMENT_SELECTED
// events are ignored.
package controller

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/channel"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/edits"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/model"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/shared/clock"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/shared/id"
)

const labelLimit = 50

// Controller drives one editing session.
type Controller struct {
	port      channel.Port
	origins   *protocol.AllowList
	pageID    string
	acc       *edits.Accumulator
	syncer    edits.Syncer
	clock     clock.Clock
	log       *zap.Logger
	metrics   *monitoring.Metrics
	observers []func(Event)

	mu        sync.Mutex
	state     State
	mode      Mode
	elements  []model.EditableElement
	selected  *model.EditableElement
	value     string
	loaded    bool
	notLoaded bool
	scans     []string
	pending   []pendingUpdate
}

// Option configures a Controller.
type Option func(*Controller)

// WithAllowList sets the trusted origins. The default is
// protocol.DefaultAllowList.
func WithAllowList(list *protocol.AllowList) Option {
	return func(c *Controller) {
		if list != nil {
			c.origins = list
		}
	}
}

// WithPageID sets the page identifier handed to the syncer.
func WithPageID(pageID string) Option {
	return func(c *Controller) { c.pageID = pageID }
}

// WithSyncer sets the persistence collaborator used by Sync.
func WithSyncer(s edits.Syncer) Option {
	return func(c *Controller) { c.syncer = s }
}

// WithAccumulator shares an existing accumulator.
func WithAccumulator(acc *edits.Accumulator) Option {
	return func(c *Controller) {
		if acc != nil {
			c.acc = acc
		}
	}
}

// WithMode sets the initial preview mode.
func WithMode(m Mode) Option {
	return func(c *Controller) { c.mode = m }
}

// WithObserver registers fn for state changes and notices. Observers run
// after the controller lock is released.
func WithObserver(fn func(Event)) Option {
	return func(c *Controller) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

// WithClock sets the clock stamping notices.
func WithClock(cl clock.Clock) Option {
	return func(c *Controller) { c.clock = cl }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = logging.OrNop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a controller in Loading state and starts listening on port.
func New(port channel.Port, opts ...Option) *Controller {
	c := &Controller{
		port:    port,
		origins: protocol.DefaultAllowList(),
		acc:     edits.NewAccumulator(),
		clock:   clock.Real(),
		log:     zap.NewNop(),
		state:   Loading,
		mode:    Interactive,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("controller")
	if c.pageID != "" {
		c.log = c.log.With(zap.String("page", c.pageID))
	}
	port.Listen(c.Receive)
	return c
}

// Receive filters and dispatches one inbound envelope.
func (c *Controller) Receive(env protocol.Envelope) {
	if !c.origins.Allowed(env.Origin) {
		c.metrics.RecordRejected("origin")
		c.log.Debug("Discarding message from untrusted origin",
			zap.String("origin", env.Origin),
			zap.String("type", typeOf(env.Message)))
		return
	}
	ev, ok := env.Message.(protocol.Event)
	if !ok {
		c.metrics.RecordRejected("direction")
		c.log.Debug("Discarding non-event message", zap.String("type", typeOf(env.Message)))
		return
	}
	c.metrics.RecordMessage("in", string(ev.Type()))
	protocol.DispatchEvent(ev, c)
}

func typeOf(m protocol.Message) string {
	if m == nil {
		return ""
	}
	return string(m.Type())
}

// Select makes the element with the given id current and asks the agent
// to highlight it.
func (c *Controller) Select(elementID string) error {
	c.mu.Lock()
	if c.mode == ReadOnly {
		c.mu.Unlock()
		return ErrReadOnly
	}
	i := c.indexByID(elementID)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownElement, elementID)
	}
	el := c.elements[i].Clone()
	c.selected = &el
	c.value = el.Content
	c.state = Selected
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.send(protocol.HighlightElement{Selector: el.Selector})
	c.emitState(snap)
	return nil
}

// Deselect clears the selection.
func (c *Controller) Deselect() {
	c.mu.Lock()
	c.selected = nil
	c.value = ""
	if c.state != Loading {
		c.state = Idle
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emitState(snap)
}

// SetValue replaces the value being edited for the selected element.
func (c *Controller) SetValue(v string) error {
	c.mu.Lock()
	if c.mode == ReadOnly {
		c.mu.Unlock()
		return ErrReadOnly
	}
	if c.selected == nil {
		c.mu.Unlock()
		return ErrNoSelection
	}
	c.value = v
	c.state = Editing
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emitState(snap)
	return nil
}

// Apply sends the edited value to the agent. It returns the correlation id
// of the UPDATE_ELEMENT command.
func (c *Controller) Apply() (string, error) {
	c.mu.Lock()
	if c.mode == ReadOnly {
		c.mu.Unlock()
		return "", ErrReadOnly
	}
	if c.selected == nil {
		c.mu.Unlock()
		return "", ErrNoSelection
	}
	p := pendingUpdate{
		correlationID: id.NewCorrelationID().String(),
		selector:      c.selected.Selector,
		content:       c.value,
		elementType:   c.selected.Type,
	}
	c.pending = append(c.pending, p)
	c.mu.Unlock()

	c.send(protocol.UpdateElement{Selector: p.selector, Content: p.content, CorrelationID: p.correlationID})
	return p.correlationID, nil
}

// SetPreview switches between ReadOnly (true) and Interactive (false). The
// selection is kept.
func (c *Controller) SetPreview(on bool) {
	c.mu.Lock()
	if on {
		c.mode = ReadOnly
	} else {
		c.mode = Interactive
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emitState(snap)
}

// Rescan drops the element model and selection and asks for a fresh scan.
func (c *Controller) Rescan() {
	c.mu.Lock()
	c.elements = nil
	c.selected = nil
	c.value = ""
	c.state = Loading
	c.loaded = false
	c.notLoaded = false
	c.scans = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emitState(snap)
	c.RequestElements()
}

// RequestElements sends REQUEST_ELEMENTS with a fresh correlation id.
func (c *Controller) RequestElements() {
	cid := id.NewCorrelationID().String()
	c.mu.Lock()
	c.scans = append(c.scans, cid)
	c.mu.Unlock()
	c.send(protocol.RequestElements{CorrelationID: cid})
}

// Loaded reports whether an element report arrived since the last rescan.
func (c *Controller) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// MarkNotLoaded raises the persistent "not loaded" indicator unless a
// report arrived meanwhile. The state stays Loading.
func (c *Controller) MarkNotLoaded() {
	c.mu.Lock()
	if c.loaded {
		c.mu.Unlock()
		return
	}
	c.notLoaded = true
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Warn("No elements reported by the agent")
	c.notify(LevelError, "Page elements did not load. Try reloading.")
	c.emitState(snap)
}

// Sync hands the accumulated edits to the syncer. Records are kept
// whatever the outcome.
func (c *Controller) Sync(ctx context.Context) (int, error) {
	if c.syncer == nil {
		return 0, ErrNoSyncer
	}
	n, err := c.acc.Flush(ctx, c.syncer, c.pageID)
	switch {
	case err == nil:
		c.notify(LevelSuccess, fmt.Sprintf("Synced %d edits", n))
	case n == 0:
		c.notify(LevelInfo, "No edits to sync")
	default:
		c.log.Warn("Sync failed, edits kept locally", zap.Int("edits", n), zap.Error(err))
		c.notify(LevelError, "Sync did not complete. Edits are kept and will be resent.")
	}
	return n, err
}

// Edits returns the accumulated change set.
func (c *Controller) Edits() []model.EditRecord { return c.acc.Records() }

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Element looks up an element of the current model by id.
func (c *Controller) Element(elementID string) (model.EditableElement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexByID(elementID); i >= 0 {
		return c.elements[i].Clone(), true
	}
	return model.EditableElement{}, false
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		PageID:    c.pageID,
		State:     c.state,
		Mode:      c.mode,
		NotLoaded: c.notLoaded,
		Elements:  make([]model.EditableElement, len(c.elements)),
		Value:     c.value,
		Pending:   len(c.pending),
		Edits:     c.acc.Len(),
	}
	for i, el := range c.elements {
		snap.Elements[i] = el.Clone()
	}
	if c.selected != nil {
		sel := c.selected.Clone()
		snap.Selected = &sel
	}
	return snap
}

func (c *Controller) indexByID(elementID string) int {
	for i := range c.elements {
		if c.elements[i].ID == elementID {
			return i
		}
	}
	return -1
}

func (c *Controller) send(m protocol.Command) {
	c.metrics.RecordMessage("out", string(m.Type()))
	if err := c.port.Post(m); err != nil {
		c.log.Debug("Command not sent", zap.String("type", string(m.Type())), zap.Error(err))
	}
}

func (c *Controller) notify(level Level, msg string) {
	n := Notice{Level: level, Message: msg, Time: c.clock.Now()}
	for _, fn := range c.observers {
		fn(Event{Kind: EventNotice, Notice: &n})
	}
}

func (c *Controller) emitState(snap Snapshot) {
	for _, fn := range c.observers {
		s := snap
		fn(Event{Kind: EventState, Snapshot: &s})
	}
}

func truncateLabel(s string) string {
	r := []rune(s)
	if len(r) > labelLimit {
		return string(r[:labelLimit])
	}
	return s
}
