package controller

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/model"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
)

// OnReady asks for a scan right away instead of waiting for the agent.
func (c *Controller) OnReady(protocol.Ready) {
	c.log.Debug("Agent ready")
	c.RequestElements()
}

// OnElementsLoaded replaces the element model. A reply correlated to a scan
// request older than one already answered is stale and dropped; replies
// without a correlation id are matched by type alone.
func (c *Controller) OnElementsLoaded(m protocol.ElementsLoaded) {
	c.mu.Lock()
	if m.CorrelationID != "" {
		i := indexOf(c.scans, m.CorrelationID)
		if i < 0 {
			c.mu.Unlock()
			c.log.Debug("Dropping stale element report", zap.String("correlation", m.CorrelationID))
			return
		}
		c.scans = c.scans[i+1:]
	}

	c.elements = make([]model.EditableElement, len(m.Elements))
	for i, el := range m.Elements {
		c.elements[i] = el.Clone()
	}
	c.loaded = true
	c.notLoaded = false
	if c.state == Loading {
		c.state = Idle
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info("Elements loaded", zap.Int("elements", len(m.Elements)))
	c.notify(LevelSuccess, fmt.Sprintf("Loaded %d elements", len(m.Elements)))
	c.emitState(snap)
}

// OnElementSelected makes a clicked element current, unless in ReadOnly.
func (c *Controller) OnElementSelected(m protocol.ElementSelected) {
	c.mu.Lock()
	if c.mode == ReadOnly {
		c.mu.Unlock()
		c.log.Debug("Ignoring selection in read-only mode", zap.String("selector", m.Element.Selector))
		return
	}
	el := m.Element.Clone()
	c.selected = &el
	c.value = el.Content
	c.state = Selected
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emitState(snap)
}

// OnElementUpdated settles a pending update. On success the cached element
// content follows the live document and the edit is recorded; on failure
// the edited value stays so the operator can retry.
func (c *Controller) OnElementUpdated(m protocol.ElementUpdated) {
	c.mu.Lock()
	p, matched := c.takePending(m)
	if !matched {
		c.mu.Unlock()
		c.log.Debug("Update reply without pending request", zap.String("selector", m.Selector))
		if m.Success {
			c.notify(LevelSuccess, "Element updated")
		} else {
			c.notify(LevelError, "Could not update element")
		}
		return
	}

	if !m.Success {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.log.Info("Element update failed", zap.String("selector", p.selector))
		c.notify(LevelError, fmt.Sprintf("Could not update %s. The element may have changed; try again or reload.", p.selector))
		c.emitState(snap)
		return
	}

	for i := range c.elements {
		if c.elements[i].Selector == p.selector {
			c.elements[i].Content = p.content
			if label := truncateLabel(p.content); label != "" {
				c.elements[i].Label = label
			}
		}
	}
	c.acc.Append(model.EditRecord{Selector: p.selector, Content: p.content, Type: p.elementType})
	if c.selected != nil && c.selected.Selector == p.selector {
		c.selected.Content = p.content
		if c.state == Editing && c.value == p.content {
			c.state = Selected
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(LevelSuccess, "Element updated")
	c.emitState(snap)
}

// takePending removes and returns the request m answers: by correlation id
// when present, else the oldest pending update for the same selector.
func (c *Controller) takePending(m protocol.ElementUpdated) (pendingUpdate, bool) {
	for i, p := range c.pending {
		match := p.correlationID == m.CorrelationID
		if m.CorrelationID == "" {
			match = p.selector == m.Selector
		}
		if match {
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			return p, true
		}
	}
	return pendingUpdate{}, false
}

func indexOf(ids []string, want string) int {
	for i, v := range ids {
		if v == want {
			return i
		}
	}
	return -1
}

var _ protocol.EventHandler = (*Controller)(nil)
