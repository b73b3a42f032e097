package bootstrap

import (
	"context"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/document"
)

// Initializer is an agent that can be installed. Init must be idempotent.
type Initializer interface {
	Init()
}

// FrameTarget injects an in-process agent into a hosted document frame.
type FrameTarget struct {
	frame *document.Frame
	agent Initializer
}

// NewFrameTarget pairs a frame with the agent to install into it.
func NewFrameTarget(frame *document.Frame, agent Initializer) *FrameTarget {
	return &FrameTarget{frame: frame, agent: agent}
}

// ReadyState reads readiness through the frame's origin policy.
func (f *FrameTarget) ReadyState() (document.ReadyState, error) { return f.frame.ReadyState() }

// OnLoad waits for the frame's load signal.
func (f *FrameTarget) OnLoad(fn func()) { f.frame.OnLoad(fn) }

// Inject initializes the agent.
func (f *FrameTarget) Inject(context.Context) error {
	f.agent.Init()
	return nil
}

var _ Target = (*FrameTarget)(nil)
