package controller

import (
	"errors"
	"time"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/model"
)

// State is the selection/editing state.
type State string

const (
	Loading  State = "loading"
	Idle     State = "idle"
	Selected State = "selected"
	Editing  State = "editing"
)

// Mode is the preview sub-state, orthogonal to State.
type Mode string

const (
	Interactive Mode = "interactive"
	ReadOnly    Mode = "read_only"
)

var (
	ErrReadOnly       = errors.New("controller: read-only mode")
	ErrNoSelection    = errors.New("controller: no element selected")
	ErrUnknownElement = errors.New("controller: unknown element")
	ErrNoSyncer       = errors.New("controller: no sync collaborator configured")
)

// Level grades an operator notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is a message surfaced to the operator.
type Notice struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	PageID    string                  `json:"pageId"`
	State     State                   `json:"state"`
	Mode      Mode                    `json:"mode"`
	NotLoaded bool                    `json:"notLoaded"`
	Elements  []model.EditableElement `json:"elements"`
	Selected  *model.EditableElement  `json:"selected,omitempty"`
	Value     string                  `json:"value"`
	Pending   int                     `json:"pendingUpdates"`
	Edits     int                     `json:"edits"`
}

// EventKind discriminates observer events.
type EventKind string

const (
	EventNotice EventKind = "notice"
	EventState  EventKind = "state"
)

// Event is delivered to observers after every transition and notice.
type Event struct {
	Kind     EventKind `json:"kind"`
	Notice   *Notice   `json:"notice,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// pendingUpdate is an UPDATE_ELEMENT awaiting its reply.
type pendingUpdate struct {
	correlationID string
	selector      string
	content       string
	elementType   model.ElementType
}
