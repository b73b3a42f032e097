// Package protocol defines the closed set of messages exchanged between the
// in-document agent and the controller, their wire codec, and the origin
// allow-list gate applied to inbound traffic.
//
// Messages are split by direction. Commands travel controller -> agent and
// are consumed by a CommandHandler; events travel agent -> controller and
// are consumed by an EventHandler. Both handler interfaces list one method
// per message kind, so adding a kind is a compile-time-checked change for
// every consumer.
package protocol

import (
	"github.com/GriffinCanCode/VisualEdit/backend/internal/model"
)

// Type is the wire discriminator of a message.
type Type string

const (
	TypeReady            Type = "READY"
	TypeRequestElements  Type = "REQUEST_ELEMENTS"
	TypeElementsLoaded   Type = "ELEMENTS_LOADED"
	TypeElementSelected  Type = "ELEMENT_SELECTED"
	TypeUpdateElement    Type = "UPDATE_ELEMENT"
	TypeElementUpdated   Type = "ELEMENT_UPDATED"
	TypeHighlightElement Type = "HIGHLIGHT_ELEMENT"
)

// Message is any protocol message. It is implemented only by the types in
// this package.
type Message interface {
	Type() Type
	payload() any
	sealed()
}

// Command is a controller -> agent message.
type Command interface {
	Message
	acceptCommand(CommandHandler)
}

// Event is an agent -> controller message.
type Event interface {
	Message
	acceptEvent(EventHandler)
}

// CommandHandler consumes every command kind.
type CommandHandler interface {
	OnRequestElements(RequestElements)
	OnUpdateElement(UpdateElement)
	OnHighlightElement(HighlightElement)
}

// EventHandler consumes every event kind.
type EventHandler interface {
	OnReady(Ready)
	OnElementsLoaded(ElementsLoaded)
	OnElementSelected(ElementSelected)
	OnElementUpdated(ElementUpdated)
}

// DispatchCommand routes c to the matching method of h.
func DispatchCommand(c Command, h CommandHandler) { c.acceptCommand(h) }

// DispatchEvent routes e to the matching method of h.
func DispatchEvent(e Event, h EventHandler) { e.acceptEvent(h) }

// Ready announces that the agent finished initializing.
type Ready struct{}

// RequestElements asks the agent to rescan. CorrelationID is echoed in the
// resulting ElementsLoaded when set.
type RequestElements struct {
	CorrelationID string `json:"correlationId,omitempty"`
}

// ElementsLoaded carries a full scan result.
type ElementsLoaded struct {
	Elements      []model.EditableElement `json:"elements"`
	CorrelationID string                  `json:"correlationId,omitempty"`
}

// ElementSelected reports an element picked inside the document. Its
// payload is the element itself.
type ElementSelected struct {
	Element model.EditableElement
}

// UpdateElement asks the agent to replace the content of the node matched
// by Selector.
type UpdateElement struct {
	Selector      string `json:"selector"`
	Content       string `json:"content"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// ElementUpdated reports the outcome of an UpdateElement.
type ElementUpdated struct {
	Selector      string `json:"selector"`
	Success       bool   `json:"success"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// HighlightElement asks the agent to visually mark the node matched by
// Selector.
type HighlightElement struct {
	Selector string `json:"selector"`
}

func (Ready) Type() Type            { return TypeReady }
func (RequestElements) Type() Type  { return TypeRequestElements }
func (ElementsLoaded) Type() Type   { return TypeElementsLoaded }
func (ElementSelected) Type() Type  { return TypeElementSelected }
func (UpdateElement) Type() Type    { return TypeUpdateElement }
func (ElementUpdated) Type() Type   { return TypeElementUpdated }
func (HighlightElement) Type() Type { return TypeHighlightElement }

func (m Ready) payload() any            { return struct{}{} }
func (m RequestElements) payload() any  { return m }
func (m ElementsLoaded) payload() any   { return m }
func (m ElementSelected) payload() any  { return m.Element }
func (m UpdateElement) payload() any    { return m }
func (m ElementUpdated) payload() any   { return m }
func (m HighlightElement) payload() any { return m }

func (Ready) sealed()            {}
func (RequestElements) sealed()  {}
func (ElementsLoaded) sealed()   {}
func (ElementSelected) sealed()  {}
func (UpdateElement) sealed()    {}
func (ElementUpdated) sealed()   {}
func (HighlightElement) sealed() {}

func (m RequestElements) acceptCommand(h CommandHandler)  { h.OnRequestElements(m) }
func (m UpdateElement) acceptCommand(h CommandHandler)    { h.OnUpdateElement(m) }
func (m HighlightElement) acceptCommand(h CommandHandler) { h.OnHighlightElement(m) }

func (m Ready) acceptEvent(h EventHandler)           { h.OnReady(m) }
func (m ElementsLoaded) acceptEvent(h EventHandler)  { h.OnElementsLoaded(m) }
func (m ElementSelected) acceptEvent(h EventHandler) { h.OnElementSelected(m) }
func (m ElementUpdated) acceptEvent(h EventHandler)  { h.OnElementUpdated(m) }

// Envelope is a message as delivered by a channel: the message plus the
// origin of the document that sent it.
type Envelope struct {
	Origin  string
	Message Message
}
