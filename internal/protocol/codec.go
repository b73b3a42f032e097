package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var (
	ErrMissingType      = errors.New("protocol: missing message type")
	ErrUnknownType      = errors.New("protocol: unknown message type")
	ErrMalformedPayload = errors.New("protocol: malformed payload")
	ErrWrongDirection   = errors.New("protocol: message travels the other direction")
)

var api = sonic.ConfigStd

// wire is the serialized form: {"type": ..., "payload": {...}}.
type wire struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes m.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, ErrMissingType
	}
	payload, err := api.Marshal(m.payload())
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Type(), err)
	}
	return api.Marshal(wire{Type: m.Type(), Payload: payload})
}

// Decode parses a message of any direction.
func Decode(data []byte) (Message, error) {
	var w wire
	if err := api.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if w.Type == "" {
		return nil, ErrMissingType
	}

	switch w.Type {
	case TypeReady:
		return Ready{}, nil
	case TypeRequestElements:
		var m RequestElements
		return m, decodePayload(w, &m)
	case TypeElementsLoaded:
		var m ElementsLoaded
		if err := decodePayload(w, &m); err != nil {
			return nil, err
		}
		if m.Elements == nil {
			return nil, fmt.Errorf("%w: %s without elements", ErrMalformedPayload, w.Type)
		}
		return m, nil
	case TypeElementSelected:
		var m ElementSelected
		if err := decodePayload(w, &m.Element); err != nil {
			return nil, err
		}
		if m.Element.Selector == "" {
			return nil, fmt.Errorf("%w: %s without selector", ErrMalformedPayload, w.Type)
		}
		return m, nil
	case TypeUpdateElement:
		var m UpdateElement
		return m, decodePayload(w, &m)
	case TypeElementUpdated:
		var m ElementUpdated
		return m, decodePayload(w, &m)
	case TypeHighlightElement:
		var m HighlightElement
		return m, decodePayload(w, &m)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
}

// DecodeCommand parses a controller -> agent message.
func DecodeCommand(data []byte) (Command, error) {
	m, err := Decode(data)
	if err != nil {
		return nil, err
	}
	c, ok := m.(Command)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWrongDirection, m.Type())
	}
	return c, nil
}

// DecodeEvent parses an agent -> controller message.
func DecodeEvent(data []byte) (Event, error) {
	m, err := Decode(data)
	if err != nil {
		return nil, err
	}
	e, ok := m.(Event)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWrongDirection, m.Type())
	}
	return e, nil
}

func decodePayload(w wire, into any) error {
	if len(w.Payload) == 0 || string(w.Payload) == "null" {
		return nil
	}
	if err := api.Unmarshal(w.Payload, into); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, w.Type, err)
	}
	return nil
}
