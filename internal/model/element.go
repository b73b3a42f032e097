// Package model defines the value types shared by the agent, the controller
// and the wire protocol: editable elements and edit records.
package model

// ElementType is the semantic role assigned to a scanned node.
type ElementType string

const (
	TypeHeading   ElementType = "heading"
	TypeParagraph ElementType = "paragraph"
	TypeImage     ElementType = "image"
	TypeButton    ElementType = "button"
	TypeLink      ElementType = "link"
	TypeText      ElementType = "text"
	TypeSection   ElementType = "section"
)

// Valid reports whether t is one of the known element types.
func (t ElementType) Valid() bool {
	switch t {
	case TypeHeading, TypeParagraph, TypeImage, TypeButton, TypeLink, TypeText, TypeSection:
		return true
	}
	return false
}

// EditableElement is one addressable node of the target document at scan
// time. IDs are unique per scan only; Parent and Children reference IDs of
// the same scan and exist for display grouping.
type EditableElement struct {
	ID         string            `json:"id"`
	Type       ElementType       `json:"type"`
	Selector   string            `json:"selector"`
	Content    string            `json:"content"`
	HTML       string            `json:"html"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Label      string            `json:"label"`
	Parent     string            `json:"parent,omitempty"`
	Children   []string          `json:"children,omitempty"`
}

// Clone returns a deep copy of e.
func (e EditableElement) Clone() EditableElement {
	out := e
	if e.Attributes != nil {
		out.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			out.Attributes[k] = v
		}
	}
	if e.Children != nil {
		out.Children = append([]string(nil), e.Children...)
	}
	return out
}

// EditRecord is one successfully applied mutation, as handed to the
// persistence collaborator.
type EditRecord struct {
	Selector string      `json:"selector"`
	Content  string      `json:"content"`
	Type     ElementType `json:"type"`
}
