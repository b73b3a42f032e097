package document

import "strings"

// Frame is the embedding side's handle on a document, the way an iframe
// element is. Readiness reads are subject to the same-origin policy: an
// embedder from another origin gets ErrAccessDenied and must rely on the
// load signal, which is always observable.
type Frame struct {
	doc            *Document
	embedderOrigin string
}

// NewFrame embeds doc into a page served from embedderOrigin.
func NewFrame(doc *Document, embedderOrigin string) *Frame {
	return &Frame{doc: doc, embedderOrigin: embedderOrigin}
}

// Document returns the embedded document.
func (f *Frame) Document() *Document { return f.doc }

// SameOrigin reports whether the embedder may read the document directly.
func (f *Frame) SameOrigin() bool {
	return strings.EqualFold(f.embedderOrigin, f.doc.Origin())
}

// ReadyState reads the embedded document's readiness.
func (f *Frame) ReadyState() (ReadyState, error) {
	if !f.SameOrigin() {
		return "", ErrAccessDenied
	}
	return f.doc.ReadyState(), nil
}

// OnLoad registers fn for the frame's load signal.
func (f *Frame) OnLoad(fn func()) { f.doc.OnLoad(fn) }
