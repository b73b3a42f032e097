package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
)

func TestBindingRoundTrip(t *testing.T) {
	var sent [][]byte
	b := NewBinding("https://site.example", func(data []byte) error {
		sent = append(sent, data)
		return nil
	}, nil)

	var got inbox
	b.Listen(got.add)

	require.NoError(t, b.Post(protocol.HighlightElement{Selector: "#t"}))
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"type":"HIGHLIGHT_ELEMENT","payload":{"selector":"#t"}}`, string(sent[0]))

	b.Receive([]byte(`{"type":"READY"}`))
	b.Receive([]byte(`not json`))
	b.SetOrigin("https://site.example:8443")
	b.Receive([]byte(`{"type":"ELEMENT_UPDATED","payload":{"selector":"#t","success":true}}`))

	envs := got.snapshot()
	require.Len(t, envs, 2)
	assert.Equal(t, "https://site.example", envs[0].Origin)
	assert.Equal(t, "https://site.example:8443", envs[1].Origin)
}

func TestBindingClosed(t *testing.T) {
	b := NewBinding("o", func([]byte) error { return nil }, nil)
	var got inbox
	b.Listen(got.add)
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Post(protocol.Ready{}), ErrClosed)
	b.Receive([]byte(`{"type":"READY"}`))
	assert.Zero(t, got.len())
}
