package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
)

type inbox struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (i *inbox) add(env protocol.Envelope) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.envs = append(i.envs, env)
}

func (i *inbox) snapshot() []protocol.Envelope {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]protocol.Envelope(nil), i.envs...)
}

func (i *inbox) len() int { return len(i.snapshot()) }

func TestPipeDeliversWithSenderOrigin(t *testing.T) {
	ctl, doc := NewPipe("http://localhost:4000", "http://localhost:3000", nil)
	defer ctl.Close()
	defer doc.Close()

	var got inbox
	ctl.Listen(got.add)

	require.NoError(t, doc.Post(protocol.Ready{}))
	require.NoError(t, doc.Post(protocol.ElementUpdated{Selector: "#t", Success: true}))

	require.Eventually(t, func() bool { return got.len() == 2 }, time.Second, 5*time.Millisecond)
	envs := got.snapshot()
	assert.Equal(t, "http://localhost:3000", envs[0].Origin)
	assert.Equal(t, protocol.Ready{}, envs[0].Message)
	assert.Equal(t, protocol.ElementUpdated{Selector: "#t", Success: true}, envs[1].Message)
}

func TestPipeListenerMayReply(t *testing.T) {
	ctl, doc := NewPipe("http://localhost:4000", "http://localhost:3000", nil)
	defer ctl.Close()
	defer doc.Close()

	ctl.Listen(func(env protocol.Envelope) {
		if env.Message.Type() == protocol.TypeReady {
			_ = ctl.Post(protocol.RequestElements{})
		}
	})
	var got inbox
	doc.Listen(got.add)

	require.NoError(t, doc.Post(protocol.Ready{}))
	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, protocol.TypeRequestElements, got.snapshot()[0].Message.Type())
}

func TestPipeDropsMalformedFrames(t *testing.T) {
	ctl, doc := NewPipe("http://localhost:4000", "http://localhost:3000", nil)
	defer ctl.Close()
	defer doc.Close()

	var got inbox
	ctl.Listen(got.add)

	require.NoError(t, doc.PostRaw([]byte(`{"payload":{}}`)))
	require.NoError(t, doc.PostRaw([]byte(`{"type":"NOPE"}`)))
	require.NoError(t, doc.Post(protocol.Ready{}))

	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, protocol.TypeReady, got.snapshot()[0].Message.Type())
}

func TestPipeClose(t *testing.T) {
	ctl, doc := NewPipe("a", "b", nil)

	var got inbox
	ctl.Listen(got.add)

	require.NoError(t, ctl.Close())
	require.NoError(t, ctl.Close())
	assert.ErrorIs(t, ctl.Post(protocol.Ready{}), ErrClosed)

	// Posting towards a closed end is not an error for the sender.
	assert.NoError(t, doc.Post(protocol.Ready{}))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, got.len())
	require.NoError(t, doc.Close())
}
