package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/protocol"
)

func TestRelayWithoutPeer(t *testing.T) {
	r := NewRelay()
	assert.False(t, r.Attached())
	assert.ErrorIs(t, r.Post(protocol.RequestElements{}), ErrNoPeer)
}

func TestRelayForwardsBothWays(t *testing.T) {
	r := NewRelay()
	near, far := NewPipe("http://localhost:8000", "http://localhost:3000", nil)
	defer far.Close()
	require.NoError(t, r.Attach(near))
	assert.True(t, r.Attached())

	var toController, toPeer inbox
	r.Listen(toController.add)
	far.Listen(toPeer.add)

	require.NoError(t, far.Post(protocol.Ready{}))
	require.NoError(t, r.Post(protocol.RequestElements{CorrelationID: "c1"}))

	require.Eventually(t, func() bool { return toController.len() == 1 && toPeer.len() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "http://localhost:3000", toController.snapshot()[0].Origin)
	assert.Equal(t, protocol.RequestElements{CorrelationID: "c1"}, toPeer.snapshot()[0].Message)
}

func TestRelayIgnoresReplacedPeer(t *testing.T) {
	r := NewRelay()
	var got inbox
	r.Listen(got.add)

	oldNear, oldFar := NewPipe("ctl", "http://localhost:3000", nil)
	defer oldFar.Close()
	require.NoError(t, r.Attach(oldNear))

	newNear, newFar := NewPipe("ctl", "http://localhost:3001", nil)
	defer newFar.Close()
	require.NoError(t, r.Attach(newNear))

	assert.ErrorIs(t, oldNear.Post(protocol.Ready{}), ErrClosed, "replaced peer is closed")
	require.NoError(t, newFar.Post(protocol.Ready{}))

	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "http://localhost:3001", got.snapshot()[0].Origin)
}

func TestRelayDetachOnlyCurrent(t *testing.T) {
	r := NewRelay()
	a, aFar := NewPipe("ctl", "peer-a", nil)
	defer aFar.Close()
	b, bFar := NewPipe("ctl", "peer-b", nil)
	defer bFar.Close()

	require.NoError(t, r.Attach(a))
	require.NoError(t, r.Attach(b))
	r.Detach(a)
	assert.True(t, r.Attached())

	var got inbox
	r.Listen(got.add)
	r.Detach(b)
	assert.False(t, r.Attached())

	require.NoError(t, bFar.Post(protocol.Ready{}))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, got.len(), "detached peer is not heard")
}

func TestRelayClose(t *testing.T) {
	r := NewRelay()
	near, far := NewPipe("ctl", "peer", nil)
	defer far.Close()
	require.NoError(t, r.Attach(near))

	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Post(protocol.Ready{}), ErrClosed)
	assert.ErrorIs(t, near.Post(protocol.Ready{}), ErrClosed)

	other, otherFar := NewPipe("ctl", "peer", nil)
	defer otherFar.Close()
	assert.ErrorIs(t, r.Attach(other), ErrClosed)
}
