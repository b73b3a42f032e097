package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	c := NewFake()
	var order []string

	c.AfterFunc(5*time.Second, func() { order = append(order, "five") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "two") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "two-again") })

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"two", "two-again"}, order)
	assert.Equal(t, 1, c.Pending())

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"two", "two-again", "five"}, order)
	assert.Zero(t, c.Pending())
}

func TestFakeStop(t *testing.T) {
	c := NewFake()
	fired := false

	timer := c.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFakeNestedScheduling(t *testing.T) {
	c := NewFake()
	var hits int

	c.AfterFunc(time.Second, func() {
		hits++
		c.AfterFunc(time.Second, func() { hits++ })
	})

	c.Advance(2 * time.Second)
	assert.Equal(t, 2, hits)
	assert.Equal(t, NewFake().Now().Add(2*time.Second), c.Now())
}
