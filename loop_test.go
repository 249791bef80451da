package director

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsInOrder(t *testing.T) {
	loop, _ := startLoop(t)

	var got []int
	for i := 0; i < 5; i++ {
		loop.Post(func() { got = append(got, i) })
	}
	// posting from a callback appends behind the current queue
	loop.Post(func() {
		loop.Post(func() { got = append(got, 99) })
	})
	onLoop(t, loop, func() {})
	onLoop(t, loop, func() {})

	assert.Equal(t, []int{0, 1, 2, 3, 4, 99}, got)
}

func TestLoopAfterFunc(t *testing.T) {
	loop, clock := startLoop(t)

	fired := make(chan struct{})
	onLoop(t, loop, func() {
		loop.AfterFunc(time.Second, func() { close(fired) })
	})

	advance(t, clock, 1, 999*time.Millisecond)
	select {
	case <-fired:
		t.Fatal("fired early")
	default:
	}

	clock.Advance(time.Millisecond)
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestLoopInvokeHonorsContext(t *testing.T) {
	// never started, so nothing drains the queue
	loop := NewLoop(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := loop.Invoke(ctx, func() {})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotNil(t, loop.Clock())
}
