package mqtt

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/drain-monitor/internal/control"
)

func TestForwarderFlushKeepsOrder(t *testing.T) {
	f := NewFakePublisher()
	fwd := NewForwarder(f, nil, 0, 8)

	require.True(t, fwd.EnqueueSystem(SystemEvent{Event: EventStartup}))
	first := transition()
	second := transition()
	second.From, second.To, second.Reason = control.StatePumping, control.StateIdle, control.ReasonTankEmpty
	require.True(t, fwd.EnqueueTransition(first))
	require.True(t, fwd.EnqueueTransition(second))

	fwd.Flush()

	trs := f.Transitions()
	require.Len(t, trs, 2)
	assert.Equal(t, control.ReasonTankFull, trs[0].Reason)
	assert.Equal(t, control.ReasonTankEmpty, trs[1].Reason)
	require.Len(t, f.SystemEvents(), 1)
	assert.Equal(t, EventStartup, f.SystemEvents()[0].Event)
}

func TestForwarderDropsWhenFull(t *testing.T) {
	f := NewFakePublisher()
	fwd := NewForwarder(f, nil, 0, 2)

	assert.True(t, fwd.EnqueueTransition(transition()))
	assert.True(t, fwd.EnqueueTransition(transition()))
	assert.False(t, fwd.EnqueueTransition(transition()), "must not block")
	assert.EqualValues(t, 1, fwd.Dropped())

	fwd.Flush()
	assert.Len(t, f.Transitions(), 2)
}

func TestForwarderRunPublishesAndFlushesOnCancel(t *testing.T) {
	f := NewFakePublisher()
	fwd := NewForwarder(f, func() []byte { return []byte(`{"level":1}`) }, 10*time.Millisecond, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fwd.Run(ctx)
		close(done)
	}()

	fwd.EnqueueTransition(transition())
	require.Eventually(t, func() bool { return len(f.Transitions()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(f.Statuses()) >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	fwd.EnqueueSystem(SystemEvent{Event: EventShutdown})
	fwd.Flush()
	require.Len(t, f.SystemEvents(), 1)
	assert.Equal(t, EventShutdown, f.SystemEvents()[0].Event)
}

func TestForwarderReportsErrors(t *testing.T) {
	f := NewFakePublisher()
	f.SetPublishError(errors.New("broker down"))
	fwd := NewForwarder(f, func() []byte { return nil }, 0, 4)

	var failures atomic.Int32
	fwd.OnError(func(error) { failures.Add(1) })

	fwd.EnqueueTransition(transition())
	fwd.Flush()
	fwd.PublishStatus()

	assert.EqualValues(t, 2, failures.Load())
}

func TestForwarderWithoutStatus(t *testing.T) {
	f := NewFakePublisher()
	fwd := NewForwarder(f, nil, time.Millisecond, 0)

	fwd.PublishStatus()
	assert.Empty(t, f.Statuses())
}
