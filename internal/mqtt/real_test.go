package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/drain-monitor/internal/control"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// stubClient is a connected paho client that fails the next n publishes.
type stubClient struct {
	paho.Client

	mu        sync.Mutex
	open      bool
	failNext  int
	published []bufferedMsg
}

func (c *stubClient) IsConnected() bool { return c.IsConnectionOpen() }

func (c *stubClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *stubClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		return doneToken{err: errors.New("broker refused")}
	}
	c.published = append(c.published, bufferedMsg{topic: topic, payload: payload.([]byte), qos: qos, retained: retained})
	return doneToken{}
}

func (c *stubClient) reasons(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.published {
		require.Equal(t, TopicEvents, m.topic)
		var p Payload
		require.NoError(t, json.Unmarshal(m.payload, &p))
		out = append(out, p.Transition.Reason)
	}
	return out
}

func newStubPublisher(client *stubClient) *RealPublisher {
	p := newPublisher(Config{Broker: "tcp://stub:1883"})
	p.client = client
	return p
}

func withReason(r control.Reason) control.Transition {
	tr := transition()
	tr.Reason = r
	return tr
}

func TestRealPublisherFailedPublishGoesOutFirst(t *testing.T) {
	client := &stubClient{open: true, failNext: 1}
	p := newStubPublisher(client)

	require.Error(t, p.Publish(withReason(control.ReasonWaterDetected)))
	assert.Equal(t, 1, p.Buffered())

	require.NoError(t, p.Publish(withReason(control.ReasonTankFull)))
	require.NoError(t, p.Publish(withReason(control.ReasonTankEmpty)))
	require.NoError(t, p.Publish(withReason(control.ReasonSequenceError)))

	assert.Equal(t, 0, p.Buffered())
	assert.Equal(t, []string{"water_detected", "tank_full", "tank_empty", "sequence_error"}, client.reasons(t))
}

func TestRealPublisherFlushStopsAtFailure(t *testing.T) {
	client := &stubClient{open: true, failNext: 1}
	p := newStubPublisher(client)

	require.Error(t, p.Publish(withReason(control.ReasonWaterDetected)))

	// the replay of the held transition fails again
	client.failNext = 1
	require.Error(t, p.Publish(withReason(control.ReasonTankFull)))
	assert.Equal(t, 2, p.Buffered())
	assert.Empty(t, client.reasons(t))

	require.NoError(t, p.Publish(withReason(control.ReasonTankEmpty)))
	assert.Equal(t, 0, p.Buffered())
	assert.Equal(t, []string{"water_detected", "tank_full", "tank_empty"}, client.reasons(t))
}

func TestRealPublisherHoldsWhileDisconnected(t *testing.T) {
	client := &stubClient{}
	p := newStubPublisher(client)

	require.NoError(t, p.Publish(withReason(control.ReasonWaterDetected)))
	require.NoError(t, p.Publish(withReason(control.ReasonTankFull)))
	assert.Equal(t, 2, p.Buffered())
	assert.False(t, p.IsConnected())

	client.mu.Lock()
	client.open = true
	client.mu.Unlock()
	p.onConnect(client)

	assert.Equal(t, 0, p.Buffered())
	assert.Equal(t, []string{"water_detected", "tank_full"}, client.reasons(t))
}

func TestNewPublisherDefaults(t *testing.T) {
	p := newPublisher(Config{Broker: "tcp://stub:1883"})
	assert.Equal(t, DefaultClientID, p.cfg.ClientID)
	assert.Equal(t, DefaultBufferSize, p.cfg.BufferSize)
	assert.Equal(t, DefaultPublishTimeout, p.cfg.PublishTimeout)
}
