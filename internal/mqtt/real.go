package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"

	"github.com/sweeney/drain-monitor/internal/control"
)

// Config configures a RealPublisher.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Messages kept while the broker is unreachable.
	BufferSize int
	// How long WaitConnected keeps retrying.
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Defaults.
const (
	DefaultClientID       = "drain-monitor"
	DefaultBufferSize     = 100
	DefaultConnectTimeout = 10 * time.Second
	DefaultPublishTimeout = 5 * time.Second
)

var errNotConnected = errors.New("not connected")

// RealPublisher publishes to an actual MQTT broker. Messages that could not
// be published, because the connection was down or the publish failed, are
// buffered and go out in order ahead of anything newer.
type RealPublisher struct {
	client  paho.Client
	cfg     Config
	breaker *gobreaker.CircuitBreaker

	// sendMu serializes publishing so held messages are never overtaken.
	sendMu sync.Mutex

	mu     sync.Mutex
	buffer *outbox
}

// NewRealPublisher creates a publisher and starts connecting in the
// background. paho keeps retrying until the broker is reachable; use
// WaitConnected to block until the first connection.
func NewRealPublisher(cfg Config) (*RealPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: no broker")
	}
	p := newPublisher(cfg)
	cfg = p.cfg

	will, _ := FormatSystemPayload(SystemEvent{Event: EventOffline, Reason: "connection_lost"})

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			slog.Warn("mqtt connection lost", "err", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p, nil
}

// newPublisher fills in defaults and builds everything but the client.
func newPublisher(cfg Config) *RealPublisher {
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}

	return &RealPublisher{
		cfg:    cfg,
		buffer: newOutbox(cfg.BufferSize),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "mqtt-publish",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// WaitConnected blocks until the client is connected, backing off
// exponentially up to the configured connect timeout.
func (p *RealPublisher) WaitConnected(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = p.cfg.ConnectTimeout

	err := backoff.Retry(func() error {
		if p.client.IsConnected() {
			return nil
		}
		return errNotConnected
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("connect to broker %s: %w", p.cfg.Broker, err)
	}
	return nil
}

// onConnect replays everything buffered while disconnected. paho calls it
// on its own goroutine after every (re)connect.
func (p *RealPublisher) onConnect(paho.Client) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	slog.Info("mqtt connected", "broker", p.cfg.Broker, "replay", p.Buffered())
	if err := p.flush(); err != nil {
		slog.Warn("mqtt replay", "err", err, "held", p.Buffered())
	}
}

// Publish sends a state transition to the MQTT broker.
func (p *RealPublisher) Publish(tr control.Transition) error {
	payload, err := FormatPayload(tr)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1: transitions are the record of what the pump did.
	return p.send(TopicEvents, 1, false, payload)
}

// PublishStatus sends a status document. QoS 0, not retained: the next one
// is at most one interval away.
func (p *RealPublisher) PublishStatus(payload []byte) error {
	return p.send(TopicStatus, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(TopicSystem, 1, event.Retained, payload)
}

func (p *RealPublisher) send(topic string, qos byte, retained bool, payload []byte) error {
	msg := bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if !p.client.IsConnectionOpen() {
		p.hold(msg)
		return nil
	}
	if p.Buffered() > 0 {
		p.hold(msg)
		return p.flush()
	}
	if err := p.publish(msg); err != nil {
		p.hold(msg)
		return err
	}
	return nil
}

// flush publishes the outbox in order and stops at the first failure,
// putting the unsent remainder back at the front. Callers hold sendMu.
func (p *RealPublisher) flush() error {
	p.mu.Lock()
	msgs := p.buffer.drain()
	p.mu.Unlock()

	for i, m := range msgs {
		if err := p.publish(m); err != nil {
			p.mu.Lock()
			p.buffer.requeue(msgs[i:])
			p.mu.Unlock()
			return err
		}
	}
	return nil
}

func (p *RealPublisher) publish(m bufferedMsg) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(p.cfg.PublishTimeout) {
			return nil, fmt.Errorf("publish %s: timeout", m.topic)
		}
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("publish %s: %w", m.topic, err)
		}
		return nil, nil
	})
	return err
}

func (p *RealPublisher) hold(msg bufferedMsg) {
	p.mu.Lock()
	p.buffer.push(msg)
	p.mu.Unlock()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// IsConnected reports whether the client currently holds a connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second quiesce
	return nil
}
