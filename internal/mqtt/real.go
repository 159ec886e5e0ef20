package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/dial-tester/internal/dial"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	BufferSize  int
	Logger      *slog.Logger
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are queued and replayed on reconnect.
type RealPublisher struct {
	client      paho.Client
	topicCycles string
	topicSystem string
	logger      *slog.Logger

	mu     sync.Mutex
	outbox *outbox
}

// NewRealPublisher creates a publisher connected to the configured broker.
// The broker is told to announce OFFLINE on the system topic if the
// process disappears without a clean shutdown.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.ClientID == "" {
		opts.ClientID = "dial-tester"
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &RealPublisher{
		logger: opts.Logger,
		outbox: newOutbox(opts.BufferSize),
	}
	p.topicCycles, p.topicSystem = Topics(opts.TopicPrefix)

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventOffline})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(p.topicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.flush() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("mqtt: connection lost", "error", err)
		})

	p.client = paho.NewClient(co)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// paho keeps retrying in the background; queue until it connects.
		p.logger.Warn("mqtt: broker not reachable yet, queueing messages", "broker", opts.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// PublishCycle sends a decoded dial cycle to the broker.
func (p *RealPublisher) PublishCycle(c *dial.Cycle) error {
	payload, err := FormatCyclePayload(c)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(queuedMsg{topic: p.topicCycles, payload: payload})
}

// PublishSystem sends a system lifecycle event to the broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 so lifecycle events survive a flaky link
	return p.publish(queuedMsg{topic: p.topicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(m queuedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		overflow := p.outbox.push(m)
		p.mu.Unlock()
		if overflow {
			p.logger.Debug("mqtt: outbox full, dropped oldest", "topic", m.topic)
		}
		return nil
	}
	return p.send(m)
}

func (p *RealPublisher) send(m queuedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// flush replays queued messages. Called by paho on every (re)connect.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	msgs, dropped := p.outbox.drain()
	p.mu.Unlock()

	if dropped > 0 {
		p.logger.Warn("mqtt: messages lost while disconnected", "dropped", dropped)
	}
	if len(msgs) == 0 {
		return
	}
	p.logger.Info("mqtt: replaying queued messages", "count", len(msgs))
	// paho runs the connect handler on its own goroutine; waiting on
	// tokens here is allowed.
	for _, m := range msgs {
		if err := p.send(m); err != nil {
			p.logger.Warn("mqtt: replay failed", "topic", m.topic, "error", err)
		}
	}
}

// IsConnected reports whether the broker connection is currently open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
