package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/solenoid-controller/internal/status"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 256

const publishTimeout = 5 * time.Second

// Options configures a RealClient.
type Options struct {
	Broker     string
	Device     string
	Ports      int
	Username   string
	Password   string
	BufferSize int

	// OnConnectionChange, if set, is called whenever the broker connection
	// goes up or down.
	OnConnectionChange func(connected bool)
}

// pahoClient is the subset of paho.Client used for publishing.
type pahoClient interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealClient publishes to and receives triggers from an actual MQTT broker.
type RealClient struct {
	client pahoClient
	topics Topics
	ports  int
	logger *zap.Logger
	cmds   chan Trigger
	notify func(bool)

	mu  sync.Mutex
	buf *ringBuffer
}

// ClientID returns a broker client ID for the device with a random suffix so
// that two daemons never evict each other.
func ClientID(device string) string {
	return fmt.Sprintf("%s-%s", device, uuid.NewString()[:8])
}

// NewRealClient connects to the broker and subscribes to the trigger topic.
// Connection retries continue in the background if the first attempt fails.
func NewRealClient(o Options, logger *zap.Logger) (*RealClient, error) {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}

	r := &RealClient{
		topics: TopicsFor(o.Device),
		ports:  o.Ports,
		logger: logger.Named("mqtt"),
		cmds:   make(chan Trigger, 16),
		notify: o.OnConnectionChange,
		buf:    newRingBuffer(o.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(ClientID(o.Device)).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(r.topics.System, string(will), 1, true).
		SetOnConnectHandler(r.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			r.logger.Warn("connection lost", zap.Error(err))
			r.setConnected(false)
		})

	client := paho.NewClient(opts)
	r.client = client

	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		r.logger.Warn("broker not reachable yet, retrying in background", zap.String("broker", o.Broker))
		return r, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return r, nil
}

func (r *RealClient) onConnect(c paho.Client) {
	r.logger.Info("connected", zap.String("trigger_topic", r.topics.Trigger))

	token := c.Subscribe(r.topics.Trigger, 1, func(_ paho.Client, msg paho.Message) {
		r.handleTrigger(msg.Payload())
	})
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		r.logger.Error("subscribe failed", zap.Error(token.Error()))
	}

	r.setConnected(true)
	r.flush()
}

func (r *RealClient) setConnected(connected bool) {
	if r.notify != nil {
		r.notify(connected)
	}
}

func (r *RealClient) handleTrigger(payload []byte) {
	t, err := ParseTrigger(payload, r.ports)
	if err != nil {
		r.logger.Warn("dropping trigger", zap.Error(err), zap.ByteString("payload", payload))
		return
	}

	select {
	case r.cmds <- t:
	default:
		r.logger.Warn("trigger queue full, dropping", zap.Int("port", t.Port))
	}
}

// Commands returns the channel of parsed triggers.
func (r *RealClient) Commands() <-chan Trigger {
	return r.cmds
}

// IsConnected reports whether the broker connection is currently open.
func (r *RealClient) IsConnected() bool {
	return r.client.IsConnectionOpen()
}

// Publish sends a controller event, buffering it while disconnected.
func (r *RealClient) Publish(event status.Event) error {
	payload, err := FormatEvent(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return r.send(bufferedMsg{topic: r.topics.Events, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event to the broker.
func (r *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) - we want lifecycle events delivered
	return r.send(bufferedMsg{topic: r.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

func (r *RealClient) send(msg bufferedMsg) error {
	if !r.client.IsConnectionOpen() {
		r.buffer(msg)
		return nil
	}

	if err := r.publish(msg); err != nil {
		r.buffer(msg)
		return err
	}
	return nil
}

func (r *RealClient) publish(msg bufferedMsg) error {
	token := r.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.topic, err)
	}
	return nil
}

func (r *RealClient) buffer(msg bufferedMsg) {
	r.mu.Lock()
	dropped := r.buf.push(msg)
	r.mu.Unlock()

	if dropped {
		r.logger.Warn("offline buffer full, dropping oldest messages")
	}
}

// flush replays buffered messages in order. Messages that fail again are
// re-buffered.
func (r *RealClient) flush() {
	r.mu.Lock()
	msgs := r.buf.drainAll()
	r.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	r.logger.Info("replaying buffered messages", zap.Int("count", len(msgs)))

	for i, msg := range msgs {
		if err := r.publish(msg); err != nil {
			r.logger.Warn("replay failed", zap.Error(err))
			for _, rest := range msgs[i:] {
				r.buffer(rest)
			}
			return
		}
	}
}

// Buffered returns the number of messages waiting for a connection.
func (r *RealClient) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.len()
}

// Close disconnects from the broker.
func (r *RealClient) Close() error {
	r.client.Disconnect(1000) // 1 second timeout
	return nil
}
