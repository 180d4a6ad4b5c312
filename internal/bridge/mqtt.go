package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/plantguard/edge/internal/config"
	"github.com/plantguard/edge/internal/logger"
)

// MQTTTransport is a Transport backed by an MQTT broker.
type MQTTTransport struct {
	cfg      config.MQTTConfig
	clientID string
	logger   *logger.Logger
	client   mqtt.Client

	mu            sync.RWMutex
	subscriptions map[string]Handler
	connected     bool
	onConnChange  func(connected bool)
}

// NewMQTTTransport prepares a client. Without a configured client id one
// is derived from deviceID and a random suffix, so two processes for the
// same device do not kick each other off the broker.
func NewMQTTTransport(cfg config.MQTTConfig, deviceID string, log *logger.Logger) *MQTTTransport {
	if log == nil {
		log = logger.NewNopLogger()
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("%s-%s", deviceID, strings.Split(uuid.NewString(), "-")[0])
	}
	return &MQTTTransport{
		cfg:           cfg,
		clientID:      clientID,
		logger:        log,
		subscriptions: make(map[string]Handler),
	}
}

// ClientID returns the id used on the broker.
func (t *MQTTTransport) ClientID() string {
	return t.clientID
}

// OnConnectionChange registers a callback for connect and connection-lost
// transitions.
func (t *MQTTTransport) OnConnectionChange(fn func(connected bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnChange = fn
}

// Connect dials the broker and waits up to ConnectTimeout. On
// ErrConnectTimeout the client keeps retrying in the background; once
// connected it reconnects on its own.
func (t *MQTTTransport) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.cfg.BrokerURL())
	opts.SetClientID(t.clientID)
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}
	opts.SetKeepAlive(t.cfg.KeepAlive)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		t.setConnected(true)
		t.logger.Info("MQTT connection established",
			"broker", t.cfg.BrokerURL(),
			"client_id", t.clientID,
		)
		t.resubscribe(c)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		t.setConnected(false)
		t.logger.Warn("MQTT connection lost, will auto-reconnect",
			"broker", t.cfg.BrokerURL(),
			"error", err,
		)
	}

	t.client = mqtt.NewClient(opts)
	t.logger.Info("Connecting to MQTT broker", "broker", t.cfg.BrokerURL())

	token := t.client.Connect()
	timeout := t.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-token.Done():
	case <-time.After(timeout):
		return fmt.Errorf("%w after %s", ErrConnectTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Subscribe registers handler for topic and subscribes immediately when
// connected. On every (re)connect all registered topics are subscribed
// again, as the session is clean.
func (t *MQTTTransport) Subscribe(topic string, handler Handler) error {
	t.mu.Lock()
	t.subscriptions[topic] = handler
	t.mu.Unlock()

	if t.client == nil || !t.client.IsConnectionOpen() {
		return nil
	}
	return t.subscribe(t.client, topic, handler)
}

func (t *MQTTTransport) subscribe(c mqtt.Client, topic string, handler Handler) error {
	token := c.Subscribe(topic, t.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(Message{Topic: msg.Topic(), Payload: msg.Payload()})
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt subscription to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscription to %s failed: %w", topic, err)
	}
	t.logger.Info("Subscribed to topic", "topic", topic, "qos", t.cfg.QoS)
	return nil
}

func (t *MQTTTransport) resubscribe(c mqtt.Client) {
	t.mu.RLock()
	subs := make(map[string]Handler, len(t.subscriptions))
	for topic, h := range t.subscriptions {
		subs[topic] = h
	}
	t.mu.RUnlock()

	// OnConnect runs on the client's goroutine; waiting on tokens here
	// would stall the connection.
	go func() {
		for topic, h := range subs {
			if err := t.subscribe(c, topic, h); err != nil {
				t.logger.Error("Failed to resubscribe", "topic", topic, "error", err)
			}
		}
	}()
}

// Publish sends payload and waits for the broker acknowledgement, bounded
// by PublishTimeout and ctx.
func (t *MQTTTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}

	token := t.client.Publish(topic, t.cfg.QoS, false, payload)
	timeout := t.cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case <-token.Done():
	case <-time.After(timeout):
		return fmt.Errorf("publish to %s timed out", topic)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the connection is currently up.
func (t *MQTTTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Disconnect closes the connection after a short grace period.
func (t *MQTTTransport) Disconnect() {
	if t.client != nil && t.client.IsConnected() {
		t.client.Disconnect(250)
		t.logger.Info("MQTT disconnected")
	}
	t.setConnected(false)
}

func (t *MQTTTransport) setConnected(v bool) {
	t.mu.Lock()
	changed := t.connected != v
	t.connected = v
	fn := t.onConnChange
	t.mu.Unlock()

	if changed && fn != nil {
		fn(v)
	}
}
