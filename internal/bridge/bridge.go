package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plantguard/edge/internal/config"
	"github.com/plantguard/edge/internal/logger"
	"github.com/plantguard/edge/internal/service"
	"github.com/plantguard/edge/internal/state"
)

// DefaultInboundBuffer is the inbound queue length used when none is set.
const DefaultInboundBuffer = 32

// Bridge is the command bridge service.
type Bridge struct {
	*service.ServiceBase

	transport Transport
	topics    config.TopicsConfig
	flag      *state.CaptureFlag
	settings  *state.SettingsStore
	inbound   chan Message
	now       func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	received      atomic.Uint64
	dropped       atomic.Uint64
	published     atomic.Uint64
	publishErrors atomic.Uint64
}

// Stats are the bridge counters.
type Stats struct {
	Connected     bool   `json:"connected"`
	Received      uint64 `json:"received"`
	Dropped       uint64 `json:"dropped"`
	Published     uint64 `json:"published"`
	PublishErrors uint64 `json:"publish_errors"`
}

// New creates a bridge that writes capture requests to flag and settings
// updates to settings.
func New(transport Transport, topics config.TopicsConfig, flag *state.CaptureFlag, settings *state.SettingsStore, inboundBuffer int, log *logger.Logger) *Bridge {
	if inboundBuffer <= 0 {
		inboundBuffer = DefaultInboundBuffer
	}
	return &Bridge{
		ServiceBase: service.NewServiceBase("bridge", log),
		transport:   transport,
		topics:      topics,
		flag:        flag,
		settings:    settings,
		inbound:     make(chan Message, inboundBuffer),
		now:         time.Now,
	}
}

// Start connects, subscribes to the command and settings topics and
// starts the inbound consumer. A slow broker does not block startup: the
// transport keeps retrying and subscriptions are applied on connect.
func (b *Bridge) Start(ctx context.Context) error {
	b.GetStatus().SetStatus(service.StatusStarting)

	if n, ok := b.transport.(interface{ OnConnectionChange(func(bool)) }); ok {
		n.OnConnectionChange(b.connectionChanged)
	}

	if err := b.transport.Connect(ctx); err != nil {
		if !errors.Is(err, ErrConnectTimeout) {
			b.GetStatus().SetError(err)
			return fmt.Errorf("failed to connect: %w", err)
		}
		b.LogWarn("Broker not reachable yet, continuing while the client retries", "error", err)
	}

	for _, topic := range []string{b.topics.Commands, b.topics.Settings} {
		if err := b.transport.Subscribe(topic, b.enqueue); err != nil {
			b.transport.Disconnect()
			b.GetStatus().SetError(err)
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go b.consume(runCtx)

	b.GetStatus().SetStatus(service.StatusRunning)
	b.LogInfo("Command bridge started",
		"commands", b.topics.Commands,
		"settings", b.topics.Settings,
	)
	return nil
}

// Stop ends the inbound consumer, discarding queued messages, and then
// disconnects the transport.
func (b *Bridge) Stop(ctx context.Context) error {
	b.GetStatus().SetStatus(service.StatusStopping)
	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("inbound consumer did not stop: %w", ctx.Err())
	}

	b.transport.Disconnect()
	if err != nil {
		b.GetStatus().SetError(err)
		return err
	}
	b.GetStatus().SetStatus(service.StatusStopped)
	b.LogInfo("Command bridge stopped")
	return nil
}

// enqueue runs on the transport goroutine and never blocks.
func (b *Bridge) enqueue(msg Message) {
	b.received.Add(1)
	select {
	case b.inbound <- msg:
	default:
		b.dropped.Add(1)
		b.LogWarn("Inbound queue full, dropping message", "topic", msg.Topic)
	}
}

func (b *Bridge) consume(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.inbound:
			b.handle(ctx, msg)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, msg Message) {
	switch msg.Topic {
	case b.topics.Commands:
		b.handleCommand(ctx, msg.Payload)
	case b.topics.Settings:
		b.handleSettings(msg.Payload)
	default:
		b.LogDebug("Ignoring message on unexpected topic", "topic", msg.Topic)
	}
}

func (b *Bridge) handleCommand(ctx context.Context, payload []byte) {
	cmd, err := parseCommand(payload)
	if err != nil {
		b.LogWarn("Ignoring malformed command", "error", err)
		return
	}

	b.LogInfo("Command received", "command", cmd.Command)
	b.PublishEvent(service.EventTypeCommandReceived, map[string]interface{}{
		"command": cmd.Command,
	})

	var ack Ack
	switch cmd.Command {
	case CommandCapture:
		b.flag.Request()
		ack = Ack{Success: true, Message: "capture scheduled"}
	case CommandWater, CommandChirp:
		ack = Ack{Message: fmt.Sprintf("%s is not supported on this device", cmd.Command)}
	default:
		ack = Ack{Message: fmt.Sprintf("unknown command %q", cmd.Command)}
	}
	ack.Timestamp = b.now().Format(time.RFC3339)

	if err := b.PublishJSON(ctx, b.topics.AckPrefix+"/"+cmd.Command, ack); err != nil {
		b.LogError("Failed to publish acknowledgement", err, "command", cmd.Command)
	}
}

func (b *Bridge) handleSettings(payload []byte) {
	values, dropped, err := parseSettings(payload)
	if err != nil {
		b.LogWarn("Ignoring malformed settings", "error", err)
		return
	}
	if len(dropped) > 0 {
		b.LogWarn("Ignoring non-numeric settings", "keys", dropped)
	}

	b.settings.Replace(values)
	b.LogInfo("Settings updated", "settings", values)
	b.PublishEvent(service.EventTypeSettingsUpdated, map[string]interface{}{
		"count": len(values),
	})
}

// PublishJSON marshals v and publishes it on topic.
func (b *Bridge) PublishJSON(ctx context.Context, topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		b.publishErrors.Add(1)
		return fmt.Errorf("failed to marshal message for %s: %w", topic, err)
	}
	if err := b.transport.Publish(ctx, topic, payload); err != nil {
		b.publishErrors.Add(1)
		return err
	}
	b.published.Add(1)
	return nil
}

// IsConnected reports the transport connection state.
func (b *Bridge) IsConnected() bool {
	return b.transport.IsConnected()
}

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Connected:     b.transport.IsConnected(),
		Received:      b.received.Load(),
		Dropped:       b.dropped.Load(),
		Published:     b.published.Load(),
		PublishErrors: b.publishErrors.Load(),
	}
}

func (b *Bridge) connectionChanged(connected bool) {
	if connected {
		b.PublishEvent(service.EventTypeBrokerConnected, nil)
		return
	}
	b.PublishEvent(service.EventTypeBrokerDisconnected, nil)
}
