package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantguard/edge/internal/config"
	"github.com/plantguard/edge/internal/service"
	"github.com/plantguard/edge/internal/state"
)

type published struct {
	topic   string
	payload []byte
}

// fakeTransport delivers inbound messages synchronously through deliver
// and records publishes.
type fakeTransport struct {
	mu          sync.Mutex
	handlers    map[string]Handler
	published   []published
	connected   bool
	connectErr  error
	publishErr  error
	disconnects int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]Handler)}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil && !errors.Is(f.connectErr, ErrConnectTimeout) {
		return f.connectErr
	}
	f.connected = f.connectErr == nil
	return f.connectErr
}

func (f *fakeTransport) Subscribe(topic string, h Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeTransport) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{topic: topic, payload: payload})
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakeTransport) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	h(Message{Topic: topic, Payload: []byte(payload)})
}

func (f *fakeTransport) publishedOn(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func testTopics() config.TopicsConfig {
	return config.TopicsConfig{
		Commands:      "pizero2w/commands",
		Settings:      "pizero2w/settings",
		SensorReading: "pizero2w/sensorreading",
		Inference:     "pizero2w/inference",
		AckPrefix:     "pizero2w/ack",
	}
}

func startBridge(t *testing.T, tr *fakeTransport) (*Bridge, *state.CaptureFlag, *state.SettingsStore) {
	t.Helper()
	flag := &state.CaptureFlag{}
	settings := &state.SettingsStore{}
	b := New(tr, testTopics(), flag, settings, 4, nil)
	b.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(context.Background()) })
	return b, flag, settings
}

func TestBridge_CaptureCommandSetsFlagAndAcks(t *testing.T) {
	tr := newFakeTransport()
	b, flag, _ := startBridge(t, tr)
	assert.Equal(t, service.StatusRunning, b.GetStatus().GetStatus())

	tr.deliver("pizero2w/commands", `{"command":"capture","params":{},"timestamp":"2024-05-01T10:00:00"}`)

	require.Eventually(t, func() bool { return len(tr.publishedOn("pizero2w/ack/capture")) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, flag.Consume())

	var ack Ack
	require.NoError(t, json.Unmarshal(tr.publishedOn("pizero2w/ack/capture")[0].payload, &ack))
	assert.Equal(t, Ack{Success: true, Message: "capture scheduled", Timestamp: "2024-05-01T10:00:00Z"}, ack)
}

func TestBridge_TwoCaptureCommandsOneCapture(t *testing.T) {
	tr := newFakeTransport()
	_, flag, _ := startBridge(t, tr)

	tr.deliver("pizero2w/commands", `{"command":"capture"}`)
	tr.deliver("pizero2w/commands", `{"command":"capture"}`)
	require.Eventually(t, func() bool { return len(tr.publishedOn("pizero2w/ack/capture")) == 2 }, time.Second, 5*time.Millisecond)

	assert.True(t, flag.Consume())
	assert.False(t, flag.Consume())
}

func TestBridge_UnsupportedCommandsAreRefused(t *testing.T) {
	tr := newFakeTransport()
	_, flag, _ := startBridge(t, tr)

	tr.deliver("pizero2w/commands", `{"command":"water"}`)
	tr.deliver("pizero2w/commands", `{"command":"dance"}`)
	require.Eventually(t, func() bool {
		return len(tr.publishedOn("pizero2w/ack/water")) == 1 && len(tr.publishedOn("pizero2w/ack/dance")) == 1
	}, time.Second, 5*time.Millisecond)

	for _, topic := range []string{"pizero2w/ack/water", "pizero2w/ack/dance"} {
		var ack Ack
		require.NoError(t, json.Unmarshal(tr.publishedOn(topic)[0].payload, &ack))
		assert.False(t, ack.Success, topic)
		assert.NotEmpty(t, ack.Message, topic)
	}
	assert.False(t, flag.Pending())
}

func TestBridge_MalformedMessagesAreSkipped(t *testing.T) {
	tr := newFakeTransport()
	_, flag, settings := startBridge(t, tr)

	tr.deliver("pizero2w/commands", `{not json`)
	tr.deliver("pizero2w/commands", `{"params":{}}`)
	tr.deliver("pizero2w/settings", `[1,2,3]`)
	tr.deliver("pizero2w/commands", `{"command":"capture"}`)

	require.Eventually(t, flag.Pending, time.Second, 5*time.Millisecond)
	assert.Nil(t, settings.Load())
	assert.Len(t, tr.publishedOn("pizero2w/ack/capture"), 1)
}

func TestBridge_SettingsReplaceWholesale(t *testing.T) {
	tr := newFakeTransport()
	_, _, settings := startBridge(t, tr)

	tr.deliver("pizero2w/settings", `{"settings":{"temp_humidity_interval":60,"light_intensity_interval":30}}`)
	require.Eventually(t, func() bool { return settings.Load() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, time.Minute, settings.Interval("temp_humidity_interval", time.Second))

	tr.deliver("pizero2w/settings", `{"settings":{"soil_moisture_interval":5,"label":"fast"}}`)
	require.Eventually(t, func() bool {
		_, ok := settings.Load().Get("soil_moisture_interval")
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, map[string]float64{"soil_moisture_interval": 5}, settings.Load().Values())
}

func TestBridge_PublishJSON(t *testing.T) {
	tr := newFakeTransport()
	b, _, _ := startBridge(t, tr)

	require.NoError(t, b.PublishJSON(context.Background(), "pizero2w/sensorreading", map[string]int{"moisture": 1}))
	assert.JSONEq(t, `{"moisture":1}`, string(tr.publishedOn("pizero2w/sensorreading")[0].payload))

	tr.mu.Lock()
	tr.publishErr = ErrNotConnected
	tr.mu.Unlock()
	err := b.PublishJSON(context.Background(), "pizero2w/sensorreading", 1)
	assert.ErrorIs(t, err, ErrNotConnected)

	err = b.PublishJSON(context.Background(), "pizero2w/sensorreading", make(chan int))
	assert.Error(t, err)

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(2), stats.PublishErrors)
}

func TestBridge_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	tr := newFakeTransport()
	b := New(tr, testTopics(), &state.CaptureFlag{}, &state.SettingsStore{}, 1, nil)

	// Not started: nothing consumes the queue.
	b.enqueue(Message{Topic: "pizero2w/commands"})
	b.enqueue(Message{Topic: "pizero2w/commands"})
	b.enqueue(Message{Topic: "pizero2w/commands"})

	stats := b.Stats()
	assert.Equal(t, uint64(3), stats.Received)
	assert.Equal(t, uint64(2), stats.Dropped)
}

func TestBridge_StartToleratesSlowBroker(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErr = ErrConnectTimeout
	b, _, _ := startBridge(t, tr)
	assert.False(t, b.IsConnected())
	assert.Equal(t, service.StatusRunning, b.GetStatus().GetStatus())
}

func TestBridge_StartFailsOnConnectError(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErr = errors.New("bad credentials")
	b := New(tr, testTopics(), &state.CaptureFlag{}, &state.SettingsStore{}, 1, nil)

	err := b.Start(context.Background())
	assert.ErrorContains(t, err, "bad credentials")
	assert.Equal(t, service.StatusError, b.GetStatus().GetStatus())
}

func TestBridge_StopDisconnects(t *testing.T) {
	tr := newFakeTransport()
	b := New(tr, testTopics(), &state.CaptureFlag{}, &state.SettingsStore{}, 1, nil)
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Stop(context.Background()))

	assert.Equal(t, 1, tr.disconnects)
	assert.False(t, b.IsConnected())
	assert.Equal(t, service.StatusStopped, b.GetStatus().GetStatus())
}

func TestBridge_EventsPublished(t *testing.T) {
	tr := newFakeTransport()
	bus := service.NewEventBus(10)
	defer bus.Close()
	events := bus.Subscribe(service.EventTypeSettingsUpdated)

	flag := &state.CaptureFlag{}
	b := New(tr, testTopics(), flag, &state.SettingsStore{}, 4, nil)
	b.SetEventBus(bus)
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop(context.Background())

	tr.deliver("pizero2w/settings", `{"settings":{"a":1}}`)
	select {
	case ev := <-events:
		assert.Equal(t, "bridge", ev.Source)
		assert.Equal(t, 1, ev.Data["count"])
	case <-time.After(time.Second):
		t.Fatal("settings event not published")
	}
}

func TestParseSettings(t *testing.T) {
	values, dropped, err := parseSettings([]byte(`{"settings":{"a":1.5,"b":"x","c":null}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 1.5}, values)
	assert.ElementsMatch(t, []string{"b", "c"}, dropped)

	_, _, err = parseSettings([]byte(`{"timestamp":"now"}`))
	assert.Error(t, err)
}
