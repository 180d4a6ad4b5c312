package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("event not received within timeout")
	}
	return Event{}
}

func TestNewEventBus(t *testing.T) {
	assert.NotNil(t, NewEventBus(100))
	bus := NewEventBus(0)
	require.NotNil(t, bus)
	assert.Equal(t, 100, bus.bufferSize)
}

func TestEventBus_Subscribe(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeCaptureCompleted)

	bus.Publish(Event{
		Type:   EventTypeCaptureCompleted,
		Source: "capture",
		Data:   map[string]interface{}{"detections": 2},
	})

	ev := receive(t, ch)
	assert.Equal(t, EventTypeCaptureCompleted, ev.Type)
	assert.Equal(t, "capture", ev.Source)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestEventBus_SubscribeOnlyMatchingType(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeActuationChanged)

	bus.Publish(Event{Type: EventTypeTelemetryPublished})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_SubscribeAll_SeesNewTypes(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.SubscribeAll()

	bus.Publish(Event{Type: EventTypeBrokerConnected, Source: "bridge"})
	bus.Publish(Event{Type: EventTypeStreamLost, Source: "capture"})

	assert.Equal(t, EventTypeBrokerConnected, receive(t, ch).Type)
	assert.Equal(t, EventTypeStreamLost, receive(t, ch).Type)
}

func TestEventBus_PublishNonBlocking(t *testing.T) {
	bus := NewEventBus(1)
	ch := bus.Subscribe(EventTypeTelemetryPublished)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: EventTypeTelemetryPublished})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeCommandReceived)
	all := bus.SubscribeAll()

	bus.Unsubscribe(EventTypeCommandReceived, ch)
	bus.Unsubscribe(EventTypeCommandReceived, all)

	_, ok := <-ch
	assert.False(t, ok)
	_, ok = <-all
	assert.False(t, ok)
}

func TestEventBus_CloseIsIdempotent(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeServiceStarted)
	all := bus.SubscribeAll()

	bus.Close()
	bus.Close()
	bus.Publish(Event{Type: EventTypeServiceStarted})

	_, ok := <-ch
	assert.False(t, ok)
	_, ok = <-all
	assert.False(t, ok)

	late := bus.Subscribe(EventTypeServiceStarted)
	_, ok = <-late
	assert.False(t, ok)
}

func TestEventBus_SubscribeWithHandler(t *testing.T) {
	bus := NewEventBus(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan Event, 1)
	failed := make(chan error, 1)
	bus.SubscribeWithHandler(ctx, EventTypeCaptureFailed, func(ctx context.Context, ev Event) error {
		handled <- ev
		return errors.New("handler failed")
	}, func(ev Event, err error) {
		failed <- err
	})

	bus.Publish(Event{Type: EventTypeCaptureFailed, Source: "capture"})

	assert.Equal(t, "capture", receive(t, handled).Source)
	select {
	case err := <-failed:
		assert.EqualError(t, err, "handler failed")
	case <-time.After(time.Second):
		t.Fatal("error callback not invoked")
	}
}
