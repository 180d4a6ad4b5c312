// Package telemetry runs the periodic sensor loop: read the sensors, drive
// the pump from soil moisture and publish a reading.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plantguard/edge/internal/actuation"
	"github.com/plantguard/edge/internal/logger"
	"github.com/plantguard/edge/internal/sensors"
	"github.com/plantguard/edge/internal/service"
	"github.com/plantguard/edge/internal/state"
)

const (
	// DefaultInterval is used until the backend sends an interval setting.
	DefaultInterval = 2 * time.Second
	// DefaultIntervalKey names the settings entry holding the interval in
	// seconds.
	DefaultIntervalKey = "temp_humidity_interval"
)

// Publisher sends a JSON message to a topic.
type Publisher interface {
	PublishJSON(ctx context.Context, topic string, v interface{}) error
}

// Config contains sensor loop settings
type Config struct {
	Topic       string
	Interval    time.Duration
	IntervalKey string
}

// Stats count sensor cycles since start.
type Stats struct {
	Cycles        uint64 `json:"cycles"`
	Skipped       uint64 `json:"skipped"`
	PublishErrors uint64 `json:"publish_errors"`
}

// Task is the sensor loop service. It owns the sensor suite and the
// controller writing the pump.
type Task struct {
	*service.ServiceBase

	suite      *sensors.Suite
	controller *actuation.Controller
	settings   *state.SettingsStore
	publisher  Publisher
	cfg        Config

	cancel context.CancelFunc
	done   chan struct{}

	cycles        atomic.Uint64
	skipped       atomic.Uint64
	publishErrors atomic.Uint64

	mu   sync.RWMutex
	last *Snapshot
}

// New creates the sensor task
func New(suite *sensors.Suite, controller *actuation.Controller, settings *state.SettingsStore, publisher Publisher, cfg Config, log *logger.Logger) *Task {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.IntervalKey == "" {
		cfg.IntervalKey = DefaultIntervalKey
	}
	t := &Task{
		ServiceBase: service.NewServiceBase("sensors", log),
		suite:       suite,
		controller:  controller,
		settings:    settings,
		publisher:   publisher,
		cfg:         cfg,
	}
	controller.OnChange(func(prev, next actuation.State, moisture int) {
		t.PublishEvent(service.EventTypeActuationChanged, map[string]interface{}{
			"from":     prev.String(),
			"to":       next.String(),
			"moisture": moisture,
		})
	})
	return t
}

// Start launches the loop. The first cycle runs immediately.
func (t *Task) Start(ctx context.Context) error {
	t.GetStatus().SetStatus(service.StatusStarting)

	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(runCtx)

	t.GetStatus().SetStatus(service.StatusRunning)
	t.LogInfo("Sensor task started",
		"driver", t.suite.Driver,
		"interval", t.cfg.Interval,
		"interval_key", t.cfg.IntervalKey,
		"threshold", t.controller.Threshold(),
	)
	return nil
}

// Stop ends the loop, switches the pump off and releases the sensors.
func (t *Task) Stop(ctx context.Context) error {
	if t.cancel == nil {
		return nil
	}
	t.GetStatus().SetStatus(service.StatusStopping)
	t.cancel()

	select {
	case <-t.done:
	case <-ctx.Done():
		return fmt.Errorf("sensor task did not stop: %w", ctx.Err())
	}

	var stopErr error
	if err := t.controller.Off(); err != nil {
		t.LogError("Failed to switch pump off", err)
		stopErr = err
	}
	if err := t.suite.Close(); err != nil {
		t.LogWarn("Failed to close sensors", "error", err)
	}

	t.GetStatus().SetStatus(service.StatusStopped)
	t.LogInfo("Sensor task stopped")
	return stopErr
}

func (t *Task) run(ctx context.Context) {
	defer close(t.done)

	for {
		if _, err := t.Cycle(ctx); err != nil && ctx.Err() == nil {
			t.LogWarn("Sensor cycle skipped", "error", err)
		}

		timer := time.NewTimer(t.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// interval is re-read every cycle so a settings update applies to the
// next sleep.
func (t *Task) interval() time.Duration {
	if t.settings == nil {
		return t.cfg.Interval
	}
	return t.settings.Interval(t.cfg.IntervalKey, t.cfg.Interval)
}

// Cycle performs one read, actuate and publish round. A moisture failure
// skips actuation and publishing and is returned; every other failure is
// logged and the cycle completes.
func (t *Task) Cycle(ctx context.Context) (Snapshot, error) {
	t.cycles.Add(1)

	moisture, err := t.suite.Moisture.ReadMoisture(ctx)
	if err != nil {
		t.skipped.Add(1)
		return Snapshot{}, fmt.Errorf("failed to read moisture: %w", err)
	}

	snap := Snapshot{Moisture: moisture, Timestamp: time.Now()}

	if t.suite.Climate != nil {
		temp, hum, err := t.suite.Climate.ReadClimate(ctx)
		if err != nil {
			t.LogWarn("Failed to read temperature and humidity", "error", err)
		} else {
			snap.Temperature = &temp
			snap.Humidity = &hum
		}
	}

	if t.suite.Light != nil {
		light, err := t.suite.Light.ReadLight(ctx)
		if err != nil {
			t.LogDebug("Failed to read light", "error", err)
		} else {
			snap.Light = light
		}
	}

	pump, err := t.controller.Apply(moisture)
	if err != nil {
		t.LogError("Failed to drive pump", err, "moisture", moisture)
		pump = t.controller.State()
	}
	snap.Pump = pump.String()

	t.mu.Lock()
	t.last = &snap
	t.mu.Unlock()

	if err := t.publisher.PublishJSON(ctx, t.cfg.Topic, snap); err != nil {
		t.publishErrors.Add(1)
		t.LogError("Failed to publish sensor reading", err)
		return snap, nil
	}

	t.LogDebug("Sensor reading published",
		"moisture", snap.Moisture,
		"light", snap.Light,
		"pump", snap.Pump,
	)
	t.PublishEvent(service.EventTypeTelemetryPublished, map[string]interface{}{
		"moisture": snap.Moisture,
		"pump":     snap.Pump,
	})
	return snap, nil
}

// Last returns the most recent snapshot, or false before the first
// successful cycle.
func (t *Task) Last() (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return Snapshot{}, false
	}
	return *t.last, true
}

// Stats returns the cycle counters.
func (t *Task) Stats() Stats {
	return Stats{
		Cycles:        t.cycles.Load(),
		Skipped:       t.skipped.Load(),
		PublishErrors: t.publishErrors.Load(),
	}
}
