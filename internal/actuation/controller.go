// Package actuation decides and drives the water pump from soil moisture.
package actuation

import (
	"fmt"
	"sync"

	"github.com/plantguard/edge/internal/logger"
)

// DefaultMoistureThreshold is the raw 16-bit ADC reading below which the
// soil counts as dry.
const DefaultMoistureThreshold = 20000

// State is the pump state.
type State int

const (
	Off State = iota
	On
)

func (s State) String() string {
	if s == On {
		return "on"
	}
	return "off"
}

// Threshold is a dry/wet cut-off on the raw moisture reading.
type Threshold int

// Decide returns On strictly below the threshold and Off at or above it.
func (t Threshold) Decide(moisture int) State {
	if moisture < int(t) {
		return On
	}
	return Off
}

// Decide applies DefaultMoistureThreshold.
func Decide(moisture int) State {
	return Threshold(DefaultMoistureThreshold).Decide(moisture)
}

// Pump is a two-state actuator.
type Pump interface {
	Set(state State) error
}

// Controller is the only writer of the pump. It writes the decided state
// on every Apply so a pump that missed a write converges on the next cycle.
type Controller struct {
	pump      Pump
	threshold Threshold
	logger    *logger.Logger

	mu       sync.Mutex
	current  State
	applied  bool
	onChange func(prev, next State, moisture int)
}

// NewController creates a controller for pump. A non-positive threshold
// selects DefaultMoistureThreshold.
func NewController(pump Pump, threshold int, log *logger.Logger) *Controller {
	if threshold <= 0 {
		threshold = DefaultMoistureThreshold
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Controller{
		pump:      pump,
		threshold: Threshold(threshold),
		logger:    log,
	}
}

// OnChange registers a callback invoked after every successful state
// transition. It runs with the controller locked and must not call back
// into it.
func (c *Controller) OnChange(fn func(prev, next State, moisture int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Apply decides the pump state for moisture and writes it. On a write
// failure the recorded state is left unchanged.
func (c *Controller) Apply(moisture int) (State, error) {
	next := c.threshold.Decide(moisture)
	return next, c.set(next, moisture)
}

// Off forces the pump off.
func (c *Controller) Off() error {
	return c.set(Off, -1)
}

// State returns the last state successfully written.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Threshold returns the configured cut-off.
func (c *Controller) Threshold() int {
	return int(c.threshold)
}

func (c *Controller) set(next State, moisture int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.pump.Set(next); err != nil {
		return fmt.Errorf("failed to switch pump %s: %w", next, err)
	}

	prev := c.current
	changed := !c.applied || prev != next
	c.current = next
	c.applied = true

	if changed {
		c.logger.Info("Pump state changed",
			"from", prev.String(),
			"to", next.String(),
			"moisture", moisture,
			"threshold", int(c.threshold),
		)
		if c.onChange != nil {
			c.onChange(prev, next, moisture)
		}
	}
	return nil
}
