package actuation

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIOPump drives a pump relay from a single GPIO line.
type GPIOPump struct {
	pin       gpio.PinOut
	activeLow bool
}

// NewGPIOPump opens the named pin (for example "GPIO17") and switches it
// off. Relays wired active-low are energised by a low level.
func NewGPIOPump(pinName string, activeLow bool) (*GPIOPump, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host drivers: %w", err)
	}

	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", pinName)
	}

	p := &GPIOPump{pin: pin, activeLow: activeLow}
	if err := p.Set(Off); err != nil {
		return nil, err
	}
	return p, nil
}

// Set drives the pin for state.
func (p *GPIOPump) Set(state State) error {
	level := gpio.Level(state == On)
	if p.activeLow {
		level = !level
	}
	if err := p.pin.Out(level); err != nil {
		return fmt.Errorf("failed to write %s: %w", p.pin, err)
	}
	return nil
}

// Close switches the pump off.
func (p *GPIOPump) Close() error {
	return p.Set(Off)
}

// MemoryPump records writes instead of driving hardware. It backs the
// simulated sensor driver and tests.
type MemoryPump struct {
	mu      sync.Mutex
	state   State
	writes  []State
	failErr error
}

// Set records state, or returns the error set with Fail.
func (p *MemoryPump) Set(state State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failErr != nil {
		return p.failErr
	}
	p.state = state
	p.writes = append(p.writes, state)
	return nil
}

// Fail makes subsequent writes return err; nil restores normal operation.
func (p *MemoryPump) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failErr = err
}

// State returns the last recorded state.
func (p *MemoryPump) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Writes returns every recorded write in order.
func (p *MemoryPump) Writes() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]State(nil), p.writes...)
}
