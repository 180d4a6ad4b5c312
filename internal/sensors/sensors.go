// Package sensors provides the soil, climate and light readers used by the
// telemetry loop, for GPIO/SPI hardware, a serial microcontroller bridge
// and a simulator.
package sensors

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/plantguard/edge/internal/actuation"
	"github.com/plantguard/edge/internal/config"
	"github.com/plantguard/edge/internal/logger"
)

var (
	// ErrNoReading is returned when a sensor has not produced a value yet
	// or its last value is too old to use.
	ErrNoReading = errors.New("no sensor reading available")
	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown sensor driver")
)

// MoistureSensor reads raw soil moisture on a 16-bit scale.
type MoistureSensor interface {
	ReadMoisture(ctx context.Context) (int, error)
}

// ClimateSensor reads air temperature in degrees Celsius and relative
// humidity in percent.
type ClimateSensor interface {
	ReadClimate(ctx context.Context) (temperature, humidity float64, err error)
}

// LightSensor reads ambient light. Digital sensors report 1 or 0.
type LightSensor interface {
	ReadLight(ctx context.Context) (float64, error)
}

// Suite is the set of drivers for one device. Light may be nil.
type Suite struct {
	Driver   string
	Moisture MoistureSensor
	Climate  ClimateSensor
	Light    LightSensor
	Pump     actuation.Pump

	closers []io.Closer
}

// Open builds the suite selected by cfg.Driver.
func Open(cfg config.SensorsConfig, act config.ActuationConfig, log *logger.Logger) (*Suite, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	switch cfg.Driver {
	case "hardware":
		return openHardware(cfg, act, log)
	case "serial":
		bridge, err := OpenSerialBridge(cfg.SerialPort, cfg.BaudRate, cfg.ReadTimeout, log)
		if err != nil {
			return nil, err
		}
		return &Suite{
			Driver:   cfg.Driver,
			Moisture: bridge,
			Climate:  bridge,
			Light:    bridge,
			Pump:     bridge,
			closers:  []io.Closer{bridge},
		}, nil
	case "simulated":
		sim := NewSimulated(0)
		log.Warn("Using simulated sensors and pump")
		return &Suite{
			Driver:   cfg.Driver,
			Moisture: sim,
			Climate:  sim,
			Light:    sim,
			Pump:     sim,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

func openHardware(cfg config.SensorsConfig, act config.ActuationConfig, log *logger.Logger) (*Suite, error) {
	s := &Suite{Driver: cfg.Driver, Climate: NewIIOClimate(cfg.ClimateDir)}

	adc, err := OpenMCP3008(cfg.SPIPort, cfg.MoistureChannel)
	if err != nil {
		return nil, err
	}
	s.Moisture = adc
	s.closers = append(s.closers, adc)

	if cfg.LightPin != "" {
		light, err := OpenGPIOLight(cfg.LightPin)
		if err != nil {
			// Light is optional; publish 0.0 instead.
			log.Warn("Light sensor unavailable", "pin", cfg.LightPin, "error", err)
		} else {
			s.Light = light
		}
	}

	pump, err := actuation.NewGPIOPump(act.PumpPin, act.ActiveLow)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Pump = pump
	s.closers = append(s.closers, pump)

	return s, nil
}

// Close releases every driver that holds a resource.
func (s *Suite) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
