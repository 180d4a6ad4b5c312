package sensors

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/plantguard/edge/internal/actuation"
	"github.com/plantguard/edge/internal/logger"
)

// serialReading is one JSON line from the microcontroller. Climate fields
// are omitted when its DHT read failed.
type serialReading struct {
	Moisture    *int     `json:"moisture"`
	Temperature *float64 `json:"temp"`
	Humidity    *float64 `json:"humidity"`
	Light       *float64 `json:"light"`
}

type pumpCommand struct {
	Pump bool `json:"pump"`
}

// SerialBridge talks to a microcontroller that owns the sensors and the
// pump relay. It streams newline-delimited JSON readings and accepts
// {"pump":bool} lines back.
type SerialBridge struct {
	port   io.ReadWriteCloser
	maxAge time.Duration
	logger *logger.Logger
	now    func() time.Time

	mu     sync.RWMutex
	last   serialReading
	lastAt time.Time

	writeMu sync.Mutex
	done    chan struct{}
	closed  chan struct{}
	once    sync.Once
}

// OpenSerialBridge opens a serial device at 8N1.
func OpenSerialBridge(path string, baudRate int, maxAge time.Duration, log *logger.Logger) (*SerialBridge, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	if log != nil {
		log.Info("Serial sensor bridge opened", "port", path, "baud_rate", baudRate)
	}
	return NewSerialBridge(port, maxAge, log), nil
}

// NewSerialBridge starts reading from port. Readings older than maxAge
// are treated as missing; zero disables the check.
func NewSerialBridge(port io.ReadWriteCloser, maxAge time.Duration, log *logger.Logger) *SerialBridge {
	if log == nil {
		log = logger.NewNopLogger()
	}
	b := &SerialBridge{
		port:   port,
		maxAge: maxAge,
		logger: log,
		now:    time.Now,
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go b.readLoop()
	return b
}

func (b *SerialBridge) readLoop() {
	defer close(b.done)

	r := bufio.NewReader(b.port)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			b.handleLine(line)
		}
		if err != nil {
			select {
			case <-b.closed:
			default:
				if !errors.Is(err, io.EOF) {
					b.logger.Error("Serial read failed", "error", err)
				} else {
					b.logger.Warn("Serial port closed by peer")
				}
			}
			return
		}
	}
}

func (b *SerialBridge) handleLine(line []byte) {
	var reading serialReading
	if err := json.Unmarshal(line, &reading); err != nil {
		b.logger.Debug("Ignoring malformed serial line", "line", string(line), "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = reading
	b.lastAt = b.now()
}

func (b *SerialBridge) latest() (serialReading, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastAt.IsZero() {
		return serialReading{}, ErrNoReading
	}
	if b.maxAge > 0 && b.now().Sub(b.lastAt) > b.maxAge {
		return serialReading{}, fmt.Errorf("%w: last line %s ago", ErrNoReading, b.now().Sub(b.lastAt).Round(time.Millisecond))
	}
	return b.last, nil
}

// ReadMoisture returns the most recent moisture value.
func (b *SerialBridge) ReadMoisture(ctx context.Context) (int, error) {
	r, err := b.latest()
	if err != nil {
		return 0, err
	}
	if r.Moisture == nil {
		return 0, fmt.Errorf("%w: moisture missing", ErrNoReading)
	}
	return *r.Moisture, nil
}

// ReadClimate returns the most recent temperature and humidity.
func (b *SerialBridge) ReadClimate(ctx context.Context) (float64, float64, error) {
	r, err := b.latest()
	if err != nil {
		return 0, 0, err
	}
	if r.Temperature == nil || r.Humidity == nil {
		return 0, 0, fmt.Errorf("%w: climate missing", ErrNoReading)
	}
	return *r.Temperature, *r.Humidity, nil
}

// ReadLight returns the most recent light value.
func (b *SerialBridge) ReadLight(ctx context.Context) (float64, error) {
	r, err := b.latest()
	if err != nil {
		return 0, err
	}
	if r.Light == nil {
		return 0, fmt.Errorf("%w: light missing", ErrNoReading)
	}
	return *r.Light, nil
}

// Set sends the pump state to the microcontroller.
func (b *SerialBridge) Set(state actuation.State) error {
	line, err := json.Marshal(pumpCommand{Pump: state == actuation.On})
	if err != nil {
		return err
	}
	line = append(line, '\n')

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if _, err := b.port.Write(line); err != nil {
		return fmt.Errorf("failed to write pump command: %w", err)
	}
	return nil
}

// Close closes the port and waits for the reader to exit.
func (b *SerialBridge) Close() error {
	var err error
	b.once.Do(func() {
		close(b.closed)
		err = b.port.Close()
		<-b.done
	})
	return err
}
