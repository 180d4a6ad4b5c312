package sensors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// MCP3008 reads one channel of an MCP3008 10-bit ADC over SPI.
type MCP3008 struct {
	port    spi.PortCloser
	conn    spi.Conn
	channel int
	mu      sync.Mutex
}

// OpenMCP3008 opens the SPI port by name ("" selects the first one).
func OpenMCP3008(portName string, channel int) (*MCP3008, error) {
	if channel < 0 || channel > 7 {
		return nil, fmt.Errorf("mcp3008 channel must be 0-7, got %d", channel)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host drivers: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open spi port %q: %w", portName, err)
	}
	conn, err := port.Connect(1350*physic.KiloHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to configure spi port %q: %w", portName, err)
	}
	return &MCP3008{port: port, conn: conn, channel: channel}, nil
}

// ReadMoisture returns the channel value scaled from 10 to 16 bits.
func (m *MCP3008) ReadMoisture(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start bit, single-ended mode plus channel, then a clocking byte.
	tx := []byte{0x01, byte(0x08|m.channel) << 4, 0x00}
	rx := make([]byte, len(tx))
	if err := m.conn.Tx(tx, rx); err != nil {
		return 0, fmt.Errorf("mcp3008 transfer failed: %w", err)
	}
	return decodeMCP3008(rx), nil
}

func decodeMCP3008(rx []byte) int {
	raw := int(rx[1]&0x03)<<8 | int(rx[2])
	return raw << 6
}

// Close releases the SPI port.
func (m *MCP3008) Close() error {
	return m.port.Close()
}

// GPIOLight is a digital light sensor module; a high level means light.
type GPIOLight struct {
	pin gpio.PinIn
}

// OpenGPIOLight configures the named pin as a floating input.
func OpenGPIOLight(pinName string) (*GPIOLight, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host drivers: %w", err)
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", pinName)
	}
	if err := pin.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to configure %s as input: %w", pinName, err)
	}
	return &GPIOLight{pin: pin}, nil
}

// ReadLight returns 1 when light is detected and 0 otherwise.
func (l *GPIOLight) ReadLight(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if l.pin.Read() == gpio.High {
		return 1, nil
	}
	return 0, nil
}

// IIOClimate reads a DHT11/DHT22 through the kernel's industrial I/O
// driver (dht11 overlay), which exposes milli-units in sysfs.
type IIOClimate struct {
	dir string
}

// NewIIOClimate reads from an IIO device directory such as
// /sys/bus/iio/devices/iio:device0.
func NewIIOClimate(dir string) *IIOClimate {
	return &IIOClimate{dir: dir}
}

// ReadClimate reads both channels. The DHT protocol fails often; a failed
// read returns an error and the caller decides what to publish.
func (c *IIOClimate) ReadClimate(ctx context.Context) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	temp, err := readMilli(filepath.Join(c.dir, "in_temp_input"))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read temperature: %w", err)
	}
	hum, err := readMilli(filepath.Join(c.dir, "in_humidityrelative_input"))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read humidity: %w", err)
	}
	return temp, hum, nil
}

func readMilli(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, fmt.Errorf("malformed value in %s: %w", path, err)
	}
	return v / 1000, nil
}
