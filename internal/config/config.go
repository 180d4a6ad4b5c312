package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultLabels is the disease label table of the bundled tomato leaf
// classifier. Index i is the label for classifier output i.
var DefaultLabels = []string{
	"Early Blight",
	"Healthy",
	"Late Blight",
	"Leaf Miner",
	"Leaf Mold",
	"Mosaic Virus",
	"Septoria",
	"Spider Mites",
	"Yellow Leaf Curl Virus",
}

// Config represents the application configuration
type Config struct {
	Edge EdgeConfig `yaml:"edge"`
	Log  LogConfig  `yaml:"log,omitempty"`
}

// EdgeConfig contains the device configuration
type EdgeConfig struct {
	DeviceID  string          `yaml:"device_id"`
	DataDir   string          `yaml:"data_dir"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Topics    TopicsConfig    `yaml:"topics"`
	Camera    CameraConfig    `yaml:"camera"`
	Models    ModelsConfig    `yaml:"models"`
	Inference InferenceConfig `yaml:"inference"`
	Capture   CaptureConfig   `yaml:"capture"`
	Sensors   SensorsConfig   `yaml:"sensors"`
	Actuation ActuationConfig `yaml:"actuation"`
	Health    HealthConfig    `yaml:"health"`
}

// MQTTConfig contains broker connection settings
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	Port           int           `yaml:"port"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"` // never logged
	QoS            byte          `yaml:"qos"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	InboundBuffer  int           `yaml:"inbound_buffer"`
}

// TopicsConfig names the pub/sub topics. Empty topics derive from Prefix.
type TopicsConfig struct {
	Prefix        string `yaml:"prefix"`
	Commands      string `yaml:"commands"`
	Settings      string `yaml:"settings"`
	SensorReading string `yaml:"sensor_reading"`
	Inference     string `yaml:"inference"`
	AckPrefix     string `yaml:"ack_prefix"`
}

// CameraConfig describes where frames come from
type CameraConfig struct {
	// Source is one of "ffmpeg", "gocv" or "image".
	Source   string `yaml:"source"`
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Path     string `yaml:"path"`
	Username string `yaml:"username"`
	Password string `yaml:"password"` // never logged

	FFmpegPath string `yaml:"ffmpeg_path"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	FrameRate  int    `yaml:"frame_rate"`
	ImagePath  string `yaml:"image_path"`

	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	StaleAfter   time.Duration `yaml:"stale_after"`
}

// ModelsConfig selects the tensor runtime and model files
type ModelsConfig struct {
	// Runtime is "onnx" for in-process inference or "http" for a sidecar.
	Runtime           string        `yaml:"runtime"`
	Dir               string        `yaml:"dir"`
	Detector          string        `yaml:"detector"`
	Classifier        string        `yaml:"classifier"`
	SharedLibraryPath string        `yaml:"shared_library_path"`
	IntraOpThreads    int           `yaml:"intra_op_threads"`
	ServiceURL        string        `yaml:"service_url"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	ManifestURL       string        `yaml:"manifest_url"`
}

// InferenceConfig contains the two-stage pipeline parameters
type InferenceConfig struct {
	InputSize           int     `yaml:"input_size"`
	PadValue            uint8   `yaml:"pad_value"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	IoUThreshold        float64 `yaml:"iou_threshold"`
	// PixelBoxes is set for detectors that emit box coordinates in input
	// pixels instead of canvas fractions.
	PixelBoxes  bool     `yaml:"pixel_boxes"`
	MinCropArea int      `yaml:"min_crop_area"`
	JPEGQuality int      `yaml:"jpeg_quality"`
	Labels      []string `yaml:"labels"`
}

// CaptureConfig contains capture loop settings
type CaptureConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SensorsConfig selects sensor drivers and the publish cadence
type SensorsConfig struct {
	// Driver is one of "hardware", "serial" or "simulated".
	Driver      string        `yaml:"driver"`
	Interval    time.Duration `yaml:"interval"`
	IntervalKey string        `yaml:"interval_key"`

	SPIPort         string `yaml:"spi_port"`
	MoistureChannel int    `yaml:"moisture_channel"`
	LightPin        string `yaml:"light_pin"`
	ClimateDir      string `yaml:"climate_dir"`

	SerialPort  string        `yaml:"serial_port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// ActuationConfig contains pump control settings
type ActuationConfig struct {
	MoistureThreshold int    `yaml:"moisture_threshold"`
	PumpPin           string `yaml:"pump_pin"`
	ActiveLow         bool   `yaml:"active_low"`
}

// HealthConfig contains the local health/status server settings
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.yaml",
		"/etc/plantguard/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	e := &c.Edge
	if e.DeviceID == "" {
		e.DeviceID = "pizero2w"
	}
	if e.DataDir == "" {
		e.DataDir = "./data"
	}

	if e.MQTT.Broker == "" {
		e.MQTT.Broker = "localhost"
	}
	if e.MQTT.Port == 0 {
		e.MQTT.Port = 1883
	}
	if e.MQTT.KeepAlive == 0 {
		e.MQTT.KeepAlive = 60 * time.Second
	}
	if e.MQTT.ConnectTimeout == 0 {
		e.MQTT.ConnectTimeout = 10 * time.Second
	}
	if e.MQTT.PublishTimeout == 0 {
		e.MQTT.PublishTimeout = 5 * time.Second
	}
	if e.MQTT.InboundBuffer == 0 {
		e.MQTT.InboundBuffer = 32
	}

	t := &e.Topics
	if t.Prefix == "" {
		t.Prefix = e.DeviceID
	}
	if t.Commands == "" {
		t.Commands = t.Prefix + "/commands"
	}
	if t.Settings == "" {
		t.Settings = t.Prefix + "/settings"
	}
	if t.SensorReading == "" {
		t.SensorReading = t.Prefix + "/sensorreading"
	}
	if t.Inference == "" {
		t.Inference = t.Prefix + "/inference"
	}
	if t.AckPrefix == "" {
		t.AckPrefix = t.Prefix + "/ack"
	}

	if e.Camera.Source == "" {
		e.Camera.Source = "ffmpeg"
	}
	if e.Camera.Port == 0 {
		e.Camera.Port = 554
	}
	if e.Camera.Path == "" {
		e.Camera.Path = "/cam/realmonitor?channel=1&subtype=1"
	}
	if e.Camera.Width == 0 {
		e.Camera.Width = 640
	}
	if e.Camera.Height == 0 {
		e.Camera.Height = 480
	}
	if e.Camera.FrameRate == 0 {
		e.Camera.FrameRate = 5
	}
	if e.Camera.ProbeTimeout == 0 {
		e.Camera.ProbeTimeout = 5 * time.Second
	}
	if e.Camera.StaleAfter == 0 {
		e.Camera.StaleAfter = 10 * time.Second
	}

	if e.Models.Runtime == "" {
		e.Models.Runtime = "onnx"
	}
	if e.Models.Dir == "" {
		e.Models.Dir = filepath.Join(e.DataDir, "models")
	}
	if e.Models.Detector == "" {
		e.Models.Detector = "best_float32.onnx"
	}
	if e.Models.IntraOpThreads == 0 {
		e.Models.IntraOpThreads = 4
	}
	if e.Models.ServiceURL == "" {
		e.Models.ServiceURL = "http://localhost:8080"
	}
	if e.Models.Timeout == 0 {
		e.Models.Timeout = 30 * time.Second
	}
	if e.Models.MaxRetries == 0 {
		e.Models.MaxRetries = 2
	}

	in := &e.Inference
	if in.InputSize == 0 {
		in.InputSize = 640
	}
	if in.PadValue == 0 {
		in.PadValue = 114
	}
	if in.ConfidenceThreshold == 0 {
		in.ConfidenceThreshold = 0.6
	}
	if in.IoUThreshold == 0 {
		in.IoUThreshold = 0.5
	}
	if in.MinCropArea == 0 {
		in.MinCropArea = 224
	}
	if in.JPEGQuality == 0 {
		in.JPEGQuality = 95
	}
	if len(in.Labels) == 0 {
		in.Labels = append([]string(nil), DefaultLabels...)
	}

	if e.Capture.PollInterval == 0 {
		e.Capture.PollInterval = 500 * time.Millisecond
	}

	s := &e.Sensors
	if s.Driver == "" {
		s.Driver = "hardware"
	}
	if s.Interval == 0 {
		s.Interval = 2 * time.Second
	}
	if s.IntervalKey == "" {
		s.IntervalKey = "temp_humidity_interval"
	}
	if s.LightPin == "" {
		s.LightPin = "GPIO27"
	}
	if s.ClimateDir == "" {
		s.ClimateDir = "/sys/bus/iio/devices/iio:device0"
	}
	if s.SerialPort == "" {
		s.SerialPort = "/dev/ttyUSB0"
	}
	if s.BaudRate == 0 {
		s.BaudRate = 9600
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 2 * time.Second
	}

	if e.Actuation.MoistureThreshold == 0 {
		e.Actuation.MoistureThreshold = 20000
	}
	if e.Actuation.PumpPin == "" {
		e.Actuation.PumpPin = "GPIO17"
	}

	if e.Health.Host == "" {
		e.Health.Host = "0.0.0.0"
	}
	if e.Health.Port == 0 {
		e.Health.Port = 8081
	}
}

// DetectorPath returns the absolute location of the detector model
func (m ModelsConfig) DetectorPath() string {
	return m.resolve(m.Detector)
}

// ClassifierPath returns the classifier model location, or "" when the
// pipeline runs detector-only.
func (m ModelsConfig) ClassifierPath() string {
	if m.Classifier == "" {
		return ""
	}
	return m.resolve(m.Classifier)
}

func (m ModelsConfig) resolve(name string) string {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") {
		return name
	}
	return filepath.Join(m.Dir, name)
}

// BrokerURL returns the broker address in the form the MQTT client expects
func (m MQTTConfig) BrokerURL() string {
	if strings.Contains(m.Broker, "://") {
		return m.Broker
	}
	return fmt.Sprintf("tcp://%s:%d", m.Broker, m.Port)
}
