package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/plantguard/edge/internal/logger"
)

// DefaultEnvFile is loaded, when present, before environment overrides are
// applied. Variables already set in the process environment win.
const DefaultEnvFile = ".env"

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService loads, overrides and validates the configuration
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	if err := loadEnvFile(DefaultEnvFile); err != nil {
		return nil, err
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// loadEnvFile loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// SetLogger replaces the logger once the real one is built from the
// loaded configuration.
func (s *Service) SetLogger(log *logger.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = log
}

// Reload reloads the configuration from file. The previous configuration
// stays active when the new one fails to load or validate.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldConfig := s.config

	newConfig, err := Load(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	applyEnvOverrides(newConfig)

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid reloaded configuration: %w", err)
	}

	s.config = newConfig

	for _, watcher := range s.watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Config watcher error", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies PLANT_* environment variables to configuration
func applyEnvOverrides(cfg *Config) {
	e := &cfg.Edge

	// MQTT
	if val := os.Getenv("PLANT_MQTT_BROKER"); val != "" {
		e.MQTT.Broker = val
	}
	e.MQTT.Port = GetEnvInt("PLANT_MQTT_PORT", e.MQTT.Port)
	if val := os.Getenv("PLANT_MQTT_CLIENT_ID"); val != "" {
		e.MQTT.ClientID = val
	}
	if val := os.Getenv("PLANT_MQTT_USERNAME"); val != "" {
		e.MQTT.Username = val
	}
	if val := os.Getenv("PLANT_MQTT_PASSWORD"); val != "" {
		e.MQTT.Password = val
	}

	// Camera
	if val := os.Getenv("PLANT_CAMERA_SOURCE"); val != "" {
		e.Camera.Source = val
	}
	if val := os.Getenv("PLANT_CAMERA_URL"); val != "" {
		e.Camera.URL = val
	}
	if val := os.Getenv("PLANT_CAMERA_HOST"); val != "" {
		e.Camera.Host = val
	}
	if val := os.Getenv("PLANT_CAMERA_USERNAME"); val != "" {
		e.Camera.Username = val
	}
	if val := os.Getenv("PLANT_CAMERA_PASSWORD"); val != "" {
		e.Camera.Password = val
	}
	if val := os.Getenv("PLANT_CAMERA_IMAGE_PATH"); val != "" {
		e.Camera.ImagePath = val
	}

	// Models
	if val := os.Getenv("PLANT_MODELS_RUNTIME"); val != "" {
		e.Models.Runtime = val
	}
	if val := os.Getenv("PLANT_MODELS_DIR"); val != "" {
		e.Models.Dir = val
	}
	if val := os.Getenv("PLANT_MODELS_SERVICE_URL"); val != "" {
		e.Models.ServiceURL = val
	}
	if val := os.Getenv("PLANT_MODELS_MANIFEST_URL"); val != "" {
		e.Models.ManifestURL = val
	}
	if val := os.Getenv("PLANT_ONNXRUNTIME_LIB"); val != "" {
		e.Models.SharedLibraryPath = val
	}

	// Inference
	e.Inference.ConfidenceThreshold = GetEnvFloat64("PLANT_CONFIDENCE_THRESHOLD", e.Inference.ConfidenceThreshold)
	e.Inference.IoUThreshold = GetEnvFloat64("PLANT_IOU_THRESHOLD", e.Inference.IoUThreshold)

	// Sensors and actuation
	if val := os.Getenv("PLANT_SENSORS_DRIVER"); val != "" {
		e.Sensors.Driver = val
	}
	if val := os.Getenv("PLANT_SENSORS_SERIAL_PORT"); val != "" {
		e.Sensors.SerialPort = val
	}
	e.Sensors.Interval = GetEnvDuration("PLANT_SENSORS_INTERVAL", e.Sensors.Interval)
	e.Actuation.MoistureThreshold = GetEnvInt("PLANT_MOISTURE_THRESHOLD", e.Actuation.MoistureThreshold)

	// Health
	e.Health.Enabled = GetEnvBool("PLANT_HEALTH_ENABLED", e.Health.Enabled)
	e.Health.Port = GetEnvInt("PLANT_HEALTH_PORT", e.Health.Port)

	// Log settings
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Log.Output = val
	}
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return defaultValue
	}
	return result
}

// GetEnvDuration gets a duration environment variable
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(val); err == nil {
		return duration
	}
	return defaultValue
}

// GetEnvFloat64 gets a float64 environment variable
func GetEnvFloat64(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return defaultValue
	}
	return result
}
