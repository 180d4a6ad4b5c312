package config

import (
	"fmt"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	e := c.Edge

	// MQTT
	if e.MQTT.Broker == "" {
		errors = append(errors, "mqtt.broker is required")
	}
	if e.MQTT.Port <= 0 || e.MQTT.Port > 65535 {
		errors = append(errors, fmt.Sprintf("mqtt.port must be between 1 and 65535, got: %d", e.MQTT.Port))
	}
	if e.MQTT.QoS > 2 {
		errors = append(errors, fmt.Sprintf("mqtt.qos must be 0, 1 or 2, got: %d", e.MQTT.QoS))
	}
	if e.MQTT.InboundBuffer <= 0 {
		errors = append(errors, fmt.Sprintf("mqtt.inbound_buffer must be > 0, got: %d", e.MQTT.InboundBuffer))
	}
	for name, topic := range map[string]string{
		"topics.commands":       e.Topics.Commands,
		"topics.settings":       e.Topics.Settings,
		"topics.sensor_reading": e.Topics.SensorReading,
		"topics.inference":      e.Topics.Inference,
		"topics.ack_prefix":     e.Topics.AckPrefix,
	} {
		if strings.ContainsAny(topic, "+#") {
			errors = append(errors, fmt.Sprintf("%s must not contain wildcards, got: %s", name, topic))
		}
	}

	// Camera
	switch e.Camera.Source {
	case "ffmpeg", "gocv":
		if e.Camera.URL == "" && e.Camera.Host == "" {
			errors = append(errors, "camera.url or camera.host is required for stream sources")
		}
	case "image":
		if e.Camera.ImagePath == "" {
			errors = append(errors, "camera.image_path is required when camera.source is image")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid camera.source: %s (must be: ffmpeg, gocv or image)", e.Camera.Source))
	}
	if e.Camera.Width <= 0 || e.Camera.Height <= 0 {
		errors = append(errors, fmt.Sprintf("camera.width and camera.height must be > 0, got: %dx%d", e.Camera.Width, e.Camera.Height))
	}

	// Models
	switch e.Models.Runtime {
	case "onnx", "http":
	default:
		errors = append(errors, fmt.Sprintf("invalid models.runtime: %s (must be: onnx or http)", e.Models.Runtime))
	}
	if e.Models.Detector == "" {
		errors = append(errors, "models.detector is required")
	}
	if e.Models.Runtime == "http" && e.Models.ServiceURL == "" {
		errors = append(errors, "models.service_url is required for the http runtime")
	}

	// Inference
	in := e.Inference
	if in.InputSize <= 0 {
		errors = append(errors, fmt.Sprintf("inference.input_size must be > 0, got: %d", in.InputSize))
	}
	if in.ConfidenceThreshold < 0 || in.ConfidenceThreshold > 1 {
		errors = append(errors, fmt.Sprintf("inference.confidence_threshold must be between 0 and 1, got: %.2f", in.ConfidenceThreshold))
	}
	if in.IoUThreshold <= 0 || in.IoUThreshold > 1 {
		errors = append(errors, fmt.Sprintf("inference.iou_threshold must be in (0, 1], got: %.2f", in.IoUThreshold))
	}
	if in.MinCropArea < 0 {
		errors = append(errors, fmt.Sprintf("inference.min_crop_area must be >= 0, got: %d", in.MinCropArea))
	}
	if in.JPEGQuality < 1 || in.JPEGQuality > 100 {
		errors = append(errors, fmt.Sprintf("inference.jpeg_quality must be between 1 and 100, got: %d", in.JPEGQuality))
	}
	if len(in.Labels) == 0 {
		errors = append(errors, "inference.labels must not be empty")
	}

	// Loops
	if e.Capture.PollInterval <= 0 {
		errors = append(errors, fmt.Sprintf("capture.poll_interval must be > 0, got: %v", e.Capture.PollInterval))
	}
	if e.Sensors.Interval <= 0 {
		errors = append(errors, fmt.Sprintf("sensors.interval must be > 0, got: %v", e.Sensors.Interval))
	}
	switch e.Sensors.Driver {
	case "hardware", "simulated":
	case "serial":
		if e.Sensors.BaudRate <= 0 {
			errors = append(errors, fmt.Sprintf("sensors.baud_rate must be > 0, got: %d", e.Sensors.BaudRate))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid sensors.driver: %s (must be: hardware, serial or simulated)", e.Sensors.Driver))
	}
	if e.Sensors.MoistureChannel < 0 || e.Sensors.MoistureChannel > 7 {
		errors = append(errors, fmt.Sprintf("sensors.moisture_channel must be between 0 and 7, got: %d", e.Sensors.MoistureChannel))
	}

	if e.Actuation.MoistureThreshold <= 0 || e.Actuation.MoistureThreshold > 65535 {
		errors = append(errors, fmt.Sprintf("actuation.moisture_threshold must be between 1 and 65535, got: %d", e.Actuation.MoistureThreshold))
	}

	if e.Health.Enabled && (e.Health.Port <= 0 || e.Health.Port > 65535) {
		errors = append(errors, fmt.Sprintf("health.port must be between 1 and 65535, got: %d", e.Health.Port))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
