package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/plantguard/edge/internal/actuation"
	"github.com/plantguard/edge/internal/ai"
	"github.com/plantguard/edge/internal/bridge"
	"github.com/plantguard/edge/internal/camera"
	"github.com/plantguard/edge/internal/capture"
	"github.com/plantguard/edge/internal/config"
	"github.com/plantguard/edge/internal/health"
	"github.com/plantguard/edge/internal/logger"
	"github.com/plantguard/edge/internal/model"
	"github.com/plantguard/edge/internal/sensors"
	"github.com/plantguard/edge/internal/service"
	"github.com/plantguard/edge/internal/state"
	"github.com/plantguard/edge/internal/telemetry"
	"github.com/plantguard/edge/internal/video"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	// Load configuration
	cfgSvc, err := config.NewService(configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgSvc.Get()

	// Initialize logger
	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	cfgSvc.SetLogger(log)

	log.Info("Starting plant monitor",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"device_id", cfg.Edge.DeviceID,
	)

	if err := run(cfgSvc, log); err != nil {
		log.Error("Plant monitor failed", "error", err)
		log.Sync()
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(cfgSvc *config.Service, log *logger.Logger) error {
	cfg := cfgSvc.Get()
	e := cfg.Edge

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Models
	if e.Models.ManifestURL != "" {
		updater := model.NewUpdater(e.Models.ManifestURL, e.Models.Dir, 0, log.Named("updater"))
		updated, err := updater.Update(ctx)
		if err != nil {
			log.Warn("Model update failed, using local models", "error", err)
		} else if len(updated) > 0 {
			log.Info("Models updated", "models", updated)
		}
	}

	loader, err := model.NewLoader(e.Models, log.Named("model"))
	if err != nil {
		return err
	}
	defer loader.Close()

	pipeline, err := ai.Build(ctx, loader, e.Models, e.Inference, log.Named("pipeline"))
	if err != nil {
		return err
	}
	defer pipeline.Close()

	// Sensors and pump
	suite, err := sensors.Open(e.Sensors, e.Actuation, log.Named("sensors"))
	if err != nil {
		return fmt.Errorf("failed to open sensors: %w", err)
	}
	controller := actuation.NewController(suite.Pump, e.Actuation.MoistureThreshold, log.Named("actuation"))

	// Shared state between the bridge and the loops
	captureFlag := &state.CaptureFlag{}
	settings := &state.SettingsStore{}

	transport := bridge.NewMQTTTransport(e.MQTT, e.DeviceID, log.Named("mqtt"))
	br := bridge.New(transport, e.Topics, captureFlag, settings, e.MQTT.InboundBuffer, log)

	svcMgr := service.NewManager(log)
	healthMgr := health.NewManager(e.Health, svcMgr, log)
	sensorTask := telemetry.New(suite, controller, settings, br, telemetry.Config{
		Topic:       e.Topics.SensorReading,
		Interval:    e.Sensors.Interval,
		IntervalKey: e.Sensors.IntervalKey,
	}, log)

	// Video. A camera that cannot be opened disables capture only.
	var captureTask *capture.Task
	streamURL := ""
	if e.Camera.Source != "image" {
		streamURL, err = camera.ResolveURL(e.Camera)
		if err != nil {
			suite.Close()
			return err
		}
	}
	src, err := video.Open(ctx, e.Camera, streamURL, log.Named("video"))
	if err != nil {
		log.Error("Failed to open video source, capture disabled",
			"source", e.Camera.Source,
			"url", camera.Redact(streamURL),
			"error", err,
		)
	} else {
		captureTask = capture.New(src, pipeline, captureFlag, br, capture.Config{
			Topic:        e.Topics.Inference,
			PollInterval: e.Capture.PollInterval,
		}, log)
	}

	registerHealth(healthMgr, svcMgr, cfg, br, src, loader, streamURL)
	healthMgr.RegisterStatus("sensors", func() interface{} {
		status := map[string]interface{}{
			"pump":      controller.State().String(),
			"threshold": controller.Threshold(),
			"stats":     sensorTask.Stats(),
		}
		if snap, ok := sensorTask.Last(); ok {
			status["last"] = snap
			status["last_at"] = snap.Timestamp
		}
		return status
	})
	healthMgr.RegisterStatus("bridge", func() interface{} { return br.Stats() })
	healthMgr.RegisterStatus("settings", func() interface{} {
		if s := settings.Load(); s != nil {
			return map[string]interface{}{"values": s.Values(), "updated": s.Updated}
		}
		return nil
	})
	healthMgr.RegisterStatus("capture", func() interface{} {
		if captureTask == nil {
			return map[string]interface{}{"enabled": false}
		}
		return map[string]interface{}{
			"enabled": true,
			"pending": captureFlag.Pending(),
			"stats":   captureTask.Stats(),
		}
	})

	// Shutdown runs in reverse: capture, sensors (pump off), health,
	// bridge last.
	svcMgr.Register(br)
	svcMgr.Register(healthMgr)
	svcMgr.Register(sensorTask)
	if captureTask != nil {
		svcMgr.Register(captureTask)
	}

	cfgSvc.Watch(func(ctx context.Context, oldCfg, newCfg *config.Config) error {
		diff := cmp.Diff(oldCfg.Edge, newCfg.Edge,
			cmpopts.IgnoreFields(config.MQTTConfig{}, "Password"),
			cmpopts.IgnoreFields(config.CameraConfig{}, "Password"),
		)
		if diff != "" {
			log.Warn("Configuration changed on disk, restart to apply", "diff", diff)
		}
		return nil
	})

	if err := svcMgr.Start(ctx); err != nil {
		shutdown(svcMgr, log)
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			log.Info("Reloading configuration")
			if err := cfgSvc.Reload(ctx); err != nil {
				log.Error("Configuration reload failed", "error", err)
			}
			continue
		}
		log.Info("Received shutdown signal", "signal", sig)
		break
	}

	return shutdown(svcMgr, log)
}

func shutdown(svcMgr *service.Manager, log *logger.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return nil
}

func registerHealth(h *health.Manager, svcMgr *service.Manager, cfg *config.Config, br *bridge.Bridge, src video.Source, loader model.Loader, streamURL string) {
	e := cfg.Edge

	h.RegisterChecker(&health.SystemChecker{})
	h.RegisterChecker(health.NewBrokerChecker(br))
	h.RegisterChecker(health.NewServicesChecker(svcMgr))

	if fr, ok := src.(video.FreshnessReporter); ok {
		h.RegisterChecker(health.NewVideoChecker(fr, e.Camera.StaleAfter))
	}

	if svc, ok := loader.(health.ModelService); ok {
		h.RegisterChecker(health.NewModelsChecker(nil, svc))
	} else {
		files := []string{e.Models.DetectorPath()}
		if p := e.Models.ClassifierPath(); p != "" {
			files = append(files, p)
		}
		h.RegisterChecker(health.NewModelsChecker(files, nil))
	}

	if strings.HasPrefix(streamURL, "rtsp://") || strings.HasPrefix(streamURL, "rtsps://") {
		h.RegisterChecker(health.NewRTSPChecker(streamURL, e.Camera.ProbeTimeout))
	}
}
