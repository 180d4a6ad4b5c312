package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/plantguard/edge/internal/actuation"
	"github.com/plantguard/edge/internal/config"
	"github.com/plantguard/edge/internal/logger"
	"github.com/plantguard/edge/internal/sensors"
	"github.com/plantguard/edge/internal/telemetry"
)

func main() {
	var (
		configPath string
		driver     string
		count      int
		interval   time.Duration
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&driver, "driver", "", "Override sensors.driver (hardware, serial, simulated)")
	flag.IntVar(&count, "n", 1, "Number of readings")
	flag.DurationVar(&interval, "interval", 2*time.Second, "Delay between readings")
	flag.Parse()

	fmt.Println("=== Sensor Test ===")
	fmt.Println("The pump is never switched on by this tool.")
	fmt.Println()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if driver != "" {
		cfg.Edge.Sensors.Driver = driver
	}

	log, err := logger.New(logger.LogConfig{Level: "info", Format: "text"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	suite, err := sensors.Open(cfg.Edge.Sensors, cfg.Edge.Actuation, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open sensors: %v\n", err)
		os.Exit(1)
	}
	defer suite.Close()

	if err := suite.Pump.Set(actuation.Off); err != nil {
		fmt.Printf("  ❌ Pump off failed: %v\n", err)
	}

	threshold := actuation.Threshold(cfg.Edge.Actuation.MoistureThreshold)
	fmt.Printf("Driver: %s, threshold: %d\n\n", suite.Driver, threshold)

	ctx := context.Background()
	for i := 0; i < count; i++ {
		if i > 0 {
			time.Sleep(interval)
		}
		snap := telemetry.Snapshot{Timestamp: time.Now()}

		moisture, err := suite.Moisture.ReadMoisture(ctx)
		if err != nil {
			fmt.Printf("[%d] ❌ Moisture: %v\n", i+1, err)
			continue
		}
		snap.Moisture = moisture

		if temp, hum, err := suite.Climate.ReadClimate(ctx); err != nil {
			fmt.Printf("[%d] ❌ Temperature/humidity: %v\n", i+1, err)
		} else {
			snap.Temperature, snap.Humidity = &temp, &hum
		}

		if suite.Light != nil {
			if light, err := suite.Light.ReadLight(ctx); err != nil {
				fmt.Printf("[%d] ❌ Light: %v\n", i+1, err)
			} else {
				snap.Light = light
			}
		}

		out, _ := json.Marshal(snap)
		fmt.Printf("[%d] ✅ %s (pump would be %s)\n", i+1, out, threshold.Decide(moisture))
	}
}
