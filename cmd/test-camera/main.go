package main

import (
	"context"
	"flag"
	"fmt"
	"image/jpeg"
	"os"
	"time"

	"github.com/plantguard/edge/internal/camera"
	"github.com/plantguard/edge/internal/config"
	"github.com/plantguard/edge/internal/logger"
	"github.com/plantguard/edge/internal/video"
)

func main() {
	var (
		configPath string
		output     string
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&output, "o", "frame.jpg", "Where to write the captured frame")
	flag.Parse()

	fmt.Println("=== Camera Test ===")
	fmt.Println()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{Level: "info", Format: "text"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cam := cfg.Edge.Camera
	url, err := camera.ResolveURL(cam)
	if err != nil {
		fmt.Fprintf(os.Stderr, "No camera configured: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Stream: %s\n", camera.Redact(url))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("Probing RTSP...")
	res, err := camera.Probe(ctx, url, cam.ProbeTimeout)
	if err != nil {
		fmt.Printf("  ❌ Probe failed: %v\n", err)
	} else {
		fmt.Printf("  ✅ %d media, codecs %v, %s\n", res.Medias, res.Codecs, res.Latency.Round(time.Millisecond))
	}

	fmt.Printf("Grabbing one frame through %s...\n", cam.Source)
	src, err := video.Open(ctx, cam, url, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  ❌ Failed to open stream: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()

	frame, err := src.NextFrame(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  ❌ No frame: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Create(output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", output, err)
		os.Exit(1)
	}
	defer f.Close()
	if err := jpeg.Encode(f, frame.Image, &jpeg.Options{Quality: 90}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode frame: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  ✅ %dx%d frame written to %s\n", frame.Width, frame.Height, output)
}
