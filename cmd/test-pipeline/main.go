package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/plantguard/edge/internal/ai"
	"github.com/plantguard/edge/internal/config"
	"github.com/plantguard/edge/internal/logger"
	"github.com/plantguard/edge/internal/model"
	"github.com/plantguard/edge/internal/video"
)

func main() {
	var (
		configPath string
		imagePath  string
		showImages bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&imagePath, "image", "", "Image file to run the pipeline on")
	flag.BoolVar(&showImages, "show-images", false, "Print the base64 crops")
	flag.Parse()

	if imagePath == "" {
		fmt.Fprintln(os.Stderr, "usage: test-pipeline -image leaf.jpg [-config config.yaml]")
		os.Exit(2)
	}

	fmt.Println("=== Detection & Classification Pipeline Test ===")
	fmt.Println()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{Level: "debug", Format: "text"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	e := cfg.Edge
	fmt.Printf("Runtime:    %s\n", e.Models.Runtime)
	fmt.Printf("Detector:   %s\n", e.Models.DetectorPath())
	if p := e.Models.ClassifierPath(); p != "" {
		fmt.Printf("Classifier: %s\n", p)
	} else {
		fmt.Println("Classifier: none (detector-only)")
	}
	fmt.Println()

	loader, err := model.NewLoader(e.Models, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open model runtime: %v\n", err)
		os.Exit(1)
	}
	defer loader.Close()

	pipeline, err := ai.Build(ctx, loader, e.Models, e.Inference, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	src, err := video.OpenImage(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open image: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()

	frame, err := src.NextFrame(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Image: %dx%d\n", frame.Width, frame.Height)

	res, err := pipeline.Run(ctx, frame.Image, time.Now().Unix())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Pipeline failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Detections: %d, published: %d, skipped: %d, took %s\n",
		len(res.Detections), len(res.Payloads), res.Skipped, res.Duration.Round(time.Millisecond))
	fmt.Println()

	for _, p := range res.Payloads {
		if !showImages {
			p.ImageData = fmt.Sprintf("<%d bytes base64>", len(p.ImageData))
		}
		out, _ := json.MarshalIndent(p, "", "  ")
		fmt.Println(string(out))
	}
}
