package ai

import (
	"context"
	"fmt"

	"github.com/plantguard/edge/internal/config"
	"github.com/plantguard/edge/internal/logger"
	"github.com/plantguard/edge/internal/model"
)

// Build loads the configured models through loader and assembles the
// pipeline. Without a classifier model the pipeline runs detector-only.
func Build(ctx context.Context, loader model.Loader, models config.ModelsConfig, inf config.InferenceConfig, log *logger.Logger) (*Pipeline, error) {
	detector, err := loader.Load(ctx, models.DetectorPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load detector: %w", err)
	}

	var classifier *Classifier
	if path := models.ClassifierPath(); path != "" {
		m, err := loader.Load(ctx, path)
		if err != nil {
			detector.Close()
			return nil, fmt.Errorf("failed to load classifier: %w", err)
		}
		classifier, err = NewClassifier(m, inf.Labels, inf.MinCropArea)
		if err != nil {
			m.Close()
			detector.Close()
			return nil, err
		}
	}

	dec := Decoder{ConfidenceThreshold: inf.ConfidenceThreshold}
	if inf.PixelBoxes {
		dec.BoxScale = float64(inf.InputSize)
	}

	p, err := NewPipeline(detector, classifier, PipelineConfig{
		InputSize:    inf.InputSize,
		PadValue:     inf.PadValue,
		Decoder:      dec,
		IoUThreshold: inf.IoUThreshold,
		MinCropArea:  inf.MinCropArea,
		Labels:       inf.Labels,
		JPEGQuality:  inf.JPEGQuality,
	}, log)
	if err != nil {
		if classifier != nil {
			classifier.model.Close()
		}
		detector.Close()
		return nil, err
	}
	return p, nil
}
