package ai

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/plantguard/edge/internal/logger"
	"github.com/plantguard/edge/internal/model"
)

// ErrEmptyFrame is returned for frames with no pixels.
var ErrEmptyFrame = errors.New("frame has zero width or height")

// PipelineConfig contains the two-stage pipeline parameters
type PipelineConfig struct {
	InputSize    int
	PadValue     uint8
	Decoder      Decoder
	IoUThreshold float64
	MinCropArea  int
	Labels       []string
	JPEGQuality  int
}

// Pipeline runs letterbox, detection, suppression, classification and
// encoding for one frame.
type Pipeline struct {
	cfg        PipelineConfig
	detector   model.Model
	layout     Layout
	classifier *Classifier
	encoder    Encoder
	logger     *logger.Logger
}

// Result is the outcome of one pipeline run.
type Result struct {
	// Detections are the suppression survivors in decoder order. Payload
	// indices refer to positions in this slice.
	Detections []Detection
	Payloads   []Payload
	Skipped    int
	Duration   time.Duration
}

// NewPipeline checks the detector input against the configured canvas
// size. classifier may be nil, in which case the detector's own class and
// score are reported.
func NewPipeline(detector model.Model, classifier *Classifier, cfg PipelineConfig, log *logger.Logger) (*Pipeline, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = DefaultIoUThreshold
	}
	if len(cfg.Labels) == 0 {
		return nil, fmt.Errorf("pipeline needs a label table")
	}

	shape := detector.InputShape()
	layout := LayoutOf(shape)
	want := []int{1, cfg.InputSize, cfg.InputSize, 3}
	if layout == LayoutNCHW {
		want = []int{1, 3, cfg.InputSize, cfg.InputSize}
	}
	if !equalInts(shape, want) {
		return nil, fmt.Errorf("%w: detector expects %v, canvas is %dx%d", model.ErrShapeMismatch, shape, cfg.InputSize, cfg.InputSize)
	}
	if cfg.Decoder.NumClasses == 0 && classifier == nil {
		cfg.Decoder.NumClasses = len(cfg.Labels)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Pipeline{
		cfg:        cfg,
		detector:   detector,
		layout:     layout,
		classifier: classifier,
		encoder:    Encoder{Quality: cfg.JPEGQuality},
		logger:     log,
	}, nil
}

// Run processes one frame captured at unix time ts. Crops that are empty
// or too small are skipped; a failing crop is logged and skipped. Errors
// from the detector stage abort the run.
func (p *Pipeline) Run(ctx context.Context, frame image.Image, ts int64) (*Result, error) {
	start := time.Now()
	b := frame.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrEmptyFrame
	}

	lb := Letterbox(frame, p.cfg.InputSize, p.cfg.PadValue)

	out, err := p.detector.Run(ctx, ImageToTensor(lb.Image, p.layout))
	if err != nil {
		return nil, fmt.Errorf("detector failed: %w", err)
	}

	candidates, err := p.cfg.Decoder.DecodeTensor(out)
	if err != nil {
		return nil, err
	}
	boxes, scores := Boxes(candidates)
	kept := Kept(candidates, Suppress(boxes, scores, p.cfg.IoUThreshold))

	result := &Result{Detections: kept, Payloads: make([]Payload, 0, len(kept))}
	for idx, det := range kept {
		payload, ok, err := p.process(ctx, lb, idx, det, ts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Error("Failed to process detection", "index", idx, "class_id", det.ClassID, "error", err)
			result.Skipped++
			continue
		}
		if !ok {
			result.Skipped++
			continue
		}
		result.Payloads = append(result.Payloads, payload)
	}

	result.Duration = time.Since(start)
	p.logger.Debug("Pipeline run completed",
		"candidates", len(candidates),
		"kept", len(kept),
		"payloads", len(result.Payloads),
		"skipped", result.Skipped,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

func (p *Pipeline) process(ctx context.Context, lb Letterboxed, idx int, det Detection, ts int64) (Payload, bool, error) {
	rect := CropRect(det.Box, lb.Size)
	if rect.Empty() || rect.Dx()*rect.Dy() < p.cfg.MinCropArea {
		p.logger.Debug("Skipping small crop", "index", idx, "rect", rect.String())
		return Payload{}, false, nil
	}
	crop := lb.Image.SubImage(rect)

	var verdict Classification
	if p.classifier != nil {
		c, ok, err := p.classifier.Classify(ctx, crop)
		if err != nil || !ok {
			return Payload{}, ok, err
		}
		verdict = c
	} else {
		if det.ClassID < 0 || det.ClassID >= len(p.cfg.Labels) {
			return Payload{}, false, fmt.Errorf("%w: index %d, %d labels", ErrLabelIndex, det.ClassID, len(p.cfg.Labels))
		}
		verdict = Classification{Label: p.cfg.Labels[det.ClassID], Confidence: det.Score}
	}

	payload, err := p.encoder.Encode(idx, crop, verdict.Label, verdict.Confidence, ts)
	return payload, err == nil, err
}

// Close releases both models.
func (p *Pipeline) Close() error {
	var errs []error
	if err := p.detector.Close(); err != nil {
		errs = append(errs, err)
	}
	if p.classifier != nil {
		if err := p.classifier.model.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
