// Package capture runs the on-demand inference loop: it keeps the video
// stream drained and, when a capture has been requested, runs the
// detection pipeline on the newest frame and publishes the results.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plantguard/edge/internal/ai"
	"github.com/plantguard/edge/internal/logger"
	"github.com/plantguard/edge/internal/service"
	"github.com/plantguard/edge/internal/state"
	"github.com/plantguard/edge/internal/video"
)

// DefaultPollInterval bounds the delay between a capture command and the
// capture.
const DefaultPollInterval = 500 * time.Millisecond

// Publisher sends a JSON message to a topic.
type Publisher interface {
	PublishJSON(ctx context.Context, topic string, v interface{}) error
}

// Runner runs inference on one frame.
type Runner interface {
	Run(ctx context.Context, frame image.Image, ts int64) (*ai.Result, error)
}

// Config contains capture loop settings
type Config struct {
	Topic        string
	PollInterval time.Duration
}

// Stats summarise the captures since start.
type Stats struct {
	Captures       uint64    `json:"captures"`
	Failures       uint64    `json:"failures"`
	Payloads       uint64    `json:"payloads"`
	PublishErrors  uint64    `json:"publish_errors"`
	LastCaptureAt  time.Time `json:"last_capture_at,omitempty"`
	LastDetections int       `json:"last_detections"`
	Capturing      bool      `json:"capturing"`
}

// Task is the capture loop service.
type Task struct {
	*service.ServiceBase

	source    video.Source
	runner    Runner
	flag      *state.CaptureFlag
	publisher Publisher
	cfg       Config
	now       func() time.Time

	cancel context.CancelFunc
	done   chan struct{}

	captures      atomic.Uint64
	failures      atomic.Uint64
	payloads      atomic.Uint64
	publishErrors atomic.Uint64
	capturing     atomic.Bool

	mu             sync.RWMutex
	lastCaptureAt  time.Time
	lastDetections int
}

// New creates the capture task. The task owns source and closes it on
// Stop.
func New(source video.Source, runner Runner, flag *state.CaptureFlag, publisher Publisher, cfg Config, log *logger.Logger) *Task {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Task{
		ServiceBase: service.NewServiceBase("capture", log),
		source:      source,
		runner:      runner,
		flag:        flag,
		publisher:   publisher,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Start launches the loop.
func (t *Task) Start(ctx context.Context) error {
	t.GetStatus().SetStatus(service.StatusStarting)

	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})

	// Set before the loop runs; the loop may move it to error.
	t.GetStatus().SetStatus(service.StatusRunning)
	go t.run(runCtx)

	t.LogInfo("Capture task started", "poll_interval", t.cfg.PollInterval, "topic", t.cfg.Topic)
	return nil
}

// Stop ends the loop and closes the video source. A capture in progress
// is allowed to finish until ctx expires.
func (t *Task) Stop(ctx context.Context) error {
	if t.cancel == nil {
		return nil
	}
	if t.GetStatus().GetStatus() != service.StatusError {
		t.GetStatus().SetStatus(service.StatusStopping)
	}
	t.cancel()

	select {
	case <-t.done:
	case <-ctx.Done():
		return fmt.Errorf("capture task did not stop: %w", ctx.Err())
	}

	if err := t.source.Close(); err != nil {
		t.LogWarn("Failed to close video source", "error", err)
	}
	if t.GetStatus().GetStatus() != service.StatusError {
		t.GetStatus().SetStatus(service.StatusStopped)
	}
	t.LogInfo("Capture task stopped")
	return nil
}

// Done is closed when the loop exits, either through Stop or because the
// stream ended.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		frame, err := t.source.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.streamLost(err)
			return
		}

		if t.flag.Consume() {
			t.capture(ctx, frame)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// streamLost is fatal to the task; the sensor loop is unaffected.
func (t *Task) streamLost(err error) {
	err = fmt.Errorf("video stream lost: %w", err)
	t.LogError("Video stream lost, capture task stopping", err)
	t.GetStatus().SetError(err)
	t.PublishEvent(service.EventTypeStreamLost, map[string]interface{}{
		"error": err.Error(),
	})
}

func (t *Task) capture(ctx context.Context, frame *video.Frame) {
	t.capturing.Store(true)
	defer t.capturing.Store(false)

	ts := t.now().Unix()
	t.captures.Add(1)
	t.LogInfo("Capture started", "frame_seq", frame.Seq, "width", frame.Width, "height", frame.Height)

	res, err := t.runner.Run(ctx, frame.Image, ts)
	if err != nil {
		t.failures.Add(1)
		if errors.Is(err, context.Canceled) {
			return
		}
		t.LogError("Inference failed", err, "frame_seq", frame.Seq)
		t.PublishEvent(service.EventTypeCaptureFailed, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	published := 0
	for _, p := range res.Payloads {
		if err := t.publisher.PublishJSON(ctx, t.cfg.Topic, p); err != nil {
			t.publishErrors.Add(1)
			t.LogError("Failed to publish inference result", err, "image_id", p.ImageID)
			continue
		}
		published++
		t.LogInfo("Inference result published",
			"image_id", p.ImageID,
			"prediction", p.Prediction,
			"confidence", p.Confidence,
		)
	}
	t.payloads.Add(uint64(published))

	t.mu.Lock()
	t.lastCaptureAt = t.now()
	t.lastDetections = len(res.Detections)
	t.mu.Unlock()

	t.LogInfo("Capture completed",
		"detections", len(res.Detections),
		"published", published,
		"skipped", res.Skipped,
		"duration_ms", res.Duration.Milliseconds(),
	)
	t.PublishEvent(service.EventTypeCaptureCompleted, map[string]interface{}{
		"detections": len(res.Detections),
		"published":  published,
		"skipped":    res.Skipped,
	})
}

// Stats returns the capture counters.
func (t *Task) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{
		Captures:       t.captures.Load(),
		Failures:       t.failures.Load(),
		Payloads:       t.payloads.Load(),
		PublishErrors:  t.publishErrors.Load(),
		LastCaptureAt:  t.lastCaptureAt,
		LastDetections: t.lastDetections,
		Capturing:      t.capturing.Load(),
	}
}
