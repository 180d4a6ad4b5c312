package capture

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantguard/edge/internal/ai"
	"github.com/plantguard/edge/internal/logger"
	"github.com/plantguard/edge/internal/service"
	"github.com/plantguard/edge/internal/state"
	"github.com/plantguard/edge/internal/video"
)

type fakeRunner struct {
	calls  atomic.Int32
	result *ai.Result
	err    error
}

func (r *fakeRunner) Run(ctx context.Context, frame image.Image, ts int64) (*ai.Result, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

type fakePublisher struct {
	mu      sync.Mutex
	topics  []string
	msgs    []interface{}
	failFor map[string]bool
}

func (p *fakePublisher) PublishJSON(ctx context.Context, topic string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pl, ok := v.(ai.Payload); ok && p.failFor[pl.ImageID] {
		return errors.New("broker gone")
	}
	p.topics = append(p.topics, topic)
	p.msgs = append(p.msgs, v)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

// eofSource fails every read with io.EOF.
type eofSource struct{}

func (eofSource) NextFrame(ctx context.Context) (*video.Frame, error) { return nil, io.EOF }
func (eofSource) Close() error                                       { return nil }

func twoPayloads() *ai.Result {
	return &ai.Result{
		Detections: []ai.Detection{{ClassID: 1, Score: 0.9}, {ClassID: 2, Score: 0.8}},
		Payloads: []ai.Payload{
			{ImageID: "100_0", Prediction: "Tomato_healthy", Confidence: 0.9},
			{ImageID: "100_1", Prediction: "Tomato_Late_blight", Confidence: 0.8},
		},
	}
}

func newTask(t *testing.T, src video.Source, runner Runner, pub Publisher) (*Task, *state.CaptureFlag) {
	t.Helper()
	flag := &state.CaptureFlag{}
	task := New(src, runner, flag, pub, Config{Topic: "pizero2w/inference", PollInterval: 10 * time.Millisecond}, logger.NewNopLogger())
	task.now = func() time.Time { return time.Unix(100, 0) }
	return task, flag
}

func stop(t *testing.T, task *Task) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, task.Stop(ctx))
}

func TestTask_CapturePublishesPayloads(t *testing.T) {
	runner := &fakeRunner{result: twoPayloads()}
	pub := &fakePublisher{}
	task, flag := newTask(t, video.NewImageSource(image.NewRGBA(image.Rect(0, 0, 8, 8))), runner, pub)

	require.NoError(t, task.Start(context.Background()))
	defer stop(t, task)

	flag.Request()
	require.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)

	pub.mu.Lock()
	assert.Equal(t, []string{"pizero2w/inference", "pizero2w/inference"}, pub.topics)
	assert.Equal(t, "100_0", pub.msgs[0].(ai.Payload).ImageID)
	pub.mu.Unlock()

	stats := task.Stats()
	assert.EqualValues(t, 1, stats.Captures)
	assert.EqualValues(t, 2, stats.Payloads)
	assert.Equal(t, 2, stats.LastDetections)
	assert.Equal(t, time.Unix(100, 0), stats.LastCaptureAt)
}

func TestTask_NoCaptureWithoutRequest(t *testing.T) {
	runner := &fakeRunner{result: twoPayloads()}
	task, _ := newTask(t, video.NewImageSource(image.NewRGBA(image.Rect(0, 0, 8, 8))), runner, &fakePublisher{})

	require.NoError(t, task.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	stop(t, task)

	assert.Zero(t, runner.calls.Load())
}

func TestTask_RepeatedRequestsCoalesce(t *testing.T) {
	runner := &fakeRunner{result: &ai.Result{}}
	task, flag := newTask(t, video.NewImageSource(image.NewRGBA(image.Rect(0, 0, 8, 8))), runner, &fakePublisher{})

	flag.Request()
	flag.Request()

	require.NoError(t, task.Start(context.Background()))
	require.Eventually(t, func() bool { return runner.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stop(t, task)

	assert.EqualValues(t, 1, runner.calls.Load())
	assert.False(t, flag.Pending())
}

func TestTask_PublishFailureContinues(t *testing.T) {
	runner := &fakeRunner{result: twoPayloads()}
	pub := &fakePublisher{failFor: map[string]bool{"100_0": true}}
	task, flag := newTask(t, video.NewImageSource(image.NewRGBA(image.Rect(0, 0, 8, 8))), runner, pub)

	require.NoError(t, task.Start(context.Background()))
	defer stop(t, task)

	flag.Request()
	require.Eventually(t, func() bool { return task.Stats().Captures == 1 && !task.Stats().Capturing && pub.count() == 1 }, time.Second, 5*time.Millisecond)

	stats := task.Stats()
	assert.EqualValues(t, 1, stats.Payloads)
	assert.EqualValues(t, 1, stats.PublishErrors)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, "100_1", pub.msgs[0].(ai.Payload).ImageID)
}

func TestTask_InferenceFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("session closed")}
	pub := &fakePublisher{}
	task, flag := newTask(t, video.NewImageSource(image.NewRGBA(image.Rect(0, 0, 8, 8))), runner, pub)

	bus := service.NewEventBus(10)
	task.SetEventBus(bus)
	failed := bus.Subscribe(service.EventTypeCaptureFailed)

	require.NoError(t, task.Start(context.Background()))
	defer stop(t, task)

	flag.Request()
	select {
	case ev := <-failed:
		assert.Equal(t, "capture", ev.Source)
		assert.Contains(t, ev.Data["error"], "session closed")
	case <-time.After(time.Second):
		t.Fatal("no capture.failed event")
	}

	assert.Zero(t, pub.count())
	assert.EqualValues(t, 1, task.Stats().Failures)
	assert.Equal(t, service.StatusRunning, task.GetStatus().GetStatus())
}

func TestTask_StreamLostIsFatal(t *testing.T) {
	task, _ := newTask(t, eofSource{}, &fakeRunner{}, &fakePublisher{})

	bus := service.NewEventBus(10)
	task.SetEventBus(bus)
	lost := bus.Subscribe(service.EventTypeStreamLost)

	require.NoError(t, task.Start(context.Background()))

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on end of stream")
	}

	select {
	case ev := <-lost:
		assert.Contains(t, ev.Data["error"], "EOF")
	case <-time.After(time.Second):
		t.Fatal("no stream lost event")
	}

	assert.Equal(t, service.StatusError, task.GetStatus().GetStatus())
	require.ErrorIs(t, task.GetStatus().GetError(), io.EOF)

	stop(t, task)
	assert.Equal(t, service.StatusError, task.GetStatus().GetStatus())
}

func TestTask_StopClosesSource(t *testing.T) {
	src := video.NewImageSource(image.NewRGBA(image.Rect(0, 0, 8, 8)))
	task, _ := newTask(t, src, &fakeRunner{}, &fakePublisher{})

	require.NoError(t, task.Start(context.Background()))
	stop(t, task)

	_, err := src.NextFrame(context.Background())
	assert.ErrorIs(t, err, video.ErrClosed)
	assert.Equal(t, service.StatusStopped, task.GetStatus().GetStatus())
}
