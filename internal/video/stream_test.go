package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantguard/edge/internal/config"
)

func rgbFrame(w, h int, r, g, b byte) []byte {
	buf := make([]byte, 0, w*h*3)
	for i := 0; i < w*h; i++ {
		buf = append(buf, r, g, b)
	}
	return buf
}

func TestRGB24ToRGBA(t *testing.T) {
	img := rgb24ToRGBA([]byte{1, 2, 3, 4, 5, 6}, 2, 1)
	assert.Equal(t, image.Rect(0, 0, 2, 1), img.Bounds())
	assert.Equal(t, color.RGBA{1, 2, 3, 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{4, 5, 6, 255}, img.RGBAAt(1, 0))
}

func TestRawVideoArgs(t *testing.T) {
	args := rawVideoArgs(StreamConfig{Input: "rtsp://cam/stream", Width: 640, Height: 480, FrameRate: 5})
	assert.Contains(t, args, "-rtsp_transport")
	assert.Contains(t, args, "fps=5,scale=640:480")
	assert.Equal(t, "-", args[len(args)-1])

	args = rawVideoArgs(StreamConfig{Input: "/dev/video0", Width: 320, Height: 240})
	assert.NotContains(t, args, "-rtsp_transport")
	assert.Contains(t, args, "scale=320:240")
}

func TestStreamSource_YieldsFramesThenEOF(t *testing.T) {
	data := append(rgbFrame(2, 2, 10, 20, 30), rgbFrame(2, 2, 40, 50, 60)...)
	src := newStreamSource(io.NopCloser(bytes.NewReader(data)), 2, 2, nil, nil, nil)
	defer src.Close()

	ctx := context.Background()
	var last *Frame
	for {
		f, err := src.NextFrame(ctx)
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
		last = f
	}

	// The reader may overtake the consumer; the newest frame always wins.
	require.NotNil(t, last)
	assert.Equal(t, uint64(2), last.Seq)
	assert.Equal(t, color.RGBA{40, 50, 60, 255}, last.Image.(*image.RGBA).RGBAAt(1, 1))
	assert.False(t, src.LastFrameAt().IsZero())
}

func TestStreamSource_TruncatedFrameIsEndOfStream(t *testing.T) {
	src := newStreamSource(io.NopCloser(bytes.NewReader([]byte{1, 2, 3})), 2, 2, nil, nil, nil)
	defer src.Close()

	_, err := src.NextFrame(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamSource_DecoderErrorWins(t *testing.T) {
	r, w := io.Pipe()
	boom := errors.New("connection refused")
	src := newStreamSource(r, 2, 2, nil, func() error { return boom }, nil)
	defer src.Close()

	w.CloseWithError(errors.New("pipe broken"))
	_, err := src.NextFrame(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestStreamSource_WaitsForFrames(t *testing.T) {
	r, w := io.Pipe()
	src := newStreamSource(r, 1, 1, nil, nil, nil)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := src.NextFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() { _, _ = w.Write([]byte{9, 8, 7}) }()
	f, err := src.NextFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{9, 8, 7, 255}, f.Image.(*image.RGBA).RGBAAt(0, 0))
}

func TestStreamSource_Close(t *testing.T) {
	r, _ := io.Pipe()
	cancelled := false
	src := newStreamSource(r, 1, 1, func() { cancelled = true }, nil, nil)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.True(t, cancelled)

	_, err := src.NextFrame(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestImageSource(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	path := filepath.Join(t.TempDir(), "leaf.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	src, err := OpenImage(path)
	require.NoError(t, err)

	first, err := src.NextFrame(context.Background())
	require.NoError(t, err)
	second, err := src.NextFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, first.Width)
	assert.Equal(t, 6, first.Height)
	assert.Greater(t, second.Seq, first.Seq)

	require.NoError(t, src.Close())
	_, err = src.NextFrame(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = OpenImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	_, err := Open(context.Background(), config.CameraConfig{Source: "carrier-pigeon"}, "", nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "leaf.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	require.NoError(t, f.Close())

	src, err := Open(context.Background(), config.CameraConfig{Source: "image", ImagePath: path}, "", nil)
	require.NoError(t, err)
	_, ok := src.(FreshnessReporter)
	assert.True(t, ok)
	require.NoError(t, src.Close())
}
