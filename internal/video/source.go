// Package video provides pull-based frame sources for the capture loop.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/plantguard/edge/internal/config"
	"github.com/plantguard/edge/internal/logger"
)

// ErrClosed is returned by NextFrame after Close.
var ErrClosed = errors.New("video source closed")

// Frame is one decoded picture.
type Frame struct {
	Image     image.Image
	Width     int
	Height    int
	Timestamp time.Time
	Seq       uint64
}

// Source yields frames. NextFrame returns io.EOF once the stream has
// ended; any other error also means no further frames will arrive.
type Source interface {
	NextFrame(ctx context.Context) (*Frame, error)
	Close() error
}

// FreshnessReporter is implemented by sources that can tell when they last
// received a frame.
type FreshnessReporter interface {
	LastFrameAt() time.Time
}

// Open creates the source selected by cfg.Source. url is the resolved
// stream address for stream sources.
func Open(ctx context.Context, cfg config.CameraConfig, url string, log *logger.Logger) (Source, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	switch cfg.Source {
	case "ffmpeg":
		ff, err := NewFFmpeg(cfg.FFmpegPath, log)
		if err != nil {
			return nil, err
		}
		src, err := ff.OpenStream(ctx, StreamConfig{
			Input:     url,
			Width:     cfg.Width,
			Height:    cfg.Height,
			FrameRate: cfg.FrameRate,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	case "gocv":
		return OpenGoCV(url, log)
	case "image":
		src, err := OpenImage(cfg.ImagePath)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown video source %q", cfg.Source)
	}
}
