package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/plantguard/edge/internal/logger"
)

// StreamSource reads packed RGB24 frames from a pipe. A reader goroutine
// keeps only the newest frame, so a slow consumer never sees stale video.
type StreamSource struct {
	r      io.ReadCloser
	width  int
	height int
	cancel context.CancelFunc
	wait   func() error
	logger *logger.Logger

	mu       sync.Mutex
	latest   *Frame
	lastSeen uint64
	lastAt   time.Time
	err      error
	notify   chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func newStreamSource(r io.ReadCloser, width, height int, cancel context.CancelFunc, wait func() error, log *logger.Logger) *StreamSource {
	if log == nil {
		log = logger.NewNopLogger()
	}
	s := &StreamSource{
		r:      r,
		width:  width,
		height: height,
		cancel: cancel,
		wait:   wait,
		logger: log,
		notify: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *StreamSource) readLoop() {
	defer close(s.done)

	buf := make([]byte, s.width*s.height*3)
	var seq uint64
	for {
		if _, err := io.ReadFull(s.r, buf); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = fmt.Errorf("truncated frame: %w", io.EOF)
			}
			if s.wait != nil {
				if werr := s.wait(); werr != nil && !errors.Is(err, io.EOF) {
					err = werr
				} else if werr != nil {
					s.logger.Warn("Video decoder exited", "error", werr)
				}
			}
			s.finish(err)
			return
		}

		seq++
		now := time.Now()
		frame := &Frame{
			Image:     rgb24ToRGBA(buf, s.width, s.height),
			Width:     s.width,
			Height:    s.height,
			Timestamp: now,
			Seq:       seq,
		}

		s.mu.Lock()
		s.latest = frame
		s.lastAt = now
		close(s.notify)
		s.notify = make(chan struct{})
		s.mu.Unlock()
	}
}

func (s *StreamSource) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
	close(s.notify)
	s.notify = make(chan struct{})
}

// NextFrame returns the newest frame not returned before, waiting for one
// if necessary. After the stream ends it returns io.EOF or the decoder
// error.
func (s *StreamSource) NextFrame(ctx context.Context) (*Frame, error) {
	for {
		s.mu.Lock()
		if s.latest != nil && s.latest.Seq != s.lastSeen {
			f := s.latest
			s.lastSeen = f.Seq
			s.mu.Unlock()
			return f, nil
		}
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return nil, err
		}
		wait := s.notify
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// LastFrameAt returns when the last frame was decoded.
func (s *StreamSource) LastFrameAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAt
}

// Close stops the decoder and waits for the reader to exit.
func (s *StreamSource) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.err == nil {
			s.err = ErrClosed
		}
		s.mu.Unlock()
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.r.Close()
		<-s.done
	})
	return nil
}

func rgb24ToRGBA(buf []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i+2 < len(buf); i, j = i+3, j+4 {
		img.Pix[j] = buf[i]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
