//go:build gocv

package video

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/plantguard/edge/internal/logger"
)

// GoCVSource reads frames through OpenCV's VideoCapture.
type GoCVSource struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	logger  *logger.Logger

	mu     sync.Mutex
	seq    uint64
	lastAt time.Time
	closed bool
}

// OpenGoCV opens url (or a device index string) with OpenCV.
func OpenGoCV(url string, log *logger.Logger) (Source, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	capture, err := gocv.OpenVideoCapture(url)
	if err != nil {
		return nil, fmt.Errorf("failed to open video capture: %w", err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video capture did not open")
	}
	// Keep the driver queue short so reads return recent frames.
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	log.Info("OpenCV video capture opened")
	return &GoCVSource{capture: capture, mat: gocv.NewMat(), logger: log}, nil
}

// NextFrame grabs and decodes one frame. A failed read is end of stream.
func (s *GoCVSource) NextFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, io.EOF
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(s.mat, &rgb, gocv.ColorBGRToRGBA)
	img, err := rgb.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}

	s.seq++
	s.lastAt = time.Now()
	b := img.Bounds()
	return &Frame{Image: img, Width: b.Dx(), Height: b.Dy(), Timestamp: s.lastAt, Seq: s.seq}, nil
}

// LastFrameAt returns when the last frame was read.
func (s *GoCVSource) LastFrameAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAt
}

// Close releases the capture device.
func (s *GoCVSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.mat.Close()
	return s.capture.Close()
}
