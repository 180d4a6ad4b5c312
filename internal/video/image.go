package video

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"time"
)

// ImageSource serves one still image forever. It stands in for a camera
// on the bench and in tooling.
type ImageSource struct {
	img image.Image

	mu     sync.Mutex
	seq    uint64
	lastAt time.Time
	closed bool
}

// OpenImage decodes a JPEG or PNG file.
func OpenImage(path string) (*ImageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return NewImageSource(img), nil
}

// NewImageSource serves img.
func NewImageSource(img image.Image) *ImageSource {
	return &ImageSource{img: img}
}

// NextFrame returns the image stamped with the current time.
func (s *ImageSource) NextFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.seq++
	s.lastAt = time.Now()
	b := s.img.Bounds()
	return &Frame{
		Image:     s.img,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Timestamp: s.lastAt,
		Seq:       s.seq,
	}, nil
}

// LastFrameAt returns when the image was last served.
func (s *ImageSource) LastFrameAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAt
}

// Close makes further NextFrame calls fail.
func (s *ImageSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
