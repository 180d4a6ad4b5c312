//go:build !gocv

package video

import (
	"errors"

	"github.com/plantguard/edge/internal/logger"
)

// ErrGoCVUnavailable is returned when the binary was built without the
// gocv tag.
var ErrGoCVUnavailable = errors.New("built without OpenCV support (rebuild with -tags gocv)")

// OpenGoCV is unavailable in this build.
func OpenGoCV(url string, log *logger.Logger) (Source, error) {
	return nil, ErrGoCVUnavailable
}
