//go:build !gocv

package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenGoCV_Unavailable(t *testing.T) {
	_, err := OpenGoCV("rtsp://camera/stream", nil)
	assert.ErrorIs(t, err, ErrGoCVUnavailable)
}
