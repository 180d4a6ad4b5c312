package state

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaptureFlag_ConsumeWithoutRequest(t *testing.T) {
	var f CaptureFlag
	assert.False(t, f.Consume())
	assert.False(t, f.Pending())
}

func TestCaptureFlag_TwoRequestsOneCapture(t *testing.T) {
	var f CaptureFlag
	f.Request()
	f.Request()

	assert.True(t, f.Pending())
	assert.True(t, f.Consume())
	assert.False(t, f.Consume())
	assert.False(t, f.Pending())
}

func TestCaptureFlag_RequestAfterConsume(t *testing.T) {
	var f CaptureFlag
	f.Request()
	assert.True(t, f.Consume())

	f.Request()
	assert.True(t, f.Consume())
}

func TestCaptureFlag_ConcurrentConsumersSeeOneRequest(t *testing.T) {
	for round := 0; round < 100; round++ {
		var f CaptureFlag
		f.Request()

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if f.Consume() {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load(), "round %d", round)
	}
}
